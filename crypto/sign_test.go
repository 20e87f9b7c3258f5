package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONKeyOrderInvariance(t *testing.T) {
	a, err := CanonicalizeBytes([]byte(`{"b":1,"a":{"y":2,"x":3}}`))
	require.NoError(t, err)
	b, err := CanonicalizeBytes([]byte(`{"a":{"x":3,"y":2},"b":1}`))
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, `{"a":{"x":3,"y":2},"b":1}`, string(a))
}

func TestCanonicalJSONNumberFormatInvariance(t *testing.T) {
	a, err := CanonicalizeBytes([]byte(`{"price":1.50,"count":1e2}`))
	require.NoError(t, err)
	b, err := CanonicalizeBytes([]byte(`{"count":100,"price":1.5}`))
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestCanonicalJSONUnicodeInvariance(t *testing.T) {
	// Escaped and literal spellings of the same string canonicalize
	// identically, and non-ASCII keys sort by UTF-16 code units.
	a, err := CanonicalizeBytes([]byte(`{"café":"über","z":1}`))
	require.NoError(t, err)
	b, err := CanonicalizeBytes([]byte(`{"z":1,"café":"über"}`))
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, `{"café":"über","z":1}`, string(a))
}

func TestCanonicalJSONRoundTripStable(t *testing.T) {
	once, err := CanonicalizeBytes([]byte(`{"z":[1,2,{"b":true,"a":null}],"a":"text"}`))
	require.NoError(t, err)
	twice, err := CanonicalizeBytes(once)
	require.NoError(t, err)

	require.Equal(t, once, twice)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{
		"auction_id": "ctx_1",
		"bidder":     "alpha",
		"price":      1.5,
		"nonce":      "n-1",
	}

	sig, err := SignPayload(priv, payload)
	require.NoError(t, err)
	payload[SignatureField] = sig

	require.NoError(t, VerifyPayload(pub, payload))
}

func TestVerifyRejectsMutatedPayload(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{"auction_id": "ctx_1", "price": 1.5}
	sig, err := SignPayload(priv, payload)
	require.NoError(t, err)
	payload[SignatureField] = sig

	payload["price"] = 1.6
	require.ErrorIs(t, VerifyPayload(pub, payload), ErrSignatureInvalid)
}

func TestVerifyRejectsMutatedSignature(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := map[string]any{"auction_id": "ctx_1"}
	sig, err := SignPayload(priv, payload)
	require.NoError(t, err)

	rawSig, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	rawSig[0] ^= 0x01
	payload[SignatureField] = base64.StdEncoding.EncodeToString(rawSig)

	require.ErrorIs(t, VerifyPayload(pub, payload), ErrSignatureInvalid)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	err = VerifyPayload(pub, map[string]any{"auction_id": "ctx_1"})
	require.ErrorIs(t, err, ErrSignatureMissing)
}

func TestVerifyIgnoresEncodingOfSignedFields(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := SignPayload(priv, map[string]any{"price": 2.50, "bidder": "alpha"})
	require.NoError(t, err)

	// Same payload, different field order and number spelling.
	reordered := map[string]any{"bidder": "alpha", "price": 2.5, SignatureField: sig}
	require.NoError(t, VerifyPayload(pub, reordered))
}

func TestPEMRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	pubPEM, err := pub.MarshalPEM()
	require.NoError(t, err)
	parsedPub, err := NewPublicKeyFromPEM(pubPEM)
	require.NoError(t, err)
	require.True(t, pub.Equal(parsedPub))

	privPEM, err := priv.MarshalPEM()
	require.NoError(t, err)
	parsedPriv, err := NewPrivateKeyFromPEM(privPEM)
	require.NoError(t, err)
	require.Equal(t, priv.Bytes(), parsedPriv.Bytes())

	derived, err := parsedPriv.PublicKey()
	require.NoError(t, err)
	require.True(t, pub.Equal(derived))
}

func TestNewPublicKeyFromPEMRejectsGarbage(t *testing.T) {
	_, err := NewPublicKeyFromPEM("not a pem block")
	require.Error(t, err)
}
