package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

// SignatureField is the payload member carrying the detached signature.
// It is excluded from the bytes the signature covers.
const SignatureField = "signature"

var (
	// ErrSignatureMissing indicates the payload carries no signature member.
	ErrSignatureMissing = errors.New("signature missing")
	// ErrSignatureInvalid indicates the signature does not verify against
	// the canonical payload bytes.
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// SignedBytes returns the canonical JSON bytes of payload with the signature
// member removed. These are the exact bytes signatures are computed over.
func SignedBytes(payload map[string]any) ([]byte, error) {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == SignatureField {
			continue
		}
		stripped[k] = v
	}
	return CanonicalJSON(stripped)
}

// SignPayload computes the base64 Ed25519 signature over the canonical bytes
// of payload (signature member excluded). The caller is responsible for
// attaching the returned value to the payload before sending it.
func SignPayload(sk PrivateKey, payload map[string]any) (string, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return "", errors.New("invalid private key size")
	}
	data, err := SignedBytes(payload)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(ed25519.PrivateKey(sk), data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPayload checks the signature member of payload against pk over the
// canonical bytes of the remaining members.
func VerifyPayload(pk PublicKey, payload map[string]any) error {
	raw, _ := payload[SignatureField].(string)
	if raw == "" {
		return ErrSignatureMissing
	}
	sig, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("signature is not base64: %w", err)
	}
	data, err := SignedBytes(payload)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pk), data, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
