// Package transport implements the AIP transport-security pipeline: payload
// signature verification, the timestamp gate, and nonce replay protection.
//
// Checks run in a fixed order: signature, then timestamp, then nonce
// reservation. A signature failure is fatal and reported as such; timestamp
// and nonce failures carry distinct error kinds so operators can tell clock
// drift from replay. Only a payload that passes all three checks reserves
// its nonce, so a rejected payload can be retried verbatim once its defect
// is fixed.
package transport

import (
	"context"
	"time"

	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/protocol"
)

// KeyLookup resolves a principal name to its registered verification key.
// The bidder registry implements this.
type KeyLookup interface {
	PublicKey(name string) (crypto.PublicKey, bool)
}

// Verifier runs the transport-security checks on inbound signed payloads.
type Verifier struct {
	keys    KeyLookup
	nonces  NonceStore
	maxSkew time.Duration

	now func() time.Time
}

// NewVerifier creates a Verifier with the given key source, nonce store and
// maximum clock skew.
func NewVerifier(keys KeyLookup, nonces NonceStore, maxSkew time.Duration) *Verifier {
	return &Verifier{keys: keys, nonces: nonces, maxSkew: maxSkew, now: time.Now}
}

// Verify checks a payload claimed to be signed by principal. On success the
// payload's nonce is reserved and cannot be replayed within the TTL. A
// failed check leaves no trace: the nonce stays unreserved.
func (v *Verifier) Verify(ctx context.Context, principal string, payload map[string]any) error {
	key, ok := v.keys.PublicKey(principal)
	if !ok {
		return protocol.Errorf(protocol.KindSignatureInvalid, "no key registered for %q", principal)
	}
	if err := crypto.VerifyPayload(key, payload); err != nil {
		return protocol.Errorf(protocol.KindSignatureInvalid, "%v", err)
	}

	tsRaw, _ := payload["timestamp"].(string)
	ts, err := ParseWithinSkew(tsRaw, v.now(), v.maxSkew)
	if err != nil {
		return err
	}

	nonce, _ := payload["nonce"].(string)
	return v.nonces.Reserve(ctx, principal, nonce, ts)
}
