package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON returns the RFC 8785 (JCS) canonical encoding of v: object
// keys sorted lexicographically at every nesting level, numbers in shortest
// round-trip form, minimal string escaping, no insignificant whitespace.
// Two semantically equal values always canonicalize to identical bytes,
// which is what makes detached signatures over JSON payloads possible.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not marshal payload: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("could not canonicalize payload: %w", err)
	}
	return out, nil
}

// CanonicalizeBytes canonicalizes an already-encoded JSON document.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	return jcs.Transform(raw)
}

// CanonicalDigest returns the SHA-256 hex digest of the canonical encoding
// of v. Used for log correlation, never for signing; signatures cover the
// canonical bytes directly.
func CanonicalDigest(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
