// Package crypto provides the signing primitives for AIP transport security.
//
// All signed AIP payloads follow the same scheme: the payload is a JSON
// object carrying a detached "signature" member, and the signature is
// Ed25519 over the RFC 8785 (JCS) canonical encoding of the object with the
// signature member removed. Canonicalization guarantees that any two
// semantically equal encodings of the payload produce byte-identical input
// to the signature, so intermediaries may re-serialize payloads freely.
//
// The package exposes three layers:
//
//   - Key types: PublicKey and PrivateKey wrap Ed25519 key material with
//     hex and PEM (PKIX / PKCS#8) serialization. Bidder keys are configured
//     in PEM form.
//   - Canonical codec: CanonicalJSON and CanonicalizeBytes produce the JCS
//     form of a value; CanonicalDigest derives a SHA-256 correlation digest.
//   - Payload signing: SignPayload and VerifyPayload implement the
//     sign-over-canonical-bytes scheme used by bid responses and event
//     callbacks.
//
// The codec is pure: it embeds no timestamps, randomness, or locale-dependent
// formatting.
package crypto
