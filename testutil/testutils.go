package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/registry"
)

// RosterEntry describes one bidder in a test roster.
type RosterEntry struct {
	Name     string
	Pools    []string
	Endpoint string
}

// NewKeyedRegistry builds a registry with a fresh Ed25519 key pair per entry
// and returns the private keys by bidder name for signing test payloads.
// Entries without an endpoint get a synthetic one derived from the name.
func NewKeyedRegistry(entries ...RosterEntry) (*registry.Registry, map[string]crypto.PrivateKey, error) {
	reg := registry.New()
	keys := make(map[string]crypto.PrivateKey, len(entries))
	for _, entry := range entries {
		publicKey, privateKey, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, nil, fmt.Errorf("generating key for %s: %w", entry.Name, err)
		}
		endpoint := entry.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("http://%s.bidders.test/aip/invite", entry.Name)
		}
		if err := reg.Add(&registry.Bidder{
			Name:          entry.Name,
			Endpoint:      endpoint,
			Pools:         entry.Pools,
			Key:           publicKey,
			TimeoutMillis: registry.DefaultTimeoutMillis,
		}); err != nil {
			return nil, nil, err
		}
		keys[entry.Name] = privateKey
	}
	return reg, keys, nil
}

// PayloadOption mutates a payload before it is signed.
type PayloadOption func(map[string]any)

// WithField sets one member of the payload.
func WithField(key string, value any) PayloadOption {
	return func(payload map[string]any) {
		payload[key] = value
	}
}

// WithoutField removes a member from the payload.
func WithoutField(key string) PayloadOption {
	return func(payload map[string]any) {
		delete(payload, key)
	}
}

// WithNonce overrides the generated nonce, for replay tests.
func WithNonce(nonce string) PayloadOption {
	return WithField("nonce", nonce)
}

// WithTimestamp overrides the generated timestamp, for clock-skew tests.
func WithTimestamp(ts time.Time) PayloadOption {
	return WithField("timestamp", ts.UTC().Format(time.RFC3339Nano))
}

// SignedBid builds a bid payload with a fresh nonce and current timestamp,
// applies the options, and signs the result with the given key.
func SignedBid(key crypto.PrivateKey, auctionID, bidder, price, pricingModel string, options ...PayloadOption) (map[string]any, error) {
	payload := map[string]any{
		"auction_id":    auctionID,
		"bidder":        bidder,
		"price":         price,
		"pricing_model": pricingModel,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		"nonce":         uuid.NewString(),
	}
	return Sign(key, payload, options...)
}

// SignedEvent builds an event callback payload with a fresh nonce and
// current timestamp, applies the options, and signs the result.
func SignedEvent(key crypto.PrivateKey, auctionID, serveToken, bidder string, options ...PayloadOption) (map[string]any, error) {
	payload := map[string]any{
		"auction_id":  auctionID,
		"serve_token": serveToken,
		"bidder":      bidder,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"nonce":       uuid.NewString(),
	}
	return Sign(key, payload, options...)
}

// Sign applies the options and attaches the payload signature. Options run
// before signing so the signature covers their changes.
func Sign(key crypto.PrivateKey, payload map[string]any, options ...PayloadOption) (map[string]any, error) {
	for _, option := range options {
		option(payload)
	}
	signature, err := crypto.SignPayload(key, payload)
	if err != nil {
		return nil, err
	}
	payload[crypto.SignatureField] = signature
	return payload, nil
}

// ContextPayload builds a platform context request body. The platform
// surface is unsigned, so options apply but no signature is attached.
func ContextPayload(requestID, queryText string, options ...PayloadOption) map[string]any {
	payload := map[string]any{
		"request_id": requestID,
		"session_id": "sess-test",
		"query_text": queryText,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, option := range options {
		option(payload)
	}
	return payload
}
