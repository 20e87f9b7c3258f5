package protocol

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PricingModel identifies how a bid is priced. Models form a strict selection
// priority: CPA (cost per action) outranks CPC (cost per click), which
// outranks CPX (cost per exposure), regardless of price.
type PricingModel string

const (
	PricingCPA PricingModel = "CPA"
	PricingCPC PricingModel = "CPC"
	PricingCPX PricingModel = "CPX"
)

// Priority returns the selection precedence of the model; higher wins.
// Unknown models rank below every valid one.
func (m PricingModel) Priority() int {
	switch m {
	case PricingCPA:
		return 3
	case PricingCPC:
		return 2
	case PricingCPX:
		return 1
	default:
		return 0
	}
}

// Valid reports whether m is one of the three recognized pricing models.
func (m PricingModel) Valid() bool {
	return m.Priority() > 0
}

// ParsePricingModel normalizes a wire value into a PricingModel.
func ParsePricingModel(s string) (PricingModel, bool) {
	m := PricingModel(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Auth carries the platform's anti-replay material on a context request. The
// server persists it with the ledger record; platform identity is established
// out-of-band, so the auth block passes through opaquely.
type Auth struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature,omitempty"`
}

// Pricing carries optional price constraints on a context request.
// CPXFloor is a two-decimal string, normalized at intake.
type Pricing struct {
	CPXFloor string `json:"cpx_floor,omitempty"`
}

// ContextRequest is the inbound platform intent. RequestID doubles as the
// auction id and must be globally unique per platform; a reused id is a
// conflict. Pools, when present, override the keyword classifier. Payload
// retains the request exactly as received for ledger persistence.
type ContextRequest struct {
	RequestID  string         `json:"request_id"`
	SessionID  string         `json:"session_id"`
	PlatformID string         `json:"platform_id"`
	QueryText  string         `json:"query_text"`
	Locale     string         `json:"locale,omitempty"`
	Geo        string         `json:"geo,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Auth       *Auth          `json:"auth,omitempty"`
	Surface    string         `json:"surface,omitempty"`
	Pools      []string       `json:"pools,omitempty"`
	Pricing    *Pricing       `json:"pricing,omitempty"`
	Ext        map[string]any `json:"ext,omitempty"`

	Payload map[string]any `json:"-"`
}

// BidResponse is a bidder's signed answer to a context fanout, parsed from
// the raw payload after transport-security checks. Payload retains the
// payload exactly as received; the ledger persists that form so that stored
// bids remain verifiable.
type BidResponse struct {
	AuctionID    string          `json:"auction_id"`
	Bidder       string          `json:"bidder"`
	Price        decimal.Decimal `json:"price"`
	PricingModel PricingModel    `json:"pricing_model"`
	Creative     map[string]any  `json:"creative,omitempty"`
	TTLMillis    int64           `json:"ttl_ms,omitempty"`
	Timestamp    string          `json:"timestamp"`
	Nonce        string          `json:"nonce"`

	Payload map[string]any `json:"-"`
}

// EventType identifies an ad-event callback. The short forms are the
// canonical path segments; the long forms remain accepted on the legacy
// body-typed endpoint.
type EventType string

const (
	EventCPX EventType = "cpx"
	EventCPC EventType = "cpc"
	EventCPA EventType = "cpa"
)

// ParseEventType normalizes a wire value, accepting the canonical short
// forms plus the legacy long and bare spellings.
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpx", "cpx_exposure", "exposure":
		return EventCPX, true
	case "cpc", "cpc_click", "click":
		return EventCPC, true
	case "cpa", "cpa_conversion", "conversion":
		return EventCPA, true
	}
	return "", false
}

// EventCallback is a signed ad-event report. Bidder names the registered
// principal whose key signed the payload; ServeToken must match the token
// minted when the auction settled.
type EventCallback struct {
	AuctionID  string    `json:"auction_id"`
	ServeToken string    `json:"serve_token"`
	EventType  EventType `json:"event_type"`
	Bidder     string    `json:"bidder"`
	Nonce      string    `json:"nonce"`
	Timestamp  string    `json:"timestamp"`

	Payload map[string]any `json:"-"`
}

// Winner describes the selected bid on an auction result. Price and
// ClearingPrice are four-decimal strings.
type Winner struct {
	Bidder        string         `json:"bidder"`
	Price         string         `json:"price"`
	PricingModel  PricingModel   `json:"pricing_model"`
	ClearingPrice string         `json:"clearing_price"`
	Creative      map[string]any `json:"creative,omitempty"`
}

// Render is the display block assembled from the winning creative. Label is
// always "[Ad]"; absent creative fields are omitted.
type Render struct {
	Label string `json:"label"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	CTA   string `json:"cta,omitempty"`
	URL   string `json:"url,omitempty"`
}

// AuctionResult is returned to the platform when the window closes. Exactly
// one of NoBid or Winner is set. Persisted is only present (false) when the
// result could not be written to the ledger after retries.
type AuctionResult struct {
	AuctionID  string  `json:"auction_id"`
	ServeToken string  `json:"serve_token"`
	TTLMillis  int64   `json:"ttl_ms"`
	NoBid      bool    `json:"no_bid,omitempty"`
	Winner     *Winner `json:"winner,omitempty"`
	Render     *Render `json:"render,omitempty"`
	Persisted  *bool   `json:"persisted,omitempty"`
}

// RecommendationRequest enters the weave coordinator.
type RecommendationRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Query     string `json:"query,omitempty"`
}

// RecommendationStatus is the polling state of a weave recommendation.
type RecommendationStatus string

const (
	RecommendationInProgress RecommendationStatus = "in_progress"
	RecommendationCompleted  RecommendationStatus = "completed"
	RecommendationFailed     RecommendationStatus = "failed"
)

// CreativeMetadata is the structured companion to weave_content.
type CreativeMetadata struct {
	BrandName   string `json:"brand_name"`
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// RecommendationResponse is returned from the weave surface. Completed
// responses carry content and metadata; in-progress responses carry the
// retry hint; failed responses carry the error string.
type RecommendationResponse struct {
	Status           RecommendationStatus `json:"status"`
	WeaveContent     string               `json:"weave_content,omitempty"`
	ServeToken       string               `json:"serve_token,omitempty"`
	CreativeMetadata *CreativeMetadata    `json:"creative_metadata,omitempty"`
	RetryAfterMillis int64                `json:"retry_after_ms,omitempty"`
	Message          string               `json:"message,omitempty"`
	Error            string               `json:"error,omitempty"`
}
