package protocol

import (
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTTLMillis is the result TTL when the winning bid names none.
	DefaultTTLMillis = 60000
	// MinTTLMillis is the floor applied to winner-supplied TTLs.
	MinTTLMillis = 1000
	// RetryAfterMillis is the polling hint on in-progress recommendations.
	RetryAfterMillis = 150
	// AdLabel prefixes every rendered creative.
	AdLabel = "[Ad]"
)

// FormatPrice renders a monetary amount as a four-decimal string, the
// precision used for winner prices and clearing prices.
func FormatPrice(d decimal.Decimal) string {
	return d.Round(4).StringFixed(4)
}

// NormalizeCPXFloor renders a floor value as a two-decimal string.
func NormalizeCPXFloor(raw string) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", Errorf(KindSchemaInvalid, "cpx_floor must be numeric: %v", err)
	}
	return d.Round(2).StringFixed(2), nil
}

// ResolveTTL applies the default and floor to a winner-supplied TTL.
func ResolveTTL(ttlMillis int64) int64 {
	if ttlMillis <= 0 {
		return DefaultTTLMillis
	}
	if ttlMillis < MinTTLMillis {
		return MinTTLMillis
	}
	return ttlMillis
}

// BuildRender assembles the display block from a winning creative. Both
// "deeplink" and "url" are accepted for the link target; a creative-supplied
// label overrides the default ad marker.
func BuildRender(creative map[string]any) *Render {
	r := &Render{Label: AdLabel}
	if creative == nil {
		return r
	}
	if label, ok := creative["label"].(string); ok && label != "" {
		r.Label = label
	}
	r.Title, _ = creative["title"].(string)
	r.Body, _ = creative["body"].(string)
	r.CTA, _ = creative["cta"].(string)
	if url, ok := creative["deeplink"].(string); ok && url != "" {
		r.URL = url
	} else {
		r.URL, _ = creative["url"].(string)
	}
	return r
}

// ParseContextRequest converts an inbound platform payload into a typed
// ContextRequest. The raw payload is retained for ledger persistence;
// pricing floors are normalized to two decimals at intake. Vendor
// extensions under ext pass through untouched.
func ParseContextRequest(payload map[string]any) (*ContextRequest, error) {
	req := &ContextRequest{Payload: payload}

	if req.RequestID, _ = payload["request_id"].(string); req.RequestID == "" {
		return nil, Errorf(KindSchemaInvalid, "request_id is required")
	}
	if req.SessionID, _ = payload["session_id"].(string); req.SessionID == "" {
		return nil, Errorf(KindSchemaInvalid, "session_id is required")
	}
	if req.Timestamp, _ = payload["timestamp"].(string); req.Timestamp == "" {
		return nil, Errorf(KindSchemaInvalid, "timestamp is required")
	}
	req.PlatformID, _ = payload["platform_id"].(string)
	req.QueryText, _ = payload["query_text"].(string)
	req.Locale, _ = payload["locale"].(string)
	req.Geo, _ = payload["geo"].(string)
	req.Surface, _ = payload["surface"].(string)

	if rawAuth, ok := payload["auth"].(map[string]any); ok {
		auth := &Auth{}
		auth.Nonce, _ = rawAuth["nonce"].(string)
		auth.Signature, _ = rawAuth["signature"].(string)
		req.Auth = auth
	}
	if rawPools, ok := payload["pools"].([]any); ok {
		for _, p := range rawPools {
			if s, ok := p.(string); ok && s != "" {
				req.Pools = append(req.Pools, s)
			}
		}
	}
	if rawPricing, ok := payload["pricing"].(map[string]any); ok {
		var floor string
		switch v := rawPricing["cpx_floor"].(type) {
		case string:
			floor = v
		case float64:
			floor = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if floor != "" {
			normalized, err := NormalizeCPXFloor(floor)
			if err != nil {
				return nil, err
			}
			req.Pricing = &Pricing{CPXFloor: normalized}
		}
	}
	if ext, ok := payload["ext"].(map[string]any); ok {
		req.Ext = ext
	}
	return req, nil
}

// ParseBidResponse converts a verified payload into a typed BidResponse.
// Prices are accepted as JSON numbers or numeric strings and must be
// non-negative. The raw payload is retained for ledger persistence.
func ParseBidResponse(payload map[string]any) (*BidResponse, error) {
	bid := &BidResponse{Payload: payload}

	if bid.AuctionID, _ = payload["auction_id"].(string); bid.AuctionID == "" {
		return nil, Errorf(KindSchemaInvalid, "auction_id is required")
	}
	if bid.Bidder, _ = payload["bidder"].(string); bid.Bidder == "" {
		return nil, Errorf(KindSchemaInvalid, "bidder is required")
	}
	if bid.Nonce, _ = payload["nonce"].(string); bid.Nonce == "" {
		return nil, Errorf(KindSchemaInvalid, "nonce is required")
	}
	if bid.Timestamp, _ = payload["timestamp"].(string); bid.Timestamp == "" {
		return nil, Errorf(KindSchemaInvalid, "timestamp is required")
	}

	price, err := parsePrice(payload["price"])
	if err != nil {
		return nil, err
	}
	bid.Price = price

	rawModel, _ := payload["pricing_model"].(string)
	model, ok := ParsePricingModel(rawModel)
	if !ok {
		return nil, Errorf(KindSchemaInvalid, "pricing_model %q is not one of CPA, CPC, CPX", rawModel)
	}
	bid.PricingModel = model

	if creative, ok := payload["creative"].(map[string]any); ok {
		bid.Creative = creative
	}
	if ttl, ok := payload["ttl_ms"].(float64); ok {
		bid.TTLMillis = int64(ttl)
	}
	return bid, nil
}

func parsePrice(v any) (decimal.Decimal, error) {
	var price decimal.Decimal
	switch p := v.(type) {
	case float64:
		price = decimal.NewFromFloat(p)
	case string:
		var err error
		if price, err = decimal.NewFromString(p); err != nil {
			return decimal.Zero, Errorf(KindSchemaInvalid, "price must be numeric: %v", err)
		}
	case nil:
		return decimal.Zero, Errorf(KindSchemaInvalid, "price is required")
	default:
		return decimal.Zero, Errorf(KindSchemaInvalid, "price must be numeric")
	}
	if price.IsNegative() {
		return decimal.Zero, Errorf(KindSchemaInvalid, "price must be non-negative")
	}
	return price.Round(4), nil
}

// ParseEventCallback converts a verified payload into a typed EventCallback.
// The event type may come from the URL path (pathType) or the payload body;
// the path value wins when both are present.
func ParseEventCallback(pathType string, payload map[string]any) (*EventCallback, error) {
	ev := &EventCallback{Payload: payload}

	rawType := pathType
	if rawType == "" {
		rawType, _ = payload["event_type"].(string)
	}
	eventType, ok := ParseEventType(rawType)
	if !ok {
		return nil, Errorf(KindSchemaInvalid, "unknown event type %q", rawType)
	}
	ev.EventType = eventType

	if ev.AuctionID, _ = payload["auction_id"].(string); ev.AuctionID == "" {
		return nil, Errorf(KindSchemaInvalid, "auction_id is required")
	}
	if ev.ServeToken, _ = payload["serve_token"].(string); ev.ServeToken == "" {
		return nil, Errorf(KindSchemaInvalid, "serve_token is required")
	}
	if ev.Bidder, _ = payload["bidder"].(string); ev.Bidder == "" {
		return nil, Errorf(KindSchemaInvalid, "bidder is required")
	}
	if ev.Nonce, _ = payload["nonce"].(string); ev.Nonce == "" {
		return nil, Errorf(KindSchemaInvalid, "nonce is required")
	}
	if ev.Timestamp, _ = payload["timestamp"].(string); ev.Timestamp == "" {
		return nil, Errorf(KindSchemaInvalid, "timestamp is required")
	}
	return ev, nil
}
