// Package ledger records every auction outcome and the ad events reported
// against it. Records are JSON documents under "ledger:{auction_id}" keys;
// state transitions follow a small finite state machine and always run
// through the storage capability's atomic update so that concurrent event
// callbacks serialize per auction.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/storage"
)

// Settlement carries everything the runner knows when a window closes.
// Winner is nil for a no-bid auction.
type Settlement struct {
	AuctionID       string
	ServeToken      string
	Context         map[string]any
	Pools           []string
	EligibleBidders []string
	Bids            []*protocol.BidResponse
	Winner          *protocol.BidResponse
	ClearingPrice   decimal.Decimal
	TTLMillis       int64
}

// Service owns ledger records. All methods translate storage failures into
// protocol errors so handlers can map them onto the wire.
type Service struct {
	store storage.Store
	log   *slog.Logger

	now func() time.Time
}

// NewService creates a ledger service on top of store.
func NewService(store storage.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Has reports whether a record exists for auctionID.
func (s *Service) Has(ctx context.Context, auctionID string) (bool, error) {
	_, err := s.store.Get(ctx, storage.LedgerKey(auctionID))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, protocol.Errorf(protocol.KindStorageUnavailable, "reading ledger: %v", err)
	}
	return true, nil
}

// Get returns the record for auctionID.
func (s *Service) Get(ctx context.Context, auctionID string) (map[string]any, error) {
	rec, err := s.store.Get(ctx, storage.LedgerKey(auctionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, protocol.Errorf(protocol.KindUnknownAuction, "no auction %s", auctionID)
	}
	if err != nil {
		return nil, protocol.Errorf(protocol.KindStorageUnavailable, "reading ledger: %v", err)
	}
	return rec, nil
}

// SettleAuction writes the record for a closed auction. The record is built
// in state created and transitioned to served or no_bid before the single
// write, so no reader ever observes a half-settled auction. The write is an
// upsert: the runner retries settlement on storage failures and a repeated
// write of the same settlement is harmless.
func (s *Service) SettleAuction(ctx context.Context, settle *Settlement) (map[string]any, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)

	bids := make([]any, 0, len(settle.Bids))
	for _, bid := range settle.Bids {
		bids = append(bids, bid.Payload)
	}

	rec := map[string]any{
		"auction_id":       settle.AuctionID,
		"serve_token":      settle.ServeToken,
		"state":            string(StateCreated),
		"context":          settle.Context,
		"pools":            stringsToAny(settle.Pools),
		"eligible_bidders": stringsToAny(settle.EligibleBidders),
		"bids":             bids,
		"winner":           nil,
		"clearing_price":   protocol.FormatPrice(decimal.Zero),
		"no_bid":           false,
		"ttl_ms":           settle.TTLMillis,
		"events":           []any{},
		"created_at":       now,
		"updated_at":       now,
	}

	if settle.Winner != nil {
		rec["state"] = string(StateServed)
		rec["winner"] = settle.Winner.Payload
		rec["clearing_price"] = protocol.FormatPrice(settle.ClearingPrice)
	} else {
		rec["state"] = string(StateNoBid)
		rec["no_bid"] = true
	}

	if err := s.store.Put(ctx, storage.LedgerKey(settle.AuctionID), rec); err != nil {
		return nil, protocol.Errorf(protocol.KindStorageUnavailable, "writing ledger: %v", err)
	}
	return rec, nil
}

// ApplyEvent advances the record identified by the callback. The returned
// bool is false when the event was an idempotent replay of one already in
// the record's history.
//
// The whole decision runs inside the storage capability's atomic update:
// load, token check, duplicate scan, transition, and history append commit
// together or not at all.
func (s *Service) ApplyEvent(ctx context.Context, ev *protocol.EventCallback) (map[string]any, bool, error) {
	applied := false
	recordedAt := s.now().UTC().Format(time.RFC3339Nano)

	rec, err := s.store.Update(ctx, storage.LedgerKey(ev.AuctionID), func(current map[string]any) (map[string]any, error) {
		applied = false
		if current == nil {
			return nil, protocol.Errorf(protocol.KindUnknownAuction, "no auction %s", ev.AuctionID)
		}
		if token, _ := current["serve_token"].(string); token != ev.ServeToken {
			return nil, protocol.Errorf(protocol.KindUnknownAuction, "serve token does not match auction %s", ev.AuctionID)
		}

		state, _ := current["state"].(string)
		events, _ := current["events"].([]any)

		// Replays of an already recorded (event_type, nonce) are no-ops,
		// even once the record is terminal.
		for _, raw := range events {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if entry["event_type"] == string(ev.EventType) && entry["nonce"] == ev.Nonce {
				return current, nil
			}
		}

		if State(state) != StateServed {
			return nil, protocol.Errorf(protocol.KindTerminalState,
				"auction %s is %s; %s not recordable", ev.AuctionID, state, ev.EventType)
		}

		next, ok := TransitionFor(ev.EventType)
		if !ok {
			return nil, protocol.Errorf(protocol.KindSchemaInvalid, "unknown event type %q", ev.EventType)
		}

		current["state"] = string(next)
		current["updated_at"] = recordedAt
		current["events"] = append(events, map[string]any{
			"event_type":  string(ev.EventType),
			"bidder":      ev.Bidder,
			"nonce":       ev.Nonce,
			"timestamp":   ev.Timestamp,
			"payload":     ev.Payload,
			"recorded_at": recordedAt,
		})
		applied = true
		return current, nil
	})
	if err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) {
			return nil, false, pe
		}
		return nil, false, protocol.Errorf(protocol.KindStorageUnavailable, "updating ledger: %v", err)
	}
	return rec, applied, nil
}

// ListRecords returns every ledger record. Only stores with the Lister
// capability support this; others return an empty slice.
func (s *Service) ListRecords(ctx context.Context) ([]map[string]any, error) {
	lister, ok := s.store.(storage.Lister)
	if !ok {
		return nil, nil
	}
	records, err := lister.List(ctx, storage.LedgerPrefix)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindStorageUnavailable, "listing ledger: %v", err)
	}
	return records, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
