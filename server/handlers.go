package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/metrics"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/validation"
)

// handleContext runs one auction for a platform context request. The
// response is the full auction result; a no-bid auction is still a 200.
func (s *Service) handleContext(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r, validation.SchemaContextRequest)
	if !ok {
		return
	}

	req, err := protocol.ParseContextRequest(payload)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleBidResponse takes a signed bid into the inbox. Checks run in the
// fixed order schema, signature, timestamp, nonce, then payload parsing and
// inbox admission; the first failure decides the rejection kind.
func (s *Service) handleBidResponse(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r, validation.SchemaBidResponse)
	if !ok {
		metrics.IncBidRejected(string(protocol.KindSchemaInvalid))
		return
	}

	bidder, _ := payload["bidder"].(string)
	if err := s.verifier.Verify(r.Context(), bidder, payload); err != nil {
		metrics.IncBidRejected(string(protocol.KindOf(err)))
		s.writeError(w, err)
		return
	}

	bid, err := protocol.ParseBidResponse(payload)
	if err != nil {
		metrics.IncBidRejected(string(protocol.KindOf(err)))
		s.writeError(w, err)
		return
	}

	if err := s.submitBid(r.Context(), bid); err != nil {
		metrics.IncBidRejected(string(protocol.KindOf(err)))
		s.writeError(w, err)
		return
	}

	metrics.IncBidAccepted()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// submitBid routes a parsed bid into the inbox. A missing slot is
// disambiguated through the ledger: a settled auction means the window
// closed, an id the ledger never saw means no such auction.
func (s *Service) submitBid(ctx context.Context, bid *protocol.BidResponse) error {
	err := s.inbox.Submit(bid, s.now())
	if !errors.Is(err, auction.ErrNoSlot) {
		return err
	}

	exists, lerr := s.ledger.Has(ctx, bid.AuctionID)
	if lerr != nil {
		return lerr
	}
	if exists {
		return protocol.Errorf(protocol.KindWindowClosed, "auction %s window has closed", bid.AuctionID)
	}
	return protocol.Errorf(protocol.KindUnknownAuction, "no auction %s", bid.AuctionID)
}

// handleEvent records a signed ad event against a settled auction. The event
// type comes from the URL on /events/{type} and from the body on the legacy
// /aip/events route.
func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	pathType := chi.URLParam(r, "type")

	payload, ok := s.readPayload(w, r, validation.SchemaEventCallback)
	if !ok {
		return
	}

	bidder, _ := payload["bidder"].(string)
	if err := s.verifier.Verify(r.Context(), bidder, payload); err != nil {
		s.writeError(w, err)
		return
	}

	ev, err := protocol.ParseEventCallback(pathType, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, applied, err := s.ledger.ApplyEvent(r.Context(), ev)
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics.IncEvent(string(ev.EventType))
	state, _ := rec["state"].(string)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "accepted",
		"event_type":  string(ev.EventType),
		"serve_token": ev.ServeToken,
		"state":       state,
		"applied":     applied,
	})
}

// handleRecommendation is the weave polling endpoint. The first call for a
// (session, message) pair starts the background auction; every call returns
// the record's current state.
func (s *Service) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r, validation.SchemaRecommendationRequest)
	if !ok {
		return
	}

	req := &protocol.RecommendationRequest{}
	req.SessionID, _ = payload["session_id"].(string)
	req.MessageID, _ = payload["message_id"].(string)
	req.Query, _ = payload["query"].(string)

	resp, err := s.coordinator.GetOrCreate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
