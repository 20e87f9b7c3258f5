package auction

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/ledger"
	"github.com/GouniManikumar12/aip-server/metrics"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/registry"
)

const (
	// publishTimeout bounds how long fanout publication may hold the window
	// open. Publish failures never abort the auction.
	publishTimeout = 10 * time.Millisecond

	// persistAttempts bounds settlement writes against a failing store.
	persistAttempts = 3

	persistTimeout = 5 * time.Second
)

// NewServeToken mints the opaque identifier bound to an auction. Tokens are
// 128 bits of randomness and unique across the lifetime of the server;
// event callbacks must present the token to touch the record.
func NewServeToken() string {
	u := uuid.New()
	return "stk_" + hex.EncodeToString(u[:])
}

// Runner drives one auction from platform request to settled result: it
// classifies the request into pools, opens an inbox slot, fans the
// invitation out, waits for the window, selects the winner and persists the
// outcome.
type Runner struct {
	log        *slog.Logger
	registry   *registry.Registry
	classifier *Classifier
	publisher  fanout.Publisher
	inbox      *Inbox
	ledger     *ledger.Service
	window     time.Duration

	now func() time.Time
}

// NewRunner wires a runner. The window is the configured auction window;
// callers with special timing run RunWindow directly.
func NewRunner(log *slog.Logger, reg *registry.Registry, classifier *Classifier, publisher fanout.Publisher, inbox *Inbox, ledgerSvc *ledger.Service, window time.Duration) *Runner {
	return &Runner{
		log:        log,
		registry:   reg,
		classifier: classifier,
		publisher:  publisher,
		inbox:      inbox,
		ledger:     ledgerSvc,
		window:     window,
		now:        time.Now,
	}
}

// Window returns the configured auction window.
func (r *Runner) Window() time.Duration {
	return r.window
}

// Run executes an auction with the configured window.
func (r *Runner) Run(ctx context.Context, req *protocol.ContextRequest) (*protocol.AuctionResult, error) {
	return r.RunWindow(ctx, req, r.window)
}

// RunWindow executes an auction with an explicit window. The result is
// always returned when the auction ran, even if settlement could not be
// persisted; Persisted=false marks that case.
func (r *Runner) RunWindow(ctx context.Context, req *protocol.ContextRequest, window time.Duration) (*protocol.AuctionResult, error) {
	auctionID := req.RequestID

	exists, err := r.ledger.Has(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, protocol.Errorf(protocol.KindConflict, "auction %s already ran", auctionID)
	}

	pools := r.classifier.Classify(req)
	invited := bidderNames(r.registry.LookupByPools(pools))

	deadline := r.now().Add(window)
	done, err := r.inbox.Open(auctionID, invited, deadline)
	if err != nil {
		return nil, err
	}
	defer r.inbox.Settle(auctionID)

	metrics.IncAuctionStarted()
	r.log.Info("auction opened",
		"auction_id", auctionID,
		"pools", pools,
		"invited", len(invited),
		"window_ms", window.Milliseconds(),
	)

	r.publish(req, pools, auctionID, deadline)

	// The wait is bounded by the window, so a disconnected platform does not
	// cut the auction short; settlement happens either way.
	select {
	case <-time.After(time.Until(deadline)):
	case <-done:
		// Every invited bidder answered; keeping the window open would
		// change nothing.
	}

	bids := r.inbox.Close(auctionID)
	winner, clearing := Select(bids, r.floorOf(req))
	token := NewServeToken()

	result := &protocol.AuctionResult{
		AuctionID:  auctionID,
		ServeToken: token,
		TTLMillis:  protocol.DefaultTTLMillis,
	}
	if winner != nil {
		result.TTLMillis = protocol.ResolveTTL(winner.TTLMillis)
		result.Winner = &protocol.Winner{
			Bidder:        winner.Bidder,
			Price:         protocol.FormatPrice(winner.Price),
			PricingModel:  winner.PricingModel,
			ClearingPrice: protocol.FormatPrice(clearing),
			Creative:      winner.Creative,
		}
		result.Render = protocol.BuildRender(winner.Creative)
		metrics.IncAuctionSettled()
	} else {
		result.NoBid = true
		metrics.IncAuctionNoBid()
	}

	settlement := &ledger.Settlement{
		AuctionID:       auctionID,
		ServeToken:      token,
		Context:         req.Payload,
		Pools:           pools,
		EligibleBidders: invited,
		Bids:            bids,
		Winner:          winner,
		ClearingPrice:   clearing,
		TTLMillis:       result.TTLMillis,
	}
	if err := r.persist(settlement); err != nil {
		// The platform still gets the computed result; the flag warns that
		// the ledger holds no record of it.
		persisted := false
		result.Persisted = &persisted
		r.log.Error("auction settled but not persisted",
			"auction_id", auctionID,
			"attempts", persistAttempts,
			"err", err,
		)
	}

	r.log.Info("auction closed",
		"auction_id", auctionID,
		"bids", len(bids),
		"no_bid", result.NoBid,
	)
	return result, nil
}

// publish fans the invitation out to each pool, detached from the platform
// request's context and bounded by publishTimeout. The envelope context is
// the platform request without its auth block; anti-replay material never
// leaves the server.
func (r *Runner) publish(req *protocol.ContextRequest, pools []string, auctionID string, deadline time.Time) {
	sanitized := *req
	sanitized.Auth = nil
	sanitized.Payload = nil

	env := &fanout.Envelope{
		AuctionID:      auctionID,
		Context:        &sanitized,
		WindowDeadline: deadline.UTC().Format(time.RFC3339Nano),
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, pools, env); err != nil {
		r.log.Error("fanout publish failed", "auction_id", auctionID, "err", err)
	}
}

// persist writes the settlement, detached from the platform request's
// context so a canceled caller cannot leave a settled auction unrecorded.
func (r *Runner) persist(settlement *ledger.Settlement) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if _, err = r.ledger.SettleAuction(ctx, settlement); err == nil {
			return nil
		}
		if attempt < persistAttempts {
			time.Sleep(time.Duration(5+rand.IntN(20)) * time.Millisecond)
		}
	}
	return err
}

func (r *Runner) floorOf(req *protocol.ContextRequest) decimal.Decimal {
	if req.Pricing == nil || req.Pricing.CPXFloor == "" {
		return decimal.Zero
	}
	floor, err := decimal.NewFromString(req.Pricing.CPXFloor)
	if err != nil {
		// Floors are normalized at intake; an unparsable one cannot filter.
		return decimal.Zero
	}
	return floor
}

func bidderNames(bidders []*registry.Bidder) []string {
	names := make([]string, 0, len(bidders))
	for _, b := range bidders {
		names = append(names, b.Name)
	}
	return names
}
