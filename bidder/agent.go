// Package bidder implements a reference bidding agent. The agent subscribes
// to auction invitations on the local fanout, prices each one through its
// strategy, signs the bid with its Ed25519 key and posts it to the auction
// server's bid intake endpoint. The demo binary and the end-to-end tests run
// these agents in-process; a production bidder would consume the pub/sub
// fanout instead and reuse BuildBid and Submit unchanged.
package bidder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/protocol"
)

// DefaultTimeout bounds one bid submission round-trip.
const DefaultTimeout = 200 * time.Millisecond

// Quote is a priced answer to an invitation.
type Quote struct {
	Price        decimal.Decimal
	PricingModel protocol.PricingModel
	Creative     map[string]any
	TTLMillis    int64
}

// Strategy decides whether and what to bid for an invitation.
type Strategy interface {
	Quote(env *fanout.Envelope) (*Quote, bool)
}

// FixedStrategy answers every invitation with the same quote.
type FixedStrategy struct {
	Price        decimal.Decimal
	PricingModel protocol.PricingModel
	Creative     map[string]any
	TTLMillis    int64
}

// Quote implements Strategy.
func (s *FixedStrategy) Quote(*fanout.Envelope) (*Quote, bool) {
	return &Quote{
		Price:        s.Price,
		PricingModel: s.PricingModel,
		Creative:     s.Creative,
		TTLMillis:    s.TTLMillis,
	}, true
}

// KeywordStrategy bids only when the invitation's query mentions one of its
// keywords, then answers with the wrapped strategy's quote.
type KeywordStrategy struct {
	Keywords []string
	Next     Strategy
}

// Quote implements Strategy.
func (s *KeywordStrategy) Quote(env *fanout.Envelope) (*Quote, bool) {
	query := ""
	if env.Context != nil {
		query = strings.ToLower(env.Context.QueryText)
	}
	for _, keyword := range s.Keywords {
		if keyword != "" && strings.Contains(query, strings.ToLower(keyword)) {
			return s.Next.Quote(env)
		}
	}
	return nil, false
}

// Config parameterizes an agent. Name must match the agent's entry in the
// server's bidder roster and Key must be the private half of the registered
// public key, or every submission comes back signature_invalid.
type Config struct {
	Name      string
	Key       crypto.PrivateKey
	ServerURL string
	Pools     []string
	Strategy  Strategy
	Timeout   time.Duration
}

// Agent is one running reference bidder.
type Agent struct {
	log      *slog.Logger
	name     string
	key      crypto.PrivateKey
	server   string
	pools    []string
	strategy Strategy
	timeout  time.Duration
	client   *http.Client

	runMutex sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an agent. The zero timeout falls back to DefaultTimeout.
func New(log *slog.Logger, cfg Config) *Agent {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Agent{
		log:      log.With("bidder", cfg.Name),
		name:     cfg.Name,
		key:      cfg.Key,
		server:   strings.TrimRight(cfg.ServerURL, "/"),
		pools:    cfg.Pools,
		strategy: cfg.Strategy,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Name returns the agent's roster name.
func (a *Agent) Name() string {
	return a.name
}

// Start subscribes the agent to its pools on pub and begins answering
// invitations. Calling Start twice is a no-op.
func (a *Agent) Start(pub *fanout.LocalPublisher) {
	a.runMutex.Lock()
	defer a.runMutex.Unlock()
	if a.running {
		return
	}
	a.running = true

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	for _, pool := range a.pools {
		tap := pub.Subscribe(ctx, pool)
		a.wg.Add(1)
		go a.listen(ctx, tap)
	}
	a.log.Info("bidder agent started", "pools", a.pools)
}

// Shutdown stops the agent, waiting for in-flight submissions until ctx
// expires.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.runMutex.Lock()
	defer a.runMutex.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) listen(ctx context.Context, tap <-chan *fanout.Envelope) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-tap:
			if !ok {
				return
			}
			a.answer(ctx, env)
		}
	}
}

// answer prices one invitation and submits the bid. A declined quote is
// silent; a failed submission only logs, the auction simply closes without
// this agent's bid.
func (a *Agent) answer(ctx context.Context, env *fanout.Envelope) {
	quote, ok := a.strategy.Quote(env)
	if !ok {
		return
	}

	payload, err := a.BuildBid(env.AuctionID, quote)
	if err != nil {
		a.log.Error("building bid failed", "auction_id", env.AuctionID, "err", err)
		return
	}
	if err := a.Submit(ctx, payload); err != nil {
		a.log.Error("bid submission failed", "auction_id", env.AuctionID, "err", err)
		return
	}
	a.log.Info("bid submitted",
		"auction_id", env.AuctionID,
		"price", payload["price"],
		"pricing_model", payload["pricing_model"],
	)
}

// BuildBid assembles and signs a bid payload for auctionID. The price rides
// as a four-decimal string so the canonical bytes are stable.
func (a *Agent) BuildBid(auctionID string, quote *Quote) (map[string]any, error) {
	payload := map[string]any{
		"auction_id":    auctionID,
		"bidder":        a.name,
		"price":         protocol.FormatPrice(quote.Price),
		"pricing_model": string(quote.PricingModel),
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		"nonce":         uuid.NewString(),
	}
	if quote.Creative != nil {
		payload["creative"] = quote.Creative
	}
	if quote.TTLMillis > 0 {
		payload["ttl_ms"] = quote.TTLMillis
	}

	sig, err := crypto.SignPayload(a.key, payload)
	if err != nil {
		return nil, err
	}
	payload[crypto.SignatureField] = sig
	return payload, nil
}

// Submit posts a signed bid payload to the server, bounded by the agent's
// timeout.
func (a *Agent) Submit(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.server+"/aip/bid-response", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bid rejected: %s: %s", res.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
