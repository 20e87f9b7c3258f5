package fanout

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type subscriber struct {
	ctx  context.Context
	pool string
	ch   chan *Envelope
}

// LocalPublisher logs every envelope and delivers it to in-process
// subscriber taps. It is the development and test backend; the demo bidders
// subscribe to it directly.
type LocalPublisher struct {
	log *slog.Logger

	mu   sync.Mutex
	subs []subscriber
}

// NewLocalPublisher creates a local publisher logging through log.
func NewLocalPublisher(log *slog.Logger) *LocalPublisher {
	return &LocalPublisher{log: log}
}

// Subscribe returns a channel receiving every envelope published to pool.
// Once ctx is done the channel is closed on the next publish to the pool.
// Slow subscribers miss envelopes rather than delaying auctions.
func (p *LocalPublisher) Subscribe(ctx context.Context, pool string) <-chan *Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *Envelope, 10)
	p.subs = append(p.subs, subscriber{ctx, pool, ch})
	return ch
}

// Publish logs env once per pool and feeds matching subscribers.
func (p *LocalPublisher) Publish(_ context.Context, pools []string, env *Envelope) error {
	for _, pool := range pools {
		e := *env
		e.Pool = pool
		p.log.Info("fanout publish",
			"auction_id", e.AuctionID,
			"pool", pool,
			"window_deadline", e.WindowDeadline,
		)
		p.deliver(&e)
	}
	return nil
}

func (p *LocalPublisher) deliver(env *Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	toRemove := []int{}
	for i, sub := range p.subs {
		if sub.pool != env.Pool {
			continue
		}
		if sub.ctx.Err() != nil {
			close(sub.ch)
			toRemove = append(toRemove, i)
			continue
		}
		select {
		case sub.ch <- env:
		default:
			// Skip if channel is full
		}
	}

	slices.Reverse(toRemove)
	for _, i := range toRemove {
		p.subs = slices.Delete(p.subs, i, i+1)
	}
}

// Close closes every subscriber channel.
func (p *LocalPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		close(sub.ch)
	}
	p.subs = nil
	return nil
}
