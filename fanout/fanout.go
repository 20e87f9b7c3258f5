// Package fanout broadcasts auction invitations to bidder pools.
//
// When an auction opens, the server publishes one envelope per matched pool.
// Two backends exist: a local publisher that logs envelopes and feeds
// in-process subscriber taps, and a Google Cloud Pub/Sub publisher that
// writes to one topic per pool. Publishing never blocks the auction window;
// delivery confirmation happens off the auction path.
package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// Backend names accepted by New.
const (
	BackendLocal  = "local"
	BackendPubSub = "pubsub"
)

// Envelope is the invitation delivered to a pool when an auction opens.
// Pool is filled per delivery; the same auction produces one envelope per
// matched pool.
type Envelope struct {
	AuctionID      string                   `json:"auction_id"`
	Pool           string                   `json:"pool"`
	Context        *protocol.ContextRequest `json:"context"`
	WindowDeadline string                   `json:"window_deadline"`
}

// Publisher broadcasts envelopes to bidder pools.
type Publisher interface {
	// Publish delivers env to every pool in pools. The envelope's Pool
	// field is set per delivery.
	Publish(ctx context.Context, pools []string, env *Envelope) error

	// Close releases backend resources.
	Close() error
}

// Config selects and parameterizes a fanout backend.
type Config struct {
	Backend string
	PubSub  PubSubConfig
}

// New builds the publisher selected by cfg.Backend. An empty backend name
// selects the local publisher.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalPublisher(log), nil
	case BackendPubSub:
		return NewPubSubPublisher(ctx, cfg.PubSub, log)
	default:
		return nil, fmt.Errorf("unknown fanout backend %q", cfg.Backend)
	}
}
