package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubConfig contains Google Cloud Pub/Sub connection settings.
type PubSubConfig struct {
	ProjectID       string
	TopicPrefix     string
	CredentialsFile string
}

// PubSubPublisher publishes envelopes to one Pub/Sub topic per pool, named
// by prefixing the pool name with the configured topic prefix.
type PubSubPublisher struct {
	log    *slog.Logger
	client *pubsub.Client
	prefix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubPublisher connects to Pub/Sub. Credentials come from the
// configured service-account file, or from application default credentials
// when none is set.
func NewPubSubPublisher(ctx context.Context, config PubSubConfig, log *slog.Logger) (*PubSubPublisher, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	prefix := config.TopicPrefix
	if prefix == "" {
		prefix = "aip-pool-"
	}
	return &PubSubPublisher{
		log:    log,
		client: client,
		prefix: prefix,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func (p *PubSubPublisher) topic(pool string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[pool]
	if !ok {
		t = p.client.Topic(p.prefix + pool)
		p.topics[pool] = t
	}
	return t
}

// Publish writes env to each pool topic. Delivery is confirmed off the
// auction path; a slow broker must not hold the window open.
func (p *PubSubPublisher) Publish(ctx context.Context, pools []string, env *Envelope) error {
	for _, pool := range pools {
		e := *env
		e.Pool = pool
		raw, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("encoding envelope: %w", err)
		}

		result := p.topic(pool).Publish(ctx, &pubsub.Message{
			Data: raw,
			Attributes: map[string]string{
				"auction_id": env.AuctionID,
				"pool":       pool,
			},
		})

		go func(pool string, result *pubsub.PublishResult) {
			if _, err := result.Get(context.Background()); err != nil {
				p.log.Error("fanout publish failed",
					"auction_id", env.AuctionID,
					"pool", pool,
					"err", err,
				)
			}
		}(pool, result)
	}
	return nil
}

// Close stops all topics and closes the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}
