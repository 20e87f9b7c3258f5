// Package weave runs ad auctions for conversational surfaces. A platform
// asks for a recommendation keyed by (session_id, message_id); the
// coordinator creates an in-progress record, runs the auction in the
// background with the long weave window, and the platform polls the same
// endpoint until the record turns terminal. Repeat calls for the same key
// never start a second auction.
package weave

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/metrics"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/storage"
)

const (
	// DefaultWindow is the auction window for weave requests. The
	// conversational surface tolerates far more latency than inline
	// placements, so the window is an order of magnitude longer and is
	// not subject to the inline clamp.
	DefaultWindow = 500 * time.Millisecond

	// DefaultWorkers bounds concurrent background auctions.
	DefaultWorkers = 4

	queueCapacity  = 256
	processTimeout = 5 * time.Second
)

// Config tunes the coordinator. Zero values select the defaults.
type Config struct {
	Window  time.Duration
	Workers int
}

type task struct {
	sessionID string
	messageID string
	query     string
}

// Coordinator owns the weave recommendation lifecycle.
type Coordinator struct {
	log     *slog.Logger
	store   storage.Store
	runner  *auction.Runner
	window  time.Duration
	workers int

	tasks chan task
	wg    sync.WaitGroup

	runMutex sync.Mutex
	running  bool
	cancel   context.CancelFunc

	now func() time.Time
}

// NewCoordinator wires a coordinator. Start must be called before any
// recommendation can complete.
func NewCoordinator(log *slog.Logger, store storage.Store, runner *auction.Runner, cfg Config) *Coordinator {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Coordinator{
		log:     log,
		store:   store,
		runner:  runner,
		window:  window,
		workers: workers,
		tasks:   make(chan task, queueCapacity),
		now:     time.Now,
	}
}

// Start launches the background workers. Calling Start twice is a no-op.
func (c *Coordinator) Start() {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.running {
		return
	}
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.log.Info("weave coordinator started", "workers", c.workers, "window_ms", c.window.Milliseconds())
}

// Shutdown stops the workers, waiting for in-flight auctions until ctx
// expires. Queued tasks that never ran stay in_progress in storage.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.tasks:
			c.process(t)
		}
	}
}

// GetOrCreate is the single weave operation. For a new (session_id,
// message_id) pair it creates an in-progress record, schedules the
// background auction and returns the retry hint. For a known pair it
// returns the record's current status without touching the auction.
func (c *Coordinator) GetOrCreate(ctx context.Context, req *protocol.RecommendationRequest) (*protocol.RecommendationResponse, error) {
	if req.SessionID == "" {
		return nil, protocol.Errorf(protocol.KindSchemaInvalid, "session_id is required")
	}
	if req.MessageID == "" {
		return nil, protocol.Errorf(protocol.KindSchemaInvalid, "message_id is required")
	}

	key := storage.RecommendationKey(req.SessionID, req.MessageID)
	record, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		if record["status"] == string(protocol.RecommendationCompleted) {
			metrics.IncWeaveCacheHit()
		}
		return responseFromRecord(record), nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, protocol.Errorf(protocol.KindStorageUnavailable, "recommendation lookup failed: %v", err)
	}

	metrics.IncWeaveCacheMiss()
	now := c.now().UTC().Format(time.RFC3339Nano)
	created := map[string]any{
		"session_id": req.SessionID,
		"message_id": req.MessageID,
		"query":      req.Query,
		"status":     string(protocol.RecommendationInProgress),
		"created_at": now,
		"updated_at": now,
	}
	if err := c.store.CreateIfAbsent(ctx, key, created); err != nil {
		if errors.Is(err, storage.ErrExists) {
			// Lost the creation race; the winner's task is already queued.
			record, err := c.store.Get(ctx, key)
			if err != nil {
				return nil, protocol.Errorf(protocol.KindStorageUnavailable, "recommendation lookup failed: %v", err)
			}
			return responseFromRecord(record), nil
		}
		return nil, protocol.Errorf(protocol.KindStorageUnavailable, "recommendation create failed: %v", err)
	}

	c.enqueue(task{sessionID: req.SessionID, messageID: req.MessageID, query: req.Query})
	return &protocol.RecommendationResponse{
		Status:           protocol.RecommendationInProgress,
		RetryAfterMillis: protocol.RetryAfterMillis,
		Message:          "recommendation in progress, retry shortly",
	}, nil
}

func (c *Coordinator) enqueue(t task) {
	select {
	case c.tasks <- t:
	default:
		c.log.Error("weave queue full, failing recommendation",
			"session_id", t.sessionID, "message_id", t.messageID)
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		c.fail(ctx, t, "recommendation queue is full")
	}
}

// process runs the background auction for one recommendation. It is
// detached from the platform request; failures land in the record, never
// in an HTTP response.
func (c *Coordinator) process(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	result, err := c.runner.RunWindow(ctx, c.syntheticRequest(t), c.window)
	if err != nil {
		c.log.Error("weave auction failed",
			"session_id", t.sessionID, "message_id", t.messageID, "err", err)
		c.fail(ctx, t, protocol.AsError(err).Message)
		return
	}

	content, meta := FormatCreative(result)
	c.complete(ctx, t, result, content, meta)
}

// syntheticRequest turns a recommendation into an auction context. The
// auction id is derived from the message id so repeat processing of the
// same message collides in the ledger instead of double-charging.
func (c *Coordinator) syntheticRequest(t task) *protocol.ContextRequest {
	now := c.now().UTC().Format(time.RFC3339Nano)
	req := &protocol.ContextRequest{
		RequestID: "ctx_" + t.messageID,
		SessionID: t.sessionID,
		QueryText: t.query,
		Timestamp: now,
		Surface:   "weave",
	}
	req.Payload = map[string]any{
		"request_id": req.RequestID,
		"session_id": req.SessionID,
		"query_text": req.QueryText,
		"timestamp":  now,
		"surface":    "weave",
	}
	return req
}

func (c *Coordinator) complete(ctx context.Context, t task, result *protocol.AuctionResult, content string, meta *protocol.CreativeMetadata) {
	err := c.mutate(ctx, t, func(record map[string]any) {
		record["status"] = string(protocol.RecommendationCompleted)
		record["weave_content"] = content
		record["serve_token"] = result.ServeToken
		record["creative_metadata"] = map[string]any{
			"brand_name":   meta.BrandName,
			"product_name": meta.ProductName,
			"description":  meta.Description,
			"url":          meta.URL,
		}
		if doc := resultDocument(result); doc != nil {
			record["auction_result"] = doc
		}
	})
	if err != nil {
		c.log.Error("weave completion not recorded",
			"session_id", t.sessionID, "message_id", t.messageID, "err", err)
	}
}

func (c *Coordinator) fail(ctx context.Context, t task, message string) {
	if message == "" {
		message = "Auction failed"
	}
	err := c.mutate(ctx, t, func(record map[string]any) {
		record["status"] = string(protocol.RecommendationFailed)
		record["error"] = message
	})
	if err != nil {
		c.log.Error("weave failure not recorded",
			"session_id", t.sessionID, "message_id", t.messageID, "err", err)
	}
}

// mutate applies fn to the record if it is still in progress. Terminal
// records are immutable.
func (c *Coordinator) mutate(ctx context.Context, t task, fn func(record map[string]any)) error {
	key := storage.RecommendationKey(t.sessionID, t.messageID)
	_, err := c.store.Update(ctx, key, func(current map[string]any) (map[string]any, error) {
		if current == nil {
			current = map[string]any{
				"session_id": t.sessionID,
				"message_id": t.messageID,
				"query":      t.query,
				"status":     string(protocol.RecommendationInProgress),
				"created_at": c.now().UTC().Format(time.RFC3339Nano),
			}
		}
		if current["status"] != string(protocol.RecommendationInProgress) {
			return current, nil
		}
		fn(current)
		current["updated_at"] = c.now().UTC().Format(time.RFC3339Nano)
		return current, nil
	})
	return err
}

// responseFromRecord maps a stored recommendation onto the wire shape for
// its status.
func responseFromRecord(record map[string]any) *protocol.RecommendationResponse {
	status, _ := record["status"].(string)
	switch protocol.RecommendationStatus(status) {
	case protocol.RecommendationCompleted:
		content, _ := record["weave_content"].(string)
		token, _ := record["serve_token"].(string)
		return &protocol.RecommendationResponse{
			Status:           protocol.RecommendationCompleted,
			WeaveContent:     content,
			ServeToken:       token,
			CreativeMetadata: metadataFromRecord(record),
		}
	case protocol.RecommendationFailed:
		message, _ := record["error"].(string)
		if message == "" {
			message = "Auction failed"
		}
		return &protocol.RecommendationResponse{
			Status: protocol.RecommendationFailed,
			Error:  message,
		}
	default:
		return &protocol.RecommendationResponse{
			Status:           protocol.RecommendationInProgress,
			RetryAfterMillis: protocol.RetryAfterMillis,
			Message:          "recommendation in progress, retry shortly",
		}
	}
}

func metadataFromRecord(record map[string]any) *protocol.CreativeMetadata {
	raw, ok := record["creative_metadata"].(map[string]any)
	if !ok {
		return &protocol.CreativeMetadata{}
	}
	return &protocol.CreativeMetadata{
		BrandName:   stringField(raw, "brand_name"),
		ProductName: stringField(raw, "product_name"),
		Description: stringField(raw, "description"),
		URL:         stringField(raw, "url"),
	}
}

func resultDocument(result *protocol.AuctionResult) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}
