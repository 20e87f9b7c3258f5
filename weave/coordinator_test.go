package weave

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/ledger"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/registry"
	"github.com/GouniManikumar12/aip-server/storage"
)

type weaveFixture struct {
	coordinator *Coordinator
	store       *storage.MemoryStore
	inbox       *auction.Inbox
	pub         *fanout.LocalPublisher
	ledger      *ledger.Service
}

func setupCoordinator(t *testing.T) *weaveFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()

	reg := registry.New()
	require.NoError(t, reg.Add(&registry.Bidder{Name: "alpha", Pools: []string{"retail"}}))

	classifier := auction.NewClassifier(
		[]auction.Rule{{Pool: "retail", Keywords: []string{"shoes"}}}, []string{"general"})
	pub := fanout.NewLocalPublisher(log)
	inbox := auction.NewInbox()
	ledgerSvc := ledger.NewService(store, log)
	runner := auction.NewRunner(log, reg, classifier, pub, inbox, ledgerSvc, 50*time.Millisecond)

	c := NewCoordinator(log, store, runner, Config{Window: 60 * time.Millisecond, Workers: 2})
	c.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, c.Shutdown(ctx))
	})

	return &weaveFixture{coordinator: c, store: store, inbox: inbox, pub: pub, ledger: ledgerSvc}
}

func recommendationStatus(t *testing.T, store storage.Store, sessionID, messageID string) string {
	t.Helper()
	record, err := store.Get(context.Background(), storage.RecommendationKey(sessionID, messageID))
	if err != nil {
		return ""
	}
	status, _ := record["status"].(string)
	return status
}

func TestGetOrCreateRequiresIdentifiers(t *testing.T) {
	fix := setupCoordinator(t)

	_, err := fix.coordinator.GetOrCreate(context.Background(),
		&protocol.RecommendationRequest{MessageID: "msg_1"})
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))
	require.Contains(t, err.Error(), "session_id is required")

	_, err = fix.coordinator.GetOrCreate(context.Background(),
		&protocol.RecommendationRequest{SessionID: "sess_1"})
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))
	require.Contains(t, err.Error(), "message_id is required")
}

func TestGetOrCreateNewRecommendation(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	resp, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_1", MessageID: "msg_1", Query: "no pool matches this",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.RecommendationInProgress, resp.Status)
	require.Equal(t, int64(protocol.RetryAfterMillis), resp.RetryAfterMillis)
	require.Contains(t, strings.ToLower(resp.Message), "retry")

	record, err := fix.store.Get(ctx, storage.RecommendationKey("sess_1", "msg_1"))
	require.NoError(t, err)
	require.Equal(t, "sess_1", record["session_id"])
	require.Equal(t, "msg_1", record["message_id"])
	require.Equal(t, "no pool matches this", record["query"])
}

func TestRecommendationCompletesWithoutBids(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	_, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_2", MessageID: "msg_2", Query: "nothing matches",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recommendationStatus(t, fix.store, "sess_2", "msg_2") == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_2", MessageID: "msg_2",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.RecommendationCompleted, resp.Status)
	require.Empty(t, resp.WeaveContent)
	require.True(t, strings.HasPrefix(resp.ServeToken, "stk_"))
	require.Equal(t, &protocol.CreativeMetadata{}, resp.CreativeMetadata)

	// The background auction settles in the ledger under the derived id.
	record, err := fix.ledger.Get(ctx, "ctx_msg_2")
	require.NoError(t, err)
	require.Equal(t, "no_bid", record["state"])
}

func TestRecommendationCompletesWithWinner(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()
	tap := fix.pub.Subscribe(ctx, "retail")

	go func() {
		env, ok := <-tap
		if !ok {
			return
		}
		bid := &protocol.BidResponse{
			AuctionID:    env.AuctionID,
			Bidder:       "alpha",
			Price:        decimal.RequireFromString("1.25"),
			PricingModel: protocol.PricingCPC,
			Creative: map[string]any{
				"creative_input": map[string]any{
					"brand_name":    "TrailCo",
					"product_name":  "Trail Pro 2",
					"descriptions":  []any{"Grippy soles for wet rock."},
					"resource_urls": []any{"https://trailco.example/pro2"},
				},
			},
			Payload: map[string]any{"auction_id": env.AuctionID, "bidder": "alpha"},
		}
		_ = fix.inbox.Submit(bid, time.Now())
	}()

	_, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_3", MessageID: "msg_3", Query: "trail shoes",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recommendationStatus(t, fix.store, "sess_3", "msg_3") == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_3", MessageID: "msg_3",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.RecommendationCompleted, resp.Status)
	require.Equal(t, "[Ad] Trail Pro 2 - Grippy soles for wet rock. Learn more: https://trailco.example/pro2", resp.WeaveContent)
	require.Equal(t, "TrailCo", resp.CreativeMetadata.BrandName)
	require.True(t, strings.HasPrefix(resp.ServeToken, "stk_"))
}

func TestRepeatCallDoesNotRerunAuction(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	_, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_4", MessageID: "msg_4", Query: "plain",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recommendationStatus(t, fix.store, "sess_4", "msg_4") == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	first, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_4", MessageID: "msg_4",
	})
	require.NoError(t, err)
	second, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_4", MessageID: "msg_4",
	})
	require.NoError(t, err)
	require.Equal(t, first.ServeToken, second.ServeToken)

	// A second auction for the same message would conflict in the ledger;
	// the record proves only one ran.
	record, err := fix.ledger.Get(ctx, "ctx_msg_4")
	require.NoError(t, err)
	require.Equal(t, "no_bid", record["state"])
}

func TestFailedRecordReportsError(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	key := storage.RecommendationKey("sess_5", "msg_5")
	require.NoError(t, fix.store.Put(ctx, key, map[string]any{
		"session_id": "sess_5",
		"message_id": "msg_5",
		"status":     "failed",
		"error":      "auction ctx_msg_5 already ran",
	}))

	resp, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_5", MessageID: "msg_5",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.RecommendationFailed, resp.Status)
	require.Equal(t, "auction ctx_msg_5 already ran", resp.Error)
}

func TestInProgressRecordReturnsRetryHint(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	key := storage.RecommendationKey("sess_6", "msg_6")
	require.NoError(t, fix.store.Put(ctx, key, map[string]any{
		"session_id": "sess_6",
		"message_id": "msg_6",
		"status":     "in_progress",
	}))

	resp, err := fix.coordinator.GetOrCreate(ctx, &protocol.RecommendationRequest{
		SessionID: "sess_6", MessageID: "msg_6",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.RecommendationInProgress, resp.Status)
	require.Equal(t, int64(protocol.RetryAfterMillis), resp.RetryAfterMillis)
}

func TestTerminalRecordIsImmutable(t *testing.T) {
	fix := setupCoordinator(t)
	ctx := context.Background()

	key := storage.RecommendationKey("sess_7", "msg_7")
	require.NoError(t, fix.store.Put(ctx, key, map[string]any{
		"session_id":    "sess_7",
		"message_id":    "msg_7",
		"status":        "completed",
		"weave_content": "[Ad] Kept - Original Learn more: #",
		"serve_token":   "stk_original",
	}))

	fix.coordinator.fail(ctx, task{sessionID: "sess_7", messageID: "msg_7"}, "late failure")

	record, err := fix.store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "completed", record["status"])
	require.Equal(t, "stk_original", record["serve_token"])
	require.NotContains(t, record, "error")
}

func TestFormatCreativeFlatLayout(t *testing.T) {
	content, meta := FormatCreative(&protocol.AuctionResult{
		Winner: &protocol.Winner{
			Creative: map[string]any{
				"brand_name":   "Plain",
				"product_name": "Widget",
				"descriptions": []string{"Does the thing."},
			},
		},
	})
	require.Equal(t, "[Ad] Widget - Does the thing. Learn more: #", content)
	require.Equal(t, "#", meta.URL)
	require.Equal(t, "Plain", meta.BrandName)
}

func TestFormatCreativeNoWinner(t *testing.T) {
	content, meta := FormatCreative(&protocol.AuctionResult{NoBid: true})
	require.Empty(t, content)
	require.Equal(t, &protocol.CreativeMetadata{}, meta)
}
