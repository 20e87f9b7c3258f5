package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/ledger"
	"github.com/GouniManikumar12/aip-server/storage"
	"github.com/GouniManikumar12/aip-server/testutil"
	"github.com/GouniManikumar12/aip-server/transport"
	"github.com/GouniManikumar12/aip-server/validation"
	"github.com/GouniManikumar12/aip-server/weave"
)

type serviceFixture struct {
	router chi.Router
	store  *storage.MemoryStore
	pub    *fanout.LocalPublisher
	inbox  *auction.Inbox
	ledger *ledger.Service
	keys   map[string]crypto.PrivateKey
}

// setupService assembles the full service on in-memory backends: three
// keyed bidders (alpha and beta on retail, gamma on finance), a keyword
// classifier sending "shoes" queries to retail, and a 60 ms window.
func setupService(t *testing.T) *serviceFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, keys, err := testutil.NewKeyedRegistry(
		testutil.RosterEntry{Name: "alpha", Pools: []string{"retail"}},
		testutil.RosterEntry{Name: "beta", Pools: []string{"retail", "general"}},
		testutil.RosterEntry{Name: "gamma", Pools: []string{"finance"}},
	)
	require.NoError(t, err)

	classifier := auction.NewClassifier(
		[]auction.Rule{{Pool: "retail", Keywords: []string{"shoes"}}},
		[]string{"general"},
	)
	pub := fanout.NewLocalPublisher(log)
	inbox := auction.NewInbox()
	store := storage.NewMemoryStore()
	ledgerSvc := ledger.NewService(store, log)
	runner := auction.NewRunner(log, reg, classifier, pub, inbox, ledgerSvc, 60*time.Millisecond)

	coordinator := weave.NewCoordinator(log, store, runner, weave.Config{
		Window:  80 * time.Millisecond,
		Workers: 2,
	})
	coordinator.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, coordinator.Shutdown(ctx))
	})

	schemas, err := validation.NewRegistry()
	require.NoError(t, err)
	verifier := transport.NewVerifier(reg, transport.NewMemoryNonceStore(time.Minute), 500*time.Millisecond)

	svc := New(Config{
		Log:                 log,
		Registry:            reg,
		Runner:              runner,
		Inbox:               inbox,
		Ledger:              ledgerSvc,
		Verifier:            verifier,
		Schemas:             schemas,
		Coordinator:         coordinator,
		WindowMillis:        60,
		DistributionBackend: "local",
		StorageBackend:      "in_memory",
		NonceTTLSeconds:     60,
		MaxClockSkewMillis:  500,
	})
	router := chi.NewRouter()
	svc.RegisterRoutes(router)

	return &serviceFixture{
		router: router,
		store:  store,
		pub:    pub,
		inbox:  inbox,
		ledger: ledgerSvc,
		keys:   keys,
	}
}

func (f *serviceFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	require.NoError(t, err)
	f.router.ServeHTTP(w, req)
	return w
}

func (f *serviceFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error envelope in %s", w.Body.String())
	kind, _ := errObj["kind"].(string)
	return kind
}

func contextBody(id, query string) map[string]any {
	return testutil.ContextPayload(id, query)
}

// signedBid builds a bid payload signed with the named bidder's key.
func (f *serviceFixture) signedBid(t *testing.T, auctionID, bidder, price, model string) map[string]any {
	t.Helper()
	payload, err := testutil.SignedBid(f.keys[bidder], auctionID, bidder, price, model)
	require.NoError(t, err)
	return payload
}

// signedEvent builds an event payload signed with the named bidder's key.
// Extra members (event_type, payload) merge in before signing.
func (f *serviceFixture) signedEvent(t *testing.T, auctionID, token, bidder string, extra map[string]any) map[string]any {
	t.Helper()
	options := make([]testutil.PayloadOption, 0, len(extra))
	for k, v := range extra {
		options = append(options, testutil.WithField(k, v))
	}
	payload, err := testutil.SignedEvent(f.keys[bidder], auctionID, token, bidder, options...)
	require.NoError(t, err)
	return payload
}

// runAuction posts a context request, submits the given signed bids while
// the window is open, and returns the decoded auction result.
func (f *serviceFixture) runAuction(t *testing.T, id, query string, bids ...map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tap := f.pub.Subscribe(ctx, "retail")

	raw, err := json.Marshal(contextBody(id, query))
	require.NoError(t, err)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/aip/context", bytes.NewReader(raw))
		f.router.ServeHTTP(w, req)
		done <- w
	}()

	select {
	case <-tap:
	case <-time.After(2 * time.Second):
		t.Fatal("no fanout envelope received")
	}
	for _, bid := range bids {
		w := f.post(t, "/aip/bid-response", bid)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := <-done
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody(t, w)
}

func TestMetaEndpoints(t *testing.T) {
	fix := setupService(t)

	w := fix.get(t, "/")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "aip-server", body["service"])
	transportBlock := body["transport"].(map[string]any)
	assert.Equal(t, float64(60), transportBlock["nonce_ttl_seconds"])
	assert.Equal(t, float64(500), transportBlock["max_clock_skew_ms"])
	auctionBlock := body["auction"].(map[string]any)
	assert.Equal(t, float64(60), auctionBlock["window_ms"])
	assert.Equal(t, "local", auctionBlock["distribution_backend"])

	w = fix.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	w = fix.get(t, "/aip/ping")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestContextNoBid(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/aip/context", contextBody("ctx_http_1", "running shoes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["no_bid"])
	assert.Nil(t, body["winner"])
	token, _ := body["serve_token"].(string)
	assert.True(t, strings.HasPrefix(token, "stk_"))
}

func TestContextAliasRoute(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/context", contextBody("ctx_http_2", "running shoes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ctx_http_2", decodeBody(t, w)["auction_id"])
}

func TestContextRejectsSchemaViolations(t *testing.T) {
	fix := setupService(t)

	body := contextBody("", "running shoes")
	delete(body, "request_id")
	w := fix.post(t, "/aip/context", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_invalid", errorKind(t, w))
}

func TestContextRejectsMalformedJSON(t *testing.T) {
	fix := setupService(t)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/aip/context", strings.NewReader("{not json"))
	require.NoError(t, err)
	fix.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_invalid", errorKind(t, w))
}

func TestContextDuplicateAuctionID(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/aip/context", contextBody("ctx_http_3", "running shoes"))
	require.Equal(t, http.StatusOK, w.Code)

	w = fix.post(t, "/aip/context", contextBody("ctx_http_3", "running shoes"))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", errorKind(t, w))
}

func TestAuctionFlowWithSignedBids(t *testing.T) {
	fix := setupService(t)

	result := fix.runAuction(t, "ctx_http_4", "trail shoes",
		fix.signedBid(t, "ctx_http_4", "alpha", "1.00", "CPC"),
		fix.signedBid(t, "ctx_http_4", "beta", "0.50", "CPA"),
	)

	// CPA outranks CPC regardless of price; the clearing price is the
	// second-highest price overall.
	winner := result["winner"].(map[string]any)
	assert.Equal(t, "beta", winner["bidder"])
	assert.Equal(t, "0.5000", winner["price"])
	assert.Equal(t, "0.5000", winner["clearing_price"])
	assert.Nil(t, result["no_bid"])

	token := result["serve_token"].(string)
	require.True(t, strings.HasPrefix(token, "stk_"))

	rec, err := fix.ledger.Get(context.Background(), "ctx_http_4")
	require.NoError(t, err)
	assert.Equal(t, "served", rec["state"])
	assert.Len(t, rec["bids"].([]any), 2)
}

func TestBidRejectionsInsideOpenWindow(t *testing.T) {
	fix := setupService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tap := fix.pub.Subscribe(ctx, "retail")

	raw, err := json.Marshal(contextBody("ctx_http_5", "running shoes"))
	require.NoError(t, err)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/aip/context", bytes.NewReader(raw))
		fix.router.ServeHTTP(w, req)
		done <- w
	}()
	<-tap

	// Tampering after signing breaks the signature.
	tampered := fix.signedBid(t, "ctx_http_5", "alpha", "1.00", "CPC")
	tampered["price"] = "9.99"
	w := fix.post(t, "/aip/bid-response", tampered)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "signature_invalid", errorKind(t, w))

	// A registered bidder outside the auction's pools is not invited.
	w = fix.post(t, "/aip/bid-response", fix.signedBid(t, "ctx_http_5", "gamma", "2.00", "CPC"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_invited", errorKind(t, w))

	// First alpha bid lands; replaying the same signed payload trips the
	// nonce check, and a fresh nonce still cannot bid twice.
	accepted := fix.signedBid(t, "ctx_http_5", "alpha", "1.00", "CPC")
	w = fix.post(t, "/aip/bid-response", accepted)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "accepted", decodeBody(t, w)["status"])

	w = fix.post(t, "/aip/bid-response", accepted)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "nonce_duplicate", errorKind(t, w))

	w = fix.post(t, "/aip/bid-response", fix.signedBid(t, "ctx_http_5", "alpha", "1.25", "CPC"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "duplicate_bid", errorKind(t, w))

	res := <-done
	require.Equal(t, http.StatusOK, res.Code)
}

func TestBidUnknownAuction(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/aip/bid-response", fix.signedBid(t, "ctx_never_ran", "alpha", "1.00", "CPC"))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_auction", errorKind(t, w))
}

func TestBidAfterWindowClosed(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/aip/context", contextBody("ctx_http_6", "running shoes"))
	require.Equal(t, http.StatusOK, w.Code)

	// The auction settled; a late bid is window_closed, not unknown.
	w = fix.post(t, "/aip/bid-response", fix.signedBid(t, "ctx_http_6", "alpha", "1.00", "CPC"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "window_closed", errorKind(t, w))
}

func TestBidRejectsUnsignedPayload(t *testing.T) {
	fix := setupService(t)

	payload := fix.signedBid(t, "ctx_http_7", "alpha", "1.00", "CPC")
	delete(payload, "signature")
	w := fix.post(t, "/aip/bid-response", payload)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_invalid", errorKind(t, w))
}

func TestEventLifecycle(t *testing.T) {
	fix := setupService(t)

	result := fix.runAuction(t, "ctx_http_8", "trail shoes",
		fix.signedBid(t, "ctx_http_8", "alpha", "1.00", "CPC"),
	)
	token := result["serve_token"].(string)

	w := fix.post(t, "/events/cpx", fix.signedEvent(t, "ctx_http_8", token, "alpha", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "cpx", body["event_type"])
	assert.Equal(t, token, body["serve_token"])
	assert.Equal(t, "cpx_reported", body["state"])
	assert.Equal(t, true, body["applied"])

	// A second event type cannot follow: the record left served.
	w = fix.post(t, "/events/cpc", fix.signedEvent(t, "ctx_http_8", token, "alpha", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "terminal_state", errorKind(t, w))
}

func TestEventReplayRejectedByNonceGate(t *testing.T) {
	fix := setupService(t)

	result := fix.runAuction(t, "ctx_http_9", "trail shoes",
		fix.signedBid(t, "ctx_http_9", "alpha", "1.00", "CPC"),
	)
	token := result["serve_token"].(string)

	ev := fix.signedEvent(t, "ctx_http_9", token, "alpha", nil)
	w := fix.post(t, "/events/cpc", ev)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody(t, w)["applied"])

	// The replay reuses the nonce, so it is caught at the transport gate.
	w = fix.post(t, "/events/cpc", ev)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "nonce_duplicate", errorKind(t, w))
}

func TestEventLegacyBodyTypedRoute(t *testing.T) {
	fix := setupService(t)

	result := fix.runAuction(t, "ctx_http_10", "trail shoes",
		fix.signedBid(t, "ctx_http_10", "alpha", "1.00", "CPC"),
	)
	token := result["serve_token"].(string)

	ev := fix.signedEvent(t, "ctx_http_10", token, "alpha", map[string]any{"event_type": "cpa_conversion"})
	w := fix.post(t, "/aip/events", ev)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "cpa", body["event_type"])
	assert.Equal(t, "cpa_reported", body["state"])
}

func TestEventWrongServeToken(t *testing.T) {
	fix := setupService(t)

	fix.runAuction(t, "ctx_http_11", "trail shoes",
		fix.signedBid(t, "ctx_http_11", "alpha", "1.00", "CPC"),
	)

	w := fix.post(t, "/events/cpx", fix.signedEvent(t, "ctx_http_11", "stk_wrong", "alpha", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_auction", errorKind(t, w))
}

func TestEventUnknownAuction(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/events/cpx", fix.signedEvent(t, "ctx_never_ran", "stk_x", "alpha", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_auction", errorKind(t, w))
}

func TestEventRejectsUnknownPathType(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/events/view", fix.signedEvent(t, "ctx_http_12", "stk_x", "alpha", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_invalid", errorKind(t, w))
}

func TestRecommendationRequiresIdentifiers(t *testing.T) {
	fix := setupService(t)

	w := fix.post(t, "/v1/weave/recommendations", map[string]any{"message_id": "msg_1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "schema_invalid", errorKind(t, w))
	assert.Contains(t, w.Body.String(), "session_id is required")
}

func TestRecommendationLifecycle(t *testing.T) {
	fix := setupService(t)

	body := map[string]any{
		"session_id": "sess-http",
		"message_id": "msg-http-1",
		"query":      "best hiking boots",
	}

	w := fix.post(t, "/v1/weave/recommendations", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody(t, w)
	assert.Equal(t, "in_progress", first["status"])
	assert.Equal(t, float64(150), first["retry_after_ms"])

	require.Eventually(t, func() bool {
		w := fix.post(t, "/v1/weave/recommendations", body)
		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp["status"] == "completed"
	}, 2*time.Second, 20*time.Millisecond)

	w = fix.post(t, "/v1/weave/recommendations", body)
	final := decodeBody(t, w)
	token, _ := final["serve_token"].(string)
	assert.True(t, strings.HasPrefix(token, "stk_"))
}
