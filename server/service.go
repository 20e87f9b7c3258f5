package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/common"
	"github.com/GouniManikumar12/aip-server/ledger"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/registry"
	"github.com/GouniManikumar12/aip-server/transport"
	"github.com/GouniManikumar12/aip-server/validation"
	"github.com/GouniManikumar12/aip-server/weave"
)

// Config wires the service's collaborators plus the knobs reported on the
// meta and admin surfaces. All collaborators are required.
type Config struct {
	Log         *slog.Logger
	Registry    *registry.Registry
	Runner      *auction.Runner
	Inbox       *auction.Inbox
	Ledger      *ledger.Service
	Verifier    *transport.Verifier
	Schemas     *validation.Registry
	Coordinator *weave.Coordinator

	WindowMillis        int64
	DistributionBackend string
	StorageBackend      string
	NonceTTLSeconds     int64
	MaxClockSkewMillis  int64
}

// Service handles the AIP HTTP endpoints.
type Service struct {
	log         *slog.Logger
	registry    *registry.Registry
	runner      *auction.Runner
	inbox       *auction.Inbox
	ledger      *ledger.Service
	verifier    *transport.Verifier
	schemas     *validation.Registry
	coordinator *weave.Coordinator

	windowMillis        int64
	distributionBackend string
	storageBackend      string
	nonceTTLSeconds     int64
	maxClockSkewMillis  int64

	startedAt time.Time
	now       func() time.Time
}

// New creates the service.
func New(cfg Config) *Service {
	return &Service{
		log:                 cfg.Log,
		registry:            cfg.Registry,
		runner:              cfg.Runner,
		inbox:               cfg.Inbox,
		ledger:              cfg.Ledger,
		verifier:            cfg.Verifier,
		schemas:             cfg.Schemas,
		coordinator:         cfg.Coordinator,
		windowMillis:        cfg.WindowMillis,
		distributionBackend: cfg.DistributionBackend,
		storageBackend:      cfg.StorageBackend,
		nonceTTLSeconds:     cfg.NonceTTLSeconds,
		maxClockSkewMillis:  cfg.MaxClockSkewMillis,
		startedAt:           time.Now(),
		now:                 time.Now,
	}
}

// RegisterRoutes mounts every AIP endpoint on r.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/", s.handleMeta)
	r.Get("/health", s.handleHealth)
	r.Get("/aip/ping", s.handlePing)

	r.Post("/aip/context", s.handleContext)
	r.Post("/context", s.handleContext)
	r.Post("/aip/bid-response", s.handleBidResponse)
	r.Post("/events/{type}", s.handleEvent)
	r.Post("/aip/events", s.handleEvent) // legacy wire: event_type in the body
	r.Post("/v1/weave/recommendations", s.handleRecommendation)

	r.Get("/admin/health", s.handleAdminHealth)
	r.Get("/admin/stats", s.handleAdminStats)
	r.Get("/admin/config", s.handleAdminConfig)
	r.Get("/admin/bidders", s.handleAdminBidders)
}

func (s *Service) handleMeta(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": common.PackageName,
		"version": common.Version,
		"transport": map[string]any{
			"nonce_ttl_seconds": s.nonceTTLSeconds,
			"max_clock_skew_ms": s.maxClockSkewMillis,
		},
		"auction": map[string]any{
			"window_ms":            s.windowMillis,
			"distribution_backend": s.distributionBackend,
		},
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": common.Version})
}

// readPayload drains the body, checks it against the named schema and
// decodes it into a map. On failure the error response is already written.
func (s *Service) readPayload(w http.ResponseWriter, r *http.Request, schema string) (map[string]any, bool) {
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, protocol.Errorf(protocol.KindSchemaInvalid, "reading body: %v", err))
		return nil, false
	}
	if err := s.schemas.Validate(schema, raw); err != nil {
		s.writeError(w, err)
		return nil, false
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.writeError(w, protocol.Errorf(protocol.KindSchemaInvalid, "decoding body: %v", err))
		return nil, false
	}
	return payload, true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("writing response", "err", err)
	}
}

// writeError serializes err in the uniform failure envelope. Unclassified
// errors surface as kind internal.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	pe := protocol.AsError(err)
	s.writeJSON(w, pe.Kind.HTTPStatus(), map[string]any{"error": pe})
}
