package server

import (
	"context"
	"math"
	"net/http"
	"os"
	"runtime"
	"sort"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/GouniManikumar12/aip-server/common"
)

func (s *Service) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"uptime_seconds":    int64(s.now().Sub(s.startedAt).Seconds()),
		"version":           common.Version,
		"auction_window_ms": s.windowMillis,
	})
}

// handleAdminStats aggregates the ledger into operator-facing rates. Stores
// without the list capability report zero auctions.
func (s *Service) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.ListRecords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	totalBids := 0
	noBidCount := 0
	bidsByBidder := map[string]int{}
	winsByBidder := map[string]int{}
	invitedByBidder := map[string]int{}
	poolDistribution := map[string]int{}

	for _, rec := range records {
		pools, _ := rec["pools"].([]any)
		for _, p := range pools {
			if name, ok := p.(string); ok {
				poolDistribution[name]++
			}
		}
		eligible, _ := rec["eligible_bidders"].([]any)
		for _, e := range eligible {
			if name, ok := e.(string); ok {
				invitedByBidder[name]++
			}
		}
		bids, _ := rec["bids"].([]any)
		totalBids += len(bids)
		for _, b := range bids {
			if name := bidderFromPayload(b); name != "" {
				bidsByBidder[name]++
			}
		}
		if noBid, _ := rec["no_bid"].(bool); noBid {
			noBidCount++
		}
		if name := bidderFromPayload(rec["winner"]); name != "" {
			winsByBidder[name]++
		}
	}

	noBidRate := 0.0
	if len(records) > 0 {
		noBidRate = round4(float64(noBidCount) / float64(len(records)))
	}

	successRates := map[string]float64{}
	for bidder, bids := range bidsByBidder {
		successRates[bidder] = round4(float64(winsByBidder[bidder]) / float64(bids))
	}

	// Timeout rate covers every registered bidder: invitations that drew no
	// bid count as timeouts, and a bidder never invited reports 0.0.
	timeoutRates := map[string]float64{}
	for _, b := range s.registry.All() {
		rate := 0.0
		if invitations := invitedByBidder[b.Name]; invitations > 0 {
			missed := invitations - bidsByBidder[b.Name]
			if missed < 0 {
				missed = 0
			}
			rate = round4(float64(missed) / float64(invitations))
		}
		timeoutRates[b.Name] = rate
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_auctions":       len(records),
		"total_bids":           totalBids,
		"no_bid_rate":          noBidRate,
		"bidder_success_rates": successRates,
		"bidder_timeout_rates": timeoutRates,
		"pool_distribution":    poolDistribution,
		"process":              s.processStats(r.Context()),
	})
}

func (s *Service) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	// All() is name-ordered, so the per-pool bidder lists come out sorted.
	pools := map[string][]string{}
	for _, b := range s.registry.All() {
		for _, pool := range b.Pools {
			pools[pool] = append(pools[pool], b.Name)
		}
	}
	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]map[string]any, 0, len(names))
	for _, name := range names {
		definitions = append(definitions, map[string]any{
			"name":    name,
			"bidders": pools[name],
			"active":  len(pools[name]) > 0,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"auction_window_ms": s.windowMillis,
		"pool_definitions":  definitions,
		"pubsub_provider":   s.distributionBackend,
		"version":           common.Version,
		"storage_backend":   s.storageBackend,
	})
}

func (s *Service) handleAdminBidders(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0, s.registry.Len())
	for _, b := range s.registry.All() {
		out = append(out, map[string]any{
			"id":          b.Name,
			"endpoint":    b.Endpoint,
			"pools":       b.Pools,
			"permissions": []string{"submit-bid"},
			"status":      "active",
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// processStats samples the server process. Probe failures leave the zero
// values in place rather than failing the stats request.
func (s *Service) processStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"pid":         os.Getpid(),
		"goroutines":  runtime.NumGoroutine(),
		"rss_bytes":   uint64(0),
		"cpu_percent": 0.0,
		"load_1m":     0.0,
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats["rss_bytes"] = mem.RSS
	}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats["cpu_percent"] = round4(pct)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		stats["load_1m"] = avg.Load1
	}
	return stats
}

// bidderFromPayload digs the bidder name out of a stored bid or winner
// payload. Early wire shapes nested the bid under "bid" and named the
// bidder brand_agent_id or agent_id; all three spellings are honored.
func bidderFromPayload(v any) string {
	payload, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if nested, ok := payload["bid"].(map[string]any); ok {
		payload = nested
	}
	for _, key := range []string{"brand_agent_id", "agent_id", "bidder"} {
		if name, _ := payload[key].(string); name != "" {
			return name
		}
	}
	return ""
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
