package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	auctionsStarted = metrics.NewCounter("aip_auctions_started_total")
	auctionsSettled = metrics.NewCounter("aip_auctions_settled_total")
	auctionsNoBid   = metrics.NewCounter("aip_auctions_no_bid_total")
	bidsAccepted    = metrics.NewCounter("aip_bids_accepted_total")
	weaveCacheHits  = metrics.NewCounter("aip_weave_cache_hits_total")
	weaveCacheMiss  = metrics.NewCounter("aip_weave_cache_misses_total")
)

func IncAuctionStarted() { auctionsStarted.Inc() }
func IncAuctionSettled() { auctionsSettled.Inc() }
func IncAuctionNoBid()   { auctionsNoBid.Inc() }
func IncBidAccepted()    { bidsAccepted.Inc() }
func IncWeaveCacheHit()  { weaveCacheHits.Inc() }
func IncWeaveCacheMiss() { weaveCacheMiss.Inc() }

// IncBidRejected counts rejected bids labelled by the protocol error kind.
func IncBidRejected(kind string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`aip_bids_rejected_total{kind=%q}`, kind)).Inc()
}

// IncEvent counts ingested ad events by type (cpx, cpc, cpa).
func IncEvent(eventType string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`aip_events_total{type=%q}`, eventType)).Inc()
}
