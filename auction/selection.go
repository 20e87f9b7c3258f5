package auction

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// Rank orders bids by pricing model priority (CPA over CPC over CPX), then
// by descending price, then by ascending bidder name. The input is not
// modified. Ranking is deterministic: the same bid set always produces the
// same order regardless of arrival order.
func Rank(bids []*protocol.BidResponse) []*protocol.BidResponse {
	ranked := make([]*protocol.BidResponse, len(bids))
	copy(ranked, bids)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if pa, pb := a.PricingModel.Priority(), b.PricingModel.Priority(); pa != pb {
			return pa > pb
		}
		if !a.Price.Equal(b.Price) {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Bidder < b.Bidder
	})
	return ranked
}

// Select picks the winner and the clearing price. CPX bids under cpxFloor
// are excluded before ranking; a zero floor disables the filter. The
// clearing price is the second-highest price across all eligible bids
// regardless of pricing model, or the winner's own price when fewer than
// two bids survived. A nil winner means no bid survived.
func Select(bids []*protocol.BidResponse, cpxFloor decimal.Decimal) (*protocol.BidResponse, decimal.Decimal) {
	eligible := bids
	if cpxFloor.IsPositive() {
		eligible = make([]*protocol.BidResponse, 0, len(bids))
		for _, bid := range bids {
			if bid.PricingModel == protocol.PricingCPX && bid.Price.LessThan(cpxFloor) {
				continue
			}
			eligible = append(eligible, bid)
		}
	}
	if len(eligible) == 0 {
		return nil, decimal.Zero
	}

	winner := Rank(eligible)[0]
	return winner, clearingPrice(eligible, winner)
}

func clearingPrice(eligible []*protocol.BidResponse, winner *protocol.BidResponse) decimal.Decimal {
	if len(eligible) < 2 {
		return winner.Price
	}
	prices := make([]decimal.Decimal, len(eligible))
	for i, bid := range eligible {
		prices[i] = bid.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].GreaterThan(prices[j]) })
	return prices[1]
}
