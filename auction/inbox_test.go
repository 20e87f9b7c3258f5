package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GouniManikumar12/aip-server/protocol"
)

func inboxBid(auctionID, bidder string) *protocol.BidResponse {
	return &protocol.BidResponse{AuctionID: auctionID, Bidder: bidder, PricingModel: protocol.PricingCPC}
}

func TestInboxSubmitAndClose(t *testing.T) {
	in := NewInbox()
	deadline := time.Now().Add(time.Minute)

	_, err := in.Open("ctx_1", []string{"alpha", "beta"}, deadline)
	require.NoError(t, err)

	require.NoError(t, in.Submit(inboxBid("ctx_1", "alpha"), time.Now()))

	bids := in.Close("ctx_1")
	require.Len(t, bids, 1)
	require.Equal(t, "alpha", bids[0].Bidder)
}

func TestInboxRejectsUnknownAuction(t *testing.T) {
	in := NewInbox()
	err := in.Submit(inboxBid("ctx_missing", "alpha"), time.Now())
	require.ErrorIs(t, err, ErrNoSlot)
}

func TestInboxRejectsUninvitedBidder(t *testing.T) {
	in := NewInbox()
	_, err := in.Open("ctx_1", []string{"alpha"}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	err = in.Submit(inboxBid("ctx_1", "mallory"), time.Now())
	require.Equal(t, protocol.KindNotInvited, protocol.KindOf(err))
}

func TestInboxRejectsDuplicateBid(t *testing.T) {
	in := NewInbox()
	_, err := in.Open("ctx_1", []string{"alpha", "beta"}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, in.Submit(inboxBid("ctx_1", "alpha"), time.Now()))
	err = in.Submit(inboxBid("ctx_1", "alpha"), time.Now())
	require.Equal(t, protocol.KindDuplicateBid, protocol.KindOf(err))
}

func TestInboxRejectsAfterDeadline(t *testing.T) {
	in := NewInbox()
	deadline := time.Now().Add(50 * time.Millisecond)
	_, err := in.Open("ctx_1", []string{"alpha"}, deadline)
	require.NoError(t, err)

	// The slot is still open but the clock has passed the deadline.
	err = in.Submit(inboxBid("ctx_1", "alpha"), deadline.Add(5*time.Millisecond))
	require.Equal(t, protocol.KindWindowClosed, protocol.KindOf(err))
}

func TestInboxRejectsAfterClose(t *testing.T) {
	in := NewInbox()
	_, err := in.Open("ctx_1", []string{"alpha"}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	in.Close("ctx_1")
	err = in.Submit(inboxBid("ctx_1", "alpha"), time.Now())
	require.Equal(t, protocol.KindWindowClosed, protocol.KindOf(err))

	// Once settled the slot is gone entirely.
	in.Settle("ctx_1")
	err = in.Submit(inboxBid("ctx_1", "alpha"), time.Now())
	require.ErrorIs(t, err, ErrNoSlot)
}

func TestInboxCompletionSignal(t *testing.T) {
	in := NewInbox()
	done, err := in.Open("ctx_1", []string{"alpha", "beta"}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, in.Submit(inboxBid("ctx_1", "alpha"), time.Now()))
	select {
	case <-done:
		t.Fatal("completion fired before all invited bidders submitted")
	default:
	}

	require.NoError(t, in.Submit(inboxBid("ctx_1", "beta"), time.Now()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion signal never fired")
	}
}

func TestInboxCompletionImmediateWithoutInvitees(t *testing.T) {
	in := NewInbox()
	done, err := in.Open("ctx_1", nil, time.Now().Add(time.Minute))
	require.NoError(t, err)

	select {
	case <-done:
	default:
		t.Fatal("auction with no invited bidders should complete immediately")
	}
}

func TestInboxOpenConflict(t *testing.T) {
	in := NewInbox()
	_, err := in.Open("ctx_1", []string{"alpha"}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = in.Open("ctx_1", []string{"alpha"}, time.Now().Add(time.Minute))
	require.Equal(t, protocol.KindConflict, protocol.KindOf(err))

	require.Equal(t, 1, in.OpenSlots())
}
