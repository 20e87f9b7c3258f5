package auction

import (
	"errors"
	"sync"
	"time"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// ErrNoSlot reports that no slot exists for an auction id. The caller
// distinguishes an already settled auction from a never-seen one through
// the ledger.
var ErrNoSlot = errors.New("auction: no slot for auction id")

type slotState int

const (
	slotOpen slotState = iota
	slotClosed
)

// slot is the rendezvous point for one running auction. The inbox map lock
// only covers insert, remove and lookup; everything per auction runs under
// the slot's own mutex.
type slot struct {
	mu       sync.Mutex
	state    slotState
	deadline time.Time
	invited  map[string]bool
	bids     []*protocol.BidResponse
	seen     map[string]bool
	done     chan struct{}
	signaled bool
}

// signalDone fires the completion signal once.
func (s *slot) signalDone() {
	if !s.signaled {
		s.signaled = true
		close(s.done)
	}
}

// Inbox is the process-wide rendezvous between the platform request opening
// an auction and the bidder requests submitting into it.
type Inbox struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{slots: make(map[string]*slot)}
}

// Open inserts an open slot for auctionID closing at deadline. The returned
// channel closes when every invited bidder has submitted; an auction with no
// invited bidders completes immediately. Opening an id that already has a
// slot is a conflict.
func (in *Inbox) Open(auctionID string, invited []string, deadline time.Time) (<-chan struct{}, error) {
	s := &slot{
		state:    slotOpen,
		deadline: deadline,
		invited:  make(map[string]bool, len(invited)),
		seen:     make(map[string]bool, len(invited)),
		done:     make(chan struct{}),
	}
	for _, name := range invited {
		s.invited[name] = true
	}
	if len(s.invited) == 0 {
		s.signalDone()
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.slots[auctionID]; ok {
		return nil, protocol.Errorf(protocol.KindConflict, "auction %s is already open", auctionID)
	}
	in.slots[auctionID] = s
	return s.done, nil
}

// Submit records a bid into the slot for bid.AuctionID. Rejections carry
// protocol error kinds; a missing slot returns ErrNoSlot.
func (in *Inbox) Submit(bid *protocol.BidResponse, now time.Time) error {
	in.mu.Lock()
	s, ok := in.slots[bid.AuctionID]
	in.mu.Unlock()
	if !ok {
		return ErrNoSlot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotOpen || now.After(s.deadline) {
		return protocol.Errorf(protocol.KindWindowClosed, "auction %s window has closed", bid.AuctionID)
	}
	if !s.invited[bid.Bidder] {
		return protocol.Errorf(protocol.KindNotInvited, "bidder %s is not invited to auction %s", bid.Bidder, bid.AuctionID)
	}
	if s.seen[bid.Bidder] {
		return protocol.Errorf(protocol.KindDuplicateBid, "bidder %s already bid on auction %s", bid.Bidder, bid.AuctionID)
	}

	s.seen[bid.Bidder] = true
	s.bids = append(s.bids, bid)
	if len(s.bids) == len(s.invited) {
		s.signalDone()
	}
	return nil
}

// Close transitions the slot to closed and snapshots its bids. The slot
// stays in the inbox until Settle so that late bids are rejected with
// window_closed rather than unknown_auction while settlement runs.
func (in *Inbox) Close(auctionID string) []*protocol.BidResponse {
	in.mu.Lock()
	s, ok := in.slots[auctionID]
	in.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = slotClosed
	bids := make([]*protocol.BidResponse, len(s.bids))
	copy(bids, s.bids)
	return bids
}

// Settle removes the slot from the inbox.
func (in *Inbox) Settle(auctionID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.slots, auctionID)
}

// OpenSlots returns the number of auctions currently in the inbox.
func (in *Inbox) OpenSlots() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.slots)
}
