package ledger

import (
	"github.com/GouniManikumar12/aip-server/protocol"
)

// State is the lifecycle position of a ledger record.
//
// Every auction record starts in created and moves to served or no_bid when
// the window closes. A served record accepts exactly one billable ad event,
// which moves it into the matching terminal reported state. Duplicate
// deliveries of the recorded event are no-ops; any different event against a
// terminal record is rejected.
type State string

const (
	StateCreated     State = "created"
	StateServed      State = "served"
	StateCPXReported State = "cpx_reported"
	StateCPCReported State = "cpc_reported"
	StateCPAReported State = "cpa_reported"
	StateNoBid       State = "no_bid"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateCPXReported, StateCPCReported, StateCPAReported, StateNoBid:
		return true
	}
	return false
}

// Valid reports whether s is a recognized ledger state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateServed, StateCPXReported, StateCPCReported, StateCPAReported, StateNoBid:
		return true
	}
	return false
}

// eventTransitions holds the outgoing edges of the served state. Only a
// served auction accepts ad events.
var eventTransitions = map[protocol.EventType]State{
	protocol.EventCPX: StateCPXReported,
	protocol.EventCPC: StateCPCReported,
	protocol.EventCPA: StateCPAReported,
}

// TransitionFor returns the state an ad event moves a served record into.
func TransitionFor(event protocol.EventType) (State, bool) {
	next, ok := eventTransitions[event]
	return next, ok
}
