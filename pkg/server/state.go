package server

import (
	"fmt"
	"log/slog"
)

// State is a step of the per-request protocol state machine.
type State int

const (
	AwaitingRequest State = iota
	AdvertisingRefs
	NegotiatingWants
	StreamingPack
	Done
	Rejected
)

var stateNames = [...]string{
	AwaitingRequest:  "awaiting-request",
	AdvertisingRefs:  "advertising-refs",
	NegotiatingWants: "negotiating-wants",
	StreamingPack:    "streaming-pack",
	Done:             "done",
	Rejected:         "rejected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal next states. Smart HTTP is stateless, so
// discovery (GET info/refs) and negotiation (POST git-upload-pack) arrive
// as separate requests and each starts from AwaitingRequest.
var transitions = map[State][]State{
	AwaitingRequest:  {AdvertisingRefs, NegotiatingWants, Rejected},
	AdvertisingRefs:  {Done, Rejected},
	NegotiatingWants: {StreamingPack, Done, Rejected},
	StreamingPack:    {Done, Rejected},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// session tracks one request through the state machine.
type session struct {
	state State
	log   *slog.Logger
}

func newSession(log *slog.Logger) *session {
	return &session{state: AwaitingRequest, log: log}
}

// advance moves to next, failing on an illegal transition.
func (s *session) advance(next State) error {
	if !CanTransition(s.state, next) {
		return fmt.Errorf("illegal protocol transition %s -> %s", s.state, next)
	}
	s.log.Debug("protocol state", "from", s.state.String(), "to", next.String())
	s.state = next
	return nil
}

// reject moves to Rejected from any non-terminal state.
func (s *session) reject(reason error) {
	if s.state.Terminal() {
		return
	}
	s.log.Debug("protocol state", "from", s.state.String(), "to", Rejected.String(), "reason", reason)
	s.state = Rejected
}
