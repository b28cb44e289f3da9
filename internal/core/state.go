package core

import "fmt"

// NegotiationState is the explicit per-peer-connection handshake state.
// All transitions go through Transition so tests can assert on state
// directly instead of inferring it from side effects.
type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s NegotiationState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// CanOffer reports whether producing a local offer is allowed. Offering
// mid-handshake is the glare condition the engine must refuse.
func (s NegotiationState) CanOffer() bool {
	return s == StateNew || s == StateStable
}

type NegotiationEvent int

const (
	EventLocalOffer NegotiationEvent = iota
	EventRemoteOffer
	EventAnswered // local answer produced, or remote answer applied
	EventClose
	EventFail
)

func (e NegotiationEvent) String() string {
	switch e {
	case EventLocalOffer:
		return "local-offer"
	case EventRemoteOffer:
		return "remote-offer"
	case EventAnswered:
		return "answered"
	case EventClose:
		return "close"
	case EventFail:
		return "fail"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition returns the state following ev. Close and Fail are accepted
// from any non-terminal state; everything else must match the handshake.
func Transition(s NegotiationState, ev NegotiationEvent) (NegotiationState, error) {
	if s.Terminal() {
		return s, fmt.Errorf("negotiation state %s is terminal", s)
	}
	switch ev {
	case EventClose:
		return StateClosed, nil
	case EventFail:
		return StateFailed, nil
	case EventLocalOffer:
		if !s.CanOffer() {
			return s, fmt.Errorf("cannot offer while %s", s)
		}
		return StateHaveLocalOffer, nil
	case EventRemoteOffer:
		if s != StateNew && s != StateStable {
			return s, fmt.Errorf("unexpected remote offer while %s", s)
		}
		return StateHaveRemoteOffer, nil
	case EventAnswered:
		if s != StateHaveLocalOffer && s != StateHaveRemoteOffer {
			return s, fmt.Errorf("unexpected answer while %s", s)
		}
		return StateStable, nil
	}
	return s, fmt.Errorf("unknown negotiation event %s", ev)
}
