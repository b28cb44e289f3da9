package core

import "context"

// SignalHandler consumes envelopes delivered by the session channel.
// The channel delivers in broadcast order per sender; no ordering holds
// across different senders.
type SignalHandler interface {
	HandleSignal(env Envelope)
}

// SignalChannel is the session-scoped broadcast medium used for
// signaling only, never media. Owned by the session; the session must
// Close() it.
type SignalChannel interface {
	// Open subscribes to the session channel and, once the subscription
	// is confirmed active, announces the local peer-joined presence.
	// A subscribe failure is session-fatal (ErrSignalingUnavailable).
	Open(ctx context.Context) error
	// Send broadcasts one envelope to every other subscriber.
	Send(env Envelope) error
	// Close announces peer-left best-effort, then releases the subscription.
	Close() error
}
