package app

import (
	"sync"

	"github.com/meshcall/meshcall/internal/core"
)

// EventBus fans session events out to every subscribed observer.
// Subscription order is delivery order; callbacks must not block.
type EventBus struct {
	mu        sync.RWMutex
	observers []core.SessionObserver
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(obs core.SessionObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

func (b *EventBus) snapshot() []core.SessionObserver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.SessionObserver, len(b.observers))
	copy(out, b.observers)
	return out
}

func (b *EventBus) RemoteStream(peer core.PeerID, stream core.RemoteStream) {
	for _, obs := range b.snapshot() {
		obs.OnRemoteStream(peer, stream)
	}
}

func (b *EventBus) PeerDisconnected(peer core.PeerID) {
	for _, obs := range b.snapshot() {
		obs.OnPeerDisconnected(peer)
	}
}

func (b *EventBus) ParticipantUpdate() {
	for _, obs := range b.snapshot() {
		obs.OnParticipantUpdate()
	}
}
