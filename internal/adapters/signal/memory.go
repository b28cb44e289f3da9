// Package signal provides session-scoped broadcast channels implementing
// the core.SignalChannel port: an in-process hub, a WebSocket client and
// a Redis pub/sub client.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meshcall/meshcall/internal/core"
)

// MemoryHub is an in-process broadcast medium. Delivery is synchronous
// and in publish order per sender, matching the ordering guarantee of
// the real transports. Used by tests and the demo's loopback mode.
type MemoryHub struct {
	mu       sync.RWMutex
	sessions map[core.SessionKey]map[core.PeerID]*MemoryChannel
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{sessions: make(map[core.SessionKey]map[core.PeerID]*MemoryChannel)}
}

// Channel creates an unopened channel for one participant.
func (h *MemoryHub) Channel(session core.SessionKey, self core.PeerID, handler core.SignalHandler) *MemoryChannel {
	return &MemoryChannel{hub: h, session: session, self: self, handler: handler}
}

func (h *MemoryHub) attach(c *MemoryChannel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.sessions[c.session]
	if !ok {
		peers = make(map[core.PeerID]*MemoryChannel)
		h.sessions[c.session] = peers
	}
	if _, dup := peers[c.self]; dup {
		return fmt.Errorf("peer %s already subscribed", c.self)
	}
	peers[c.self] = c
	return nil
}

func (h *MemoryHub) detach(c *MemoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.sessions[c.session]; ok {
		delete(peers, c.self)
		if len(peers) == 0 {
			delete(h.sessions, c.session)
		}
	}
}

func (h *MemoryHub) broadcast(session core.SessionKey, from core.PeerID, env core.Envelope) {
	h.mu.RLock()
	targets := make([]*MemoryChannel, 0, len(h.sessions[session]))
	for id, c := range h.sessions[session] {
		if id != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.handler.HandleSignal(env)
	}
}

type MemoryChannel struct {
	hub     *MemoryHub
	session core.SessionKey
	self    core.PeerID
	handler core.SignalHandler

	mu   sync.Mutex
	open bool
}

var _ core.SignalChannel = (*MemoryChannel)(nil)

func (c *MemoryChannel) Open(_ context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return errors.New("channel already open")
	}
	if err := c.hub.attach(c); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrSignalingUnavailable, err)
	}
	c.open = true
	c.mu.Unlock()

	c.hub.broadcast(c.session, c.self, core.NewPresence(core.TypeJoined, c.self))
	return nil
}

func (c *MemoryChannel) Send(env core.Envelope) error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return errors.New("channel closed")
	}
	c.hub.broadcast(c.session, c.self, env)
	return nil
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()

	c.hub.broadcast(c.session, c.self, core.NewPresence(core.TypeLeft, c.self))
	c.hub.detach(c)
	return nil
}
