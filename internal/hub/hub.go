// Package hub is the session-scoped broadcast signaling server. It never
// inspects envelopes beyond framing: every frame from one subscriber is
// fanned out verbatim to all other subscribers of the same session, and
// addressing is the clients' concern.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendQueue     = 32
	writeDeadline = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id      string
	session string
	conn    *websocket.Conn
	send    chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *client) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

type Hub struct {
	readLimit int64
	limiter   *RateLimiter

	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
}

func New(readLimit int64, limiter *RateLimiter) *Hub {
	return &Hub{
		readLimit: readLimit,
		limiter:   limiter,
		sessions:  make(map[string]map[*client]struct{}),
	}
}

// HandleWS upgrades one subscriber and serves it until disconnect. The
// welcome frame goes out before the client is registered, so a client
// never sees session traffic before its subscription confirmation.
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	session := c.Param("session")
	if session == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("ws upgrade")
		return
	}
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	cl := &client{
		id:      uuid.NewString(),
		session: session,
		conn:    ws,
		send:    make(chan []byte, sendQueue),
	}
	log.Info().Str("module", "hub").Str("session", session).Str("client", cl.id).Msg("subscriber connected")

	if err := ws.WriteJSON(map[string]string{"type": "welcome"}); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("welcome write")
		_ = ws.Close()
		return
	}

	h.register(cl)
	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, cl)
	h.readPump(ctx, cl)
	cancel()
	h.unregister(cl)
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[cl.session]
	if !ok {
		subs = make(map[*client]struct{})
		h.sessions[cl.session] = subs
	}
	subs[cl] = struct{}{}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if subs, ok := h.sessions[cl.session]; ok {
		delete(subs, cl)
		if len(subs) == 0 {
			delete(h.sessions, cl.session)
		}
	}
	h.mu.Unlock()
	cl.close()
	if h.limiter != nil {
		h.limiter.Forget(cl.id)
	}
	log.Info().Str("module", "hub").Str("session", cl.session).Str("client", cl.id).Msg("subscriber gone")
}

// broadcast fans one frame out to every other subscriber of the session.
// Slow consumers drop frames rather than stall the sender.
func (h *Hub) broadcast(from *client, data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.sessions[from.session]))
	for cl := range h.sessions[from.session] {
		if cl != from {
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if err := cl.trySend(data); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("client", cl.id).Msg("drop frame")
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cl *client) {
	defer log.Info().Str("module", "hub").Str("client", cl.id).Msg("readPump closing")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := cl.conn.ReadMessage()
			if err != nil {
				return
			}
			if h.limiter != nil && !h.limiter.Allow(cl.id) {
				log.Warn().Str("module", "hub").Str("client", cl.id).Msg("rate limited, frame dropped")
				continue
			}
			h.broadcast(cl, data)
		}
	}
}

func (h *Hub) writePump(ctx context.Context, cl *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hub").Str("client", cl.id).Msg("writePump write error")
				return
			}
		}
	}
}
