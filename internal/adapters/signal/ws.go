package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

const (
	writeDeadline = 5 * time.Second
	sendQueue     = 32
)

var ErrBackpressure = errors.New("backpressure")

// WSChannel subscribes to one session on the broadcast signaling server.
// The server acks the subscription with a welcome frame before any
// session traffic; Open blocks until that ack arrives.
type WSChannel struct {
	serverURL string
	token     string
	session   core.SessionKey
	self      core.PeerID
	handler   core.SignalHandler

	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalChannel = (*WSChannel)(nil)

// NewWSChannel prepares a channel against serverURL (ws:// or wss://).
// token is optional; when set it is passed for the server's JWT gate.
func NewWSChannel(serverURL, token string, session core.SessionKey, self core.PeerID, handler core.SignalHandler) *WSChannel {
	return &WSChannel{
		serverURL: serverURL,
		token:     token,
		session:   session,
		self:      self,
		handler:   handler,
		send:      make(chan []byte, sendQueue),
	}
}

func (c *WSChannel) Open(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("%w: bad server url: %v", core.ErrSignalingUnavailable, err)
	}
	u.Path = "/ws/" + string(c.session)
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", core.ErrSignalingUnavailable, err)
	}

	// The welcome frame confirms the subscription is active.
	var hello struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "welcome" {
		_ = conn.Close()
		return fmt.Errorf("%w: no welcome from server", core.ErrSignalingUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.cancel = cancel
	go c.writePump(ctx)
	go c.readPump(ctx)

	return c.Send(core.NewPresence(core.TypeJoined, c.self))
}

func (c *WSChannel) Send(env core.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("channel closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSChannel) Close() error {
	// Best-effort departure announcement before releasing the subscription.
	_ = c.Send(core.NewPresence(core.TypeLeft, c.self))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSChannel) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *WSChannel) readPump(ctx context.Context) {
	defer log.Info().Str("module", "signal.ws").Str("peer", string(c.self)).Msg("readPump closing")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.mu.RLock()
				closed := c.closed
				c.mu.RUnlock()
				if !closed {
					log.Error().Err(err).Str("module", "signal.ws").Msg("readPump read error")
				}
				return
			}
			var env core.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Error().Err(err).Str("module", "signal.ws").Msg("bad envelope")
				continue
			}
			if env.From == c.self {
				continue
			}
			c.handler.HandleSignal(env)
		}
	}
}
