package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

// RedisChannel carries the session broadcast over a Redis pub/sub
// channel, for deployments where participants cannot share one
// signaling server instance. Redis echoes our own publishes back, so
// the read loop filters on From.
type RedisChannel struct {
	rdb     *redis.Client
	session core.SessionKey
	self    core.PeerID
	handler core.SignalHandler

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub

	mu     sync.Mutex
	closed bool
}

var _ core.SignalChannel = (*RedisChannel)(nil)

func NewRedisChannel(rdb *redis.Client, session core.SessionKey, self core.PeerID, handler core.SignalHandler) *RedisChannel {
	return &RedisChannel{rdb: rdb, session: session, self: self, handler: handler}
}

func (c *RedisChannel) topic() string {
	return "meshcall:signal:" + string(c.session)
}

func (c *RedisChannel) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	c.cancel = cancel

	c.pubsub = c.rdb.Subscribe(ctx, c.topic())
	// Receive blocks until Redis confirms the subscription is active.
	if _, err := c.pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("%w: subscribe: %v", core.ErrSignalingUnavailable, err)
	}
	go c.readLoop(c.pubsub.Channel())

	return c.Send(core.NewPresence(core.TypeJoined, c.self))
}

func (c *RedisChannel) Send(env core.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("channel closed")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.rdb.Publish(c.ctx, c.topic(), data).Err()
}

func (c *RedisChannel) Close() error {
	_ = c.Send(core.NewPresence(core.TypeLeft, c.self))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.pubsub.Close()
	c.cancel()
	return err
}

func (c *RedisChannel) readLoop(ch <-chan *redis.Message) {
	for msg := range ch {
		var env core.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error().Err(err).Str("module", "signal.redis").Msg("bad envelope")
			continue
		}
		if env.From == c.self {
			continue
		}
		c.handler.HandleSignal(env)
	}
}
