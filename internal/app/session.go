package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
	"github.com/meshcall/meshcall/internal/domain"
)

// ChannelFactory builds the signal channel for one join; handler is the
// engine that will consume inbound envelopes.
type ChannelFactory func(self core.PeerID, handler core.SignalHandler) core.SignalChannel

// Session is the bounded-lifecycle mesh participant: constructed per
// join with a fresh peer id, destroyed on Leave. It wires the media
// controller, peer registry, negotiation engine and event bus together.
type Session struct {
	key  core.SessionKey
	self core.PeerID

	media   *MediaController
	engine  *Engine
	bus     *EventBus
	channel core.SignalChannel
	cancel  context.CancelFunc
}

func NewSession(key core.SessionKey, capturer core.Capturer, conns ConnectionFactory, channels ChannelFactory) *Session {
	self := core.NewPeerID()
	bus := NewEventBus()
	media := NewMediaController(capturer)
	engine := NewEngine(self, NewRegistry(conns), media, bus)
	media.SetFanout(engine)
	channel := channels(self, engine)
	engine.SetChannel(channel)
	return &Session{
		key:     key,
		self:    self,
		media:   media,
		engine:  engine,
		bus:     bus,
		channel: channel,
	}
}

func (s *Session) Self() core.PeerID       { return s.self }
func (s *Session) Key() core.SessionKey    { return s.key }
func (s *Session) Media() *MediaController { return s.media }

// Subscribe registers an observer for remote-stream, disconnect and
// roster events.
func (s *Session) Subscribe(obs core.SessionObserver) {
	s.bus.Subscribe(obs)
}

func (s *Session) Participants() []domain.Participant {
	return s.engine.Participants()
}

// Join acquires the wanted local media, then subscribes to the session
// channel and announces presence. A device failure surfaces before
// anything is announced; a subscribe failure is session-fatal.
func (s *Session) Join(ctx context.Context, videoWanted, audioWanted bool) error {
	if err := s.media.Acquire(videoWanted, audioWanted); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.engine.bind(ctx)
	if err := s.channel.Open(ctx); err != nil {
		s.media.Close()
		cancel()
		return fmt.Errorf("join session %s: %w", s.key, err)
	}
	log.Info().Str("module", "app.session").Str("session", string(s.key)).Str("peer", string(s.self)).Msg("joined")
	return nil
}

// Leave cancels every in-flight negotiation, closes every peer
// connection and releases all local media.
func (s *Session) Leave() {
	if err := s.channel.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("channel close")
	}
	s.engine.CloseAll()
	s.media.Close()
	if s.cancel != nil {
		s.cancel()
	}
	log.Info().Str("module", "app.session").Str("session", string(s.key)).Str("peer", string(s.self)).Msg("left")
}
