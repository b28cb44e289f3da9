package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
	"github.com/meshcall/meshcall/internal/domain"
)

// Engine drives the offer/answer/ICE state machine for every peer link
// and is the handler behind the signal channel. Negotiation failures are
// per-peer: they tear down one link, never the session.
type Engine struct {
	self  core.PeerID
	reg   *Registry
	media *MediaController
	bus   *EventBus

	channel core.SignalChannel

	mu     sync.RWMutex
	ctx    context.Context
	roster map[core.PeerID]*domain.Participant
}

func NewEngine(self core.PeerID, reg *Registry, media *MediaController, bus *EventBus) *Engine {
	return &Engine{
		self:   self,
		reg:    reg,
		media:  media,
		bus:    bus,
		ctx:    context.Background(),
		roster: make(map[core.PeerID]*domain.Participant),
	}
}

// SetChannel wires the outbound side; the channel was constructed with
// this engine as its handler.
func (e *Engine) SetChannel(ch core.SignalChannel) { e.channel = ch }

// bind scopes every peer connection lifetime to ctx.
func (e *Engine) bind(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
}

var _ core.SignalHandler = (*Engine)(nil)

// HandleSignal dispatches one inbound envelope. Addressed messages not
// meant for the local peer are dropped: the medium is broadcast-to-all,
// filtered by address.
func (e *Engine) HandleSignal(env core.Envelope) {
	if env.From == e.self {
		return
	}
	switch env.Type {
	case core.TypeJoined:
		e.handleJoined(env.From)
	case core.TypeLeft:
		e.handleLeft(env.From)
	case core.TypeOffer, core.TypeAnswer, core.TypeCandidate:
		if env.To != e.self {
			return
		}
		e.handleAddressed(env)
	default:
		log.Warn().Str("module", "app.engine").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (e *Engine) handleAddressed(env core.Envelope) {
	switch env.Type {
	case core.TypeOffer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(env.Data, &sdp); err != nil {
			log.Error().Err(err).Str("module", "app.engine").Msg("bad offer payload")
			return
		}
		e.HandleOffer(env.From, sdp)
	case core.TypeAnswer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(env.Data, &sdp); err != nil {
			log.Error().Err(err).Str("module", "app.engine").Msg("bad answer payload")
			return
		}
		e.HandleAnswer(env.From, sdp)
	case core.TypeCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Data, &cand); err != nil {
			log.Error().Err(err).Str("module", "app.engine").Msg("bad candidate payload")
			return
		}
		e.HandleCandidate(env.From, cand)
	}
}

// handleJoined reacts to a newcomer's presence: every existing
// participant offers toward the newcomer, never the other way around.
// The asymmetric fan-out keeps pairs from racing to offer each other.
func (e *Engine) handleJoined(peer core.PeerID) {
	e.rosterAdd(peer)
	if _, ok := e.reg.Get(peer); ok {
		// Duplicate presence for a connected peer; nothing to negotiate.
		log.Info().Str("module", "app.engine").Str("peer", string(peer)).Msg("duplicate peer-joined ignored")
		return
	}
	e.InitiateOffer(peer)
}

func (e *Engine) handleLeft(peer core.PeerID) {
	e.Teardown(peer)
}

// ensureLink returns the link for peer, wiring hooks and attaching the
// current local tracks as initial senders on creation. Any link implies
// roster membership: a peer first learned of via an inbound offer must
// still show up in Participants().
func (e *Engine) ensureLink(peer core.PeerID) (*link, error) {
	l, created, err := e.reg.GetOrCreate(peer)
	if err != nil {
		return nil, err
	}
	if !created {
		return l, nil
	}
	e.rosterAdd(peer)

	l.conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		env, err := core.NewCandidate(e.self, peer, ci)
		if err != nil {
			return
		}
		if err := e.channel.Send(env); err != nil {
			log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("send candidate")
		}
	})
	l.conn.OnClosed(func() {
		e.Teardown(peer)
	})
	l.conn.OnTrack(func(_ context.Context, track *webrtc.TrackRemote) {
		stream := l.setStreamTrack(track)
		stream.Peer = peer
		e.bus.RemoteStream(peer, stream)
	})

	for kind, track := range e.media.OutgoingTracks() {
		sender, err := l.conn.AddLocalTrack(track)
		if err != nil {
			log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Str("kind", string(kind)).Msg("attach local track")
			continue
		}
		l.setSender(kind, sender)
	}

	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()
	if err := l.conn.Start(ctx); err != nil {
		e.Teardown(peer)
		return nil, err
	}
	return l, nil
}

// InitiateOffer produces and sends a local offer toward peer. Calling
// while the link is mid-handshake is a logged no-op: the glare rule.
func (e *Engine) InitiateOffer(peer core.PeerID) {
	l, err := e.ensureLink(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("open link")
		return
	}
	if !l.State().CanOffer() {
		log.Info().
			Str("module", "app.engine").
			Str("peer", string(peer)).
			Str("state", l.State().String()).
			Msg("offer skipped, negotiation in flight")
		return
	}
	offer, err := l.conn.CreateAndSetOffer()
	if err != nil {
		e.failPeer(peer, err)
		return
	}
	if err := l.apply(core.EventLocalOffer); err != nil {
		log.Warn().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("offer transition")
		return
	}
	env, err := core.NewDescription(core.TypeOffer, e.self, peer, *offer)
	if err != nil {
		e.failPeer(peer, err)
		return
	}
	if err := e.channel.Send(env); err != nil {
		log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("send offer")
	}
}

// HandleOffer applies a remote offer, creating the link if absent, and
// replies with an answer.
func (e *Engine) HandleOffer(peer core.PeerID, offer webrtc.SessionDescription) {
	l, err := e.ensureLink(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("open link for offer")
		return
	}
	if err := l.apply(core.EventRemoteOffer); err != nil {
		log.Warn().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("offer while mid-handshake")
		return
	}
	answer, err := l.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		e.failPeer(peer, err)
		return
	}
	if err := l.apply(core.EventAnswered); err != nil {
		log.Warn().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("answer transition")
		return
	}
	env, err := core.NewDescription(core.TypeAnswer, e.self, peer, *answer)
	if err != nil {
		e.failPeer(peer, err)
		return
	}
	if err := e.channel.Send(env); err != nil {
		log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("send answer")
	}
}

// HandleAnswer applies a remote answer. An answer for an unknown peer is
// reported, not fatal: the peer may already have left.
func (e *Engine) HandleAnswer(peer core.PeerID, answer webrtc.SessionDescription) {
	l, ok := e.reg.Get(peer)
	if !ok {
		log.Warn().Str("module", "app.engine").Str("peer", string(peer)).Msg("answer for unknown peer")
		return
	}
	if err := l.conn.ApplyAnswer(answer); err != nil {
		e.failPeer(peer, err)
		return
	}
	if err := l.apply(core.EventAnswered); err != nil {
		log.Warn().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("answer transition")
	}
}

// HandleCandidate applies a remote candidate. Candidates for a missing
// link are dropped silently: they may trail a teardown.
func (e *Engine) HandleCandidate(peer core.PeerID, cand webrtc.ICECandidateInit) {
	l, ok := e.reg.Get(peer)
	if !ok {
		log.Debug().Str("module", "app.engine").Str("peer", string(peer)).Msg("candidate for unknown peer dropped")
		return
	}
	if err := l.conn.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("add ice candidate")
	}
}

// Renegotiate re-runs the offer step after a sender change, only when
// the link is currently stable. A skipped renegotiation converges on the
// next trigger; there is no retry queue.
func (e *Engine) Renegotiate(peer core.PeerID) {
	l, ok := e.reg.Get(peer)
	if !ok {
		return
	}
	if l.State() != core.StateStable {
		log.Info().
			Str("module", "app.engine").
			Str("peer", string(peer)).
			Str("state", l.State().String()).
			Msg("renegotiation skipped, handshake in flight")
		return
	}
	e.InitiateOffer(peer)
}

// Teardown closes the link, discards its senders and stream entry, and
// fires peer-disconnected exactly once.
func (e *Engine) Teardown(peer core.PeerID) {
	e.rosterRemove(peer)
	l, ok := e.reg.Remove(peer)
	if !ok {
		return
	}
	_ = l.apply(core.EventClose)
	l.conn.Close()
	e.bus.PeerDisconnected(peer)
}

func (e *Engine) failPeer(peer core.PeerID, err error) {
	log.Error().Err(err).Str("module", "app.engine").Str("peer", string(peer)).Msg("negotiation failed")
	if l, ok := e.reg.Get(peer); ok {
		_ = l.apply(core.EventFail)
	}
	e.Teardown(peer)
}

// ReplaceOutgoing swaps the outgoing track of one kind on every link.
// A cached sender is reused in place; a link without a sender of that
// kind gets one added and a renegotiation, for that link only. Fan-out
// is best effort: one link's failure never blocks the others.
func (e *Engine) ReplaceOutgoing(kind core.MediaKind, track webrtc.TrackLocal) {
	for _, l := range e.reg.Links() {
		if sender, ok := l.sender(kind); ok {
			if err := sender.ReplaceTrack(track); err != nil {
				log.Error().Err(err).Str("module", "app.engine").Str("peer", string(l.id)).Str("kind", string(kind)).Msg("replace track")
			}
			continue
		}
		if track == nil {
			continue
		}
		sender, err := l.conn.AddLocalTrack(track)
		if err != nil {
			log.Error().Err(err).Str("module", "app.engine").Str("peer", string(l.id)).Str("kind", string(kind)).Msg("add track")
			continue
		}
		l.setSender(kind, sender)
		e.Renegotiate(l.id)
	}
}

// CloseAll cancels every in-flight negotiation by closing every link.
func (e *Engine) CloseAll() {
	for _, l := range e.reg.Links() {
		e.Teardown(l.id)
	}
}

func (e *Engine) rosterAdd(peer core.PeerID) {
	e.mu.Lock()
	if _, ok := e.roster[peer]; ok {
		e.mu.Unlock()
		return
	}
	p, _ := domain.NewParticipant(string(peer), "")
	e.roster[peer] = p
	e.mu.Unlock()
	e.bus.ParticipantUpdate()
}

func (e *Engine) rosterRemove(peer core.PeerID) {
	e.mu.Lock()
	_, ok := e.roster[peer]
	delete(e.roster, peer)
	e.mu.Unlock()
	if ok {
		e.bus.ParticipantUpdate()
	}
}

// Participants is a read-only roster snapshot for the session layer.
func (e *Engine) Participants() []domain.Participant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Participant, 0, len(e.roster))
	for _, p := range e.roster {
		out = append(out, *p)
	}
	return out
}
