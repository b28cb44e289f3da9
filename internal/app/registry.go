package app

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

// ConnectionFactory opens a fresh media connection toward one peer.
type ConnectionFactory func(peer core.PeerID) (core.MediaConnection, error)

// link is the peer connection record: exactly one per remote peer id.
// It owns the negotiation state, the cached per-kind sender handles and
// the most recently received remote stream.
type link struct {
	id   core.PeerID
	conn core.MediaConnection

	mu      sync.Mutex
	state   core.NegotiationState
	senders map[core.MediaKind]core.TrackSender
	stream  core.RemoteStream
}

func (l *link) State() core.NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// apply runs the single transition function and records the new state.
func (l *link) apply(ev core.NegotiationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := core.Transition(l.state, ev)
	if err != nil {
		return err
	}
	log.Debug().
		Str("module", "app.registry").
		Str("peer", string(l.id)).
		Str("from", l.state.String()).
		Str("to", next.String()).
		Msg("negotiation transition")
	l.state = next
	return nil
}

func (l *link) sender(kind core.MediaKind) (core.TrackSender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.senders[kind]
	return s, ok
}

func (l *link) setSender(kind core.MediaKind, s core.TrackSender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.senders[kind] = s
}

// setStreamTrack records an inbound track and returns the combined
// stream snapshot for delivery upward.
func (l *link) setStreamTrack(track *webrtc.TrackRemote) core.RemoteStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		l.stream.Audio = track
	} else {
		l.stream.Video = track
	}
	return l.stream
}

// Registry owns the peer connection records for one session. It is
// constructed on join and destroyed on leave; collaborators receive it
// by handle, never as ambient state.
type Registry struct {
	mu      sync.RWMutex
	peers   map[core.PeerID]*link
	newConn ConnectionFactory
}

func NewRegistry(factory ConnectionFactory) *Registry {
	return &Registry{
		peers:   make(map[core.PeerID]*link),
		newConn: factory,
	}
}

func (r *Registry) Get(peer core.PeerID) (*link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.peers[peer]
	return l, ok
}

// GetOrCreate returns the record for peer, opening a connection through
// the factory when none exists. created tells the caller whether the
// returned link still needs its hooks and initial senders wired.
func (r *Registry) GetOrCreate(peer core.PeerID) (l *link, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.peers[peer]; ok {
		return l, false, nil
	}
	conn, err := r.newConn(peer)
	if err != nil {
		return nil, false, err
	}
	l = &link{
		id:      peer,
		conn:    conn,
		state:   core.StateNew,
		senders: make(map[core.MediaKind]core.TrackSender),
	}
	r.peers[peer] = l
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("created peer link")
	return l, true, nil
}

// Remove deletes the record; the caller closes the returned link. The
// remove-then-close order guarantees teardown side effects fire once.
func (r *Registry) Remove(peer core.PeerID) (*link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.peers[peer]
	if ok {
		delete(r.peers, peer)
		log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("removed peer link")
	}
	return l, ok
}

func (r *Registry) Links() []*link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*link, 0, len(r.peers))
	for _, l := range r.peers {
		out = append(out, l)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
