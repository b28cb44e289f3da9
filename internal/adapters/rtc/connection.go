package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

// Connection adapts one *webrtc.PeerConnection to the core.MediaConnection
// port. Candidates trickle: local descriptions are installed without
// waiting for gathering, discovered candidates go out via OnICECandidate.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   core.PeerID
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote)
	onClosed func()
	closing  sync.Once
}

func DefaultConfig(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

func New(cfg webrtc.Configuration, peer core.PeerID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc, peer: peer}, nil
}

var _ core.MediaConnection = (*Connection)(nil)

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			log.Warn().Err(core.ErrConnectivityLost).Str("module", "rtc").Str("peer", string(c.peer)).Msg("tearing down")
			c.fireClosed()
			cancel()
		case webrtc.PeerConnectionStateClosed:
			c.fireClosed()
			cancel()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(ctx, track)
		}
	})

	return nil
}

func (c *Connection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", core.ErrNegotiationFailed, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local offer: %v", core.ErrNegotiationFailed, err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", core.ErrNegotiationFailed, err)
	}
	return nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set remote offer: %v", core.ErrNegotiationFailed, err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %v", core.ErrNegotiationFailed, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local answer: %v", core.ErrNegotiationFailed, err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches an outgoing track and wraps its RTPSender as the
// reusable sender handle. The RTCP reader drains sender feedback.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (core.TrackSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return rtpSender{sender}, nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote)) {
	c.onTrack = fn
}

func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
	}
	c.fireClosed()
}

func (c *Connection) fireClosed() {
	c.closing.Do(func() {
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

type rtpSender struct {
	s *webrtc.RTPSender
}

func (r rtpSender) ReplaceTrack(track webrtc.TrackLocal) error {
	return r.s.ReplaceTrack(track)
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
