package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/meshcall/meshcall/internal/core"
)

// fakeTrack satisfies webrtc.TrackLocal without touching pion internals.
type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind}
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

type fakeSender struct {
	mu       sync.Mutex
	current  webrtc.TrackLocal
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = track
	s.replaced = append(s.replaced, track)
	return nil
}

func (s *fakeSender) currentTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSender) replaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replaced)
}

// fakeConn implements core.MediaConnection with canned SDP.
type fakeConn struct {
	mu             sync.Mutex
	started        bool
	closed         bool
	offersCreated  int
	answersCreated int
	answersApplied int
	candidates     []webrtc.ICECandidateInit
	senders        []*fakeSender

	failOffer bool

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(context.Context, *webrtc.TrackRemote)
	onClosed func()
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOffer {
		return nil, errors.New("offer refused")
	}
	c.offersCreated++
	return &webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer-%d", c.offersCreated),
	}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answersApplied++
	return nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answersCreated++
	return &webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 answer-%d", c.answersCreated),
	}, nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) AddLocalTrack(track webrtc.TrackLocal) (core.TrackSender, error) {
	s := &fakeSender{current: track}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(context.Context, *webrtc.TrackRemote)) {
	c.onTrack = fn
}
func (c *fakeConn) OnClosed(fn func()) { c.onClosed = fn }

func (c *fakeConn) offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offersCreated
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// connBank hands out fakeConns and remembers them per peer.
type connBank struct {
	mu    sync.Mutex
	conns map[core.PeerID][]*fakeConn
}

func newConnBank() *connBank {
	return &connBank{conns: make(map[core.PeerID][]*fakeConn)}
}

func (b *connBank) factory(peer core.PeerID) (core.MediaConnection, error) {
	c := &fakeConn{}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[peer] = append(b.conns[peer], c)
	return c, nil
}

func (b *connBank) last(peer core.PeerID) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if list := b.conns[peer]; len(list) > 0 {
		return list[len(list)-1]
	}
	return nil
}

func (b *connBank) count(peer core.PeerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns[peer])
}

// fakeSource implements core.Source.
type fakeSource struct {
	kind    core.MediaKind
	track   *fakeTrack
	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newFakeSource(kind core.MediaKind, id string) *fakeSource {
	rtpKind := webrtc.RTPCodecTypeVideo
	if kind == core.KindAudio {
		rtpKind = webrtc.RTPCodecTypeAudio
	}
	return &fakeSource{kind: kind, track: newFakeTrack(id, rtpKind), enabled: true}
}

func (s *fakeSource) Kind() core.MediaKind     { return s.kind }
func (s *fakeSource) Track() webrtc.TrackLocal { return s.track }
func (s *fakeSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}
func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSource) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeCapturer mints a fresh source per acquisition and can be told to
// refuse a device.
type fakeCapturer struct {
	mu        sync.Mutex
	cameraErr error
	micErr    error
	screenErr error
	cameras   []*fakeSource
	mics      []*fakeSource
	screens   []*fakeSource
}

func (c *fakeCapturer) Camera() (core.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cameraErr != nil {
		return nil, c.cameraErr
	}
	s := newFakeSource(core.KindVideo, fmt.Sprintf("camera-%d", len(c.cameras)))
	c.cameras = append(c.cameras, s)
	return s, nil
}

func (c *fakeCapturer) Microphone() (core.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.micErr != nil {
		return nil, c.micErr
	}
	s := newFakeSource(core.KindAudio, fmt.Sprintf("mic-%d", len(c.mics)))
	c.mics = append(c.mics, s)
	return s, nil
}

func (c *fakeCapturer) Screen() (core.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screenErr != nil {
		return nil, c.screenErr
	}
	s := newFakeSource(core.KindVideo, fmt.Sprintf("screen-%d", len(c.screens)))
	c.screens = append(c.screens, s)
	return s, nil
}

// fakeChannel records outbound envelopes.
type fakeChannel struct {
	mu   sync.Mutex
	sent []core.Envelope
}

func (c *fakeChannel) Open(context.Context) error { return nil }
func (c *fakeChannel) Close() error               { return nil }
func (c *fakeChannel) Send(env core.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) sentOfType(t core.MessageType) []core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Envelope
	for _, env := range c.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// recordingObserver counts upward events.
type recordingObserver struct {
	mu            sync.Mutex
	streams       map[core.PeerID]core.RemoteStream
	disconnects   map[core.PeerID]int
	rosterChanges int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		streams:     make(map[core.PeerID]core.RemoteStream),
		disconnects: make(map[core.PeerID]int),
	}
}

func (o *recordingObserver) OnRemoteStream(peer core.PeerID, stream core.RemoteStream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams[peer] = stream
}

func (o *recordingObserver) OnPeerDisconnected(peer core.PeerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnects[peer]++
}

func (o *recordingObserver) OnParticipantUpdate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rosterChanges++
}

func (o *recordingObserver) disconnectCount(peer core.PeerID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disconnects[peer]
}

func (o *recordingObserver) rosterUpdates() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rosterChanges
}
