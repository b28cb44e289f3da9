package app

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcall/meshcall/internal/adapters/signal"
	"github.com/meshcall/meshcall/internal/core"
)

type rig struct {
	self     core.PeerID
	bank     *connBank
	capturer *fakeCapturer
	media    *MediaController
	engine   *Engine
	channel  *fakeChannel
	bus      *EventBus
	obs      *recordingObserver
}

func newRig(self core.PeerID) *rig {
	bank := newConnBank()
	capturer := &fakeCapturer{}
	bus := NewEventBus()
	media := NewMediaController(capturer)
	engine := NewEngine(self, NewRegistry(bank.factory), media, bus)
	media.SetFanout(engine)
	channel := &fakeChannel{}
	engine.SetChannel(channel)
	obs := newRecordingObserver()
	bus.Subscribe(obs)
	return &rig{
		self:     self,
		bank:     bank,
		capturer: capturer,
		media:    media,
		engine:   engine,
		channel:  channel,
		bus:      bus,
		obs:      obs,
	}
}

func joined(peer core.PeerID) core.Envelope {
	return core.NewPresence(core.TypeJoined, peer)
}

func left(peer core.PeerID) core.Envelope {
	return core.NewPresence(core.TypeLeft, peer)
}

// stabilize feeds the fake remote answer so the link reaches stable.
func (r *rig) stabilize(t *testing.T, peer core.PeerID) {
	t.Helper()
	r.engine.HandleAnswer(peer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"})
	l, ok := r.engine.reg.Get(peer)
	require.True(t, ok)
	require.Equal(t, core.StateStable, l.State())
}

func (r *rig) senderFor(t *testing.T, peer core.PeerID, kind webrtc.RTPCodecType) *fakeSender {
	t.Helper()
	conn := r.bank.last(peer)
	require.NotNil(t, conn)
	for _, s := range conn.senders {
		if ft, ok := s.currentTrack().(*fakeTrack); ok && ft.Kind() == kind {
			return s
		}
	}
	return nil
}

func TestDuplicatePeerJoinedKeepsOneConnection(t *testing.T) {
	r := newRig("A")

	r.engine.HandleSignal(joined("B"))
	r.engine.HandleSignal(joined("B"))

	assert.Equal(t, 1, r.engine.reg.Len())
	assert.Equal(t, 1, r.bank.count("B"))
	assert.Len(t, r.channel.sentOfType(core.TypeOffer), 1)
}

func TestInitiateOfferTwiceProducesOneOffer(t *testing.T) {
	r := newRig("A")

	r.engine.InitiateOffer("B")
	r.engine.InitiateOffer("B")

	conn := r.bank.last("B")
	require.NotNil(t, conn)
	assert.Equal(t, 1, conn.offers())
	assert.Len(t, r.channel.sentOfType(core.TypeOffer), 1)

	l, ok := r.engine.reg.Get("B")
	require.True(t, ok)
	assert.Equal(t, core.StateHaveLocalOffer, l.State())
}

func TestOfferAnswerReachesStable(t *testing.T) {
	r := newRig("A")

	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	conn := r.bank.last("B")
	assert.True(t, conn.started)
	assert.Equal(t, 1, conn.answersApplied)
}

func TestInboundOfferProducesAnswer(t *testing.T) {
	r := newRig("B")

	r.engine.HandleOffer("A", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})

	l, ok := r.engine.reg.Get("A")
	require.True(t, ok)
	assert.Equal(t, core.StateStable, l.State())
	answers := r.channel.sentOfType(core.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, core.PeerID("A"), answers[0].To)
}

func TestAnswerForUnknownPeerIsNoop(t *testing.T) {
	r := newRig("A")

	assert.NotPanics(t, func() {
		r.engine.HandleAnswer("ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	})
	assert.Equal(t, 0, r.engine.reg.Len())
	assert.Equal(t, 0, r.bank.count("ghost"))
}

func TestCandidateForUnknownPeerIsDropped(t *testing.T) {
	r := newRig("A")

	r.engine.HandleCandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate:1"})

	assert.Equal(t, 0, r.engine.reg.Len())
}

func TestCandidateAppliedToExistingLink(t *testing.T) {
	r := newRig("A")
	r.engine.InitiateOffer("B")

	r.engine.HandleCandidate("B", webrtc.ICECandidateInit{Candidate: "candidate:1"})

	conn := r.bank.last("B")
	require.Len(t, conn.candidates, 1)
}

func TestPeerLeftTearsDownOnce(t *testing.T) {
	r := newRig("A")
	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	r.engine.HandleSignal(left("B"))
	r.engine.HandleSignal(left("B"))

	assert.Equal(t, 0, r.engine.reg.Len())
	assert.Equal(t, 1, r.obs.disconnectCount("B"))
	assert.True(t, r.bank.last("B").isClosed())
	assert.Empty(t, r.engine.Participants())
}

func TestVideoToggleReusesSenderWithoutRenegotiation(t *testing.T) {
	r := newRig("A")
	require.NoError(t, r.media.Acquire(true, true))
	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	conn := r.bank.last("B")
	offersBefore := conn.offers()
	video := r.senderFor(t, "B", webrtc.RTPCodecTypeVideo)
	require.NotNil(t, video)

	require.NoError(t, r.media.SetVideoEnabled(false))
	assert.Nil(t, video.currentTrack(), "camera off swaps the cached sender to no track")

	require.NoError(t, r.media.SetVideoEnabled(true))
	assert.NotNil(t, video.currentTrack())

	assert.Equal(t, offersBefore, conn.offers(), "sender reuse must not renegotiate")
	assert.Len(t, conn.senders, 2, "no sender recreated for the toggle")
	l, _ := r.engine.reg.Get("B")
	assert.Equal(t, core.StateStable, l.State())
}

func TestVideoEnableWithoutSenderRenegotiates(t *testing.T) {
	r := newRig("A")
	require.NoError(t, r.media.Acquire(false, true))
	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	conn := r.bank.last("B")
	require.Len(t, conn.senders, 1, "audio-only link starts with one sender")
	offersBefore := conn.offers()

	require.NoError(t, r.media.SetVideoEnabled(true))

	assert.Len(t, conn.senders, 2, "fresh video sender added")
	assert.Equal(t, offersBefore+1, conn.offers(), "new sender triggers renegotiation")
	l, _ := r.engine.reg.Get("B")
	assert.Equal(t, core.StateHaveLocalOffer, l.State())
}

func TestScreenShareSwapsAndRestoresVideoSender(t *testing.T) {
	r := newRig("A")
	require.NoError(t, r.media.Acquire(true, true))
	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	conn := r.bank.last("B")
	offersBefore := conn.offers()
	video := r.senderFor(t, "B", webrtc.RTPCodecTypeVideo)
	audio := r.senderFor(t, "B", webrtc.RTPCodecTypeAudio)
	require.NotNil(t, video)
	require.NotNil(t, audio)
	cameraTrack := video.currentTrack()
	audioSwaps := audio.replaceCount()

	require.NoError(t, r.media.StartScreenShare())
	assert.Equal(t, r.capturer.screens[0].track, video.currentTrack())
	assert.False(t, r.capturer.cameras[0].isEnabled(), "camera paused, not released")
	assert.False(t, r.capturer.cameras[0].isClosed())

	r.media.StopScreenShare()
	assert.Equal(t, cameraTrack, video.currentTrack(), "camera track restored")
	assert.True(t, r.capturer.cameras[0].isEnabled())

	assert.Equal(t, offersBefore, conn.offers(), "codec-compatible swap needs no renegotiation")
	assert.Equal(t, audioSwaps, audio.replaceCount(), "audio sender untouched")
}

// TestThreePeerMesh walks the full join/offer/answer/leave choreography
// over the in-process broadcast hub: A and B pair up, C joins later and
// receives offers from both, then B departs.
func TestThreePeerMesh(t *testing.T) {
	hub := signal.NewMemoryHub()
	key := core.SessionKey("lesson-42")
	ctx := context.Background()

	open := func(r *rig) {
		ch := hub.Channel(key, r.self, r.engine)
		r.engine.SetChannel(ch)
		require.NoError(t, ch.Open(ctx))
	}

	a, b, c := newRig("A"), newRig("B"), newRig("C")

	open(a)
	open(b)

	stable := func(r *rig, peer core.PeerID) {
		l, ok := r.engine.reg.Get(peer)
		require.True(t, ok, "%s should hold a link to %s", r.self, peer)
		assert.Equal(t, core.StateStable, l.State(), "%s->%s", r.self, peer)
	}

	stable(a, "B")
	stable(b, "A")
	assert.Equal(t, 1, a.bank.last("B").offers())
	assert.Equal(t, 1, b.bank.last("A").answersCreated)

	open(c)

	stable(a, "C")
	stable(b, "C")
	stable(c, "A")
	stable(c, "B")
	assert.Equal(t, 2, c.engine.reg.Len())

	// B departs; A and C each tear down exactly one link.
	require.NoError(t, b.engine.channel.(*signal.MemoryChannel).Close())

	assert.Equal(t, 1, a.engine.reg.Len())
	assert.Equal(t, 1, c.engine.reg.Len())
	assert.Equal(t, 1, a.obs.disconnectCount("B"))
	assert.Equal(t, 1, c.obs.disconnectCount("B"))
	_, ok := a.engine.reg.Get("B")
	assert.False(t, ok)
}

func TestInboundOfferAddsParticipant(t *testing.T) {
	r := newRig("B")

	r.engine.HandleOffer("A", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})

	participants := r.engine.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, "A", participants[0].PeerID)
	assert.Equal(t, 1, r.obs.rosterUpdates())
}

// A newcomer learns of existing participants only through their offers;
// its roster must still end up symmetric with theirs.
func TestNewcomerRosterTracksExistingPeers(t *testing.T) {
	hub := signal.NewMemoryHub()
	key := core.SessionKey("lesson-43")
	ctx := context.Background()

	open := func(r *rig) {
		ch := hub.Channel(key, r.self, r.engine)
		r.engine.SetChannel(ch)
		require.NoError(t, ch.Open(ctx))
	}

	a, b, c := newRig("A"), newRig("B"), newRig("C")
	open(a)
	open(b)
	open(c)

	assert.Len(t, a.engine.Participants(), 2)
	assert.Len(t, c.engine.Participants(), 2, "newcomer roster matches its link count")
	assert.Positive(t, c.obs.rosterUpdates())

	require.NoError(t, a.engine.channel.(*signal.MemoryChannel).Close())
	assert.Len(t, c.engine.Participants(), 1, "departure prunes the newcomer's roster too")
}

func TestOfferFailureTearsDownOnlyThatPeer(t *testing.T) {
	r := newRig("A")
	r.engine.HandleSignal(joined("B"))
	r.stabilize(t, "B")

	r.engine.InitiateOffer("C")
	conn := r.bank.last("C")
	require.NotNil(t, conn)
	conn.mu.Lock()
	conn.failOffer = true
	conn.mu.Unlock()
	r.stabilize(t, "C")

	r.engine.Renegotiate("C")

	_, ok := r.engine.reg.Get("C")
	assert.False(t, ok, "failed peer torn down")
	_, ok = r.engine.reg.Get("B")
	assert.True(t, ok, "healthy peer untouched")
	assert.Equal(t, 1, r.obs.disconnectCount("C"))
}

func TestRemoteTrackPopulatesStream(t *testing.T) {
	r := newRig("A")
	r.engine.HandleSignal(joined("B"))

	conn := r.bank.last("B")
	require.NotNil(t, conn.onTrack)
	conn.onTrack(context.Background(), &webrtc.TrackRemote{})

	r.obs.mu.Lock()
	stream, ok := r.obs.streams["B"]
	r.obs.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, core.PeerID("B"), stream.Peer)
}
