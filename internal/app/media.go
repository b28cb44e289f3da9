package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

// Fanout pushes an outgoing-track change to every peer connection.
type Fanout interface {
	ReplaceOutgoing(kind core.MediaKind, track webrtc.TrackLocal)
}

// MediaController owns the local capture sources and presents one
// swappable outgoing track per kind. Only the controller mutates
// sources; a single toggle updates all peer senders in one logical step.
type MediaController struct {
	capturer core.Capturer
	fan      Fanout

	mu     sync.Mutex
	camera core.Source
	mic    core.Source
	screen core.Source
}

func NewMediaController(capturer core.Capturer) *MediaController {
	return &MediaController{capturer: capturer}
}

// SetFanout wires the peer-side consumer; nil fan-out means no peers yet.
func (m *MediaController) SetFanout(fan Fanout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fan = fan
}

// Acquire requests the wanted capture devices. Any failure leaves prior
// media state untouched: sources acquired within this call are released
// and nothing is published to the registry.
func (m *MediaController) Acquire(videoWanted, audioWanted bool) error {
	var camera, mic core.Source
	var err error

	if videoWanted {
		if camera, err = m.capturer.Camera(); err != nil {
			return fmt.Errorf("acquire video: %w", err)
		}
	}
	if audioWanted {
		if mic, err = m.capturer.Microphone(); err != nil {
			if camera != nil {
				camera.Close()
			}
			return fmt.Errorf("acquire audio: %w", err)
		}
	}

	m.mu.Lock()
	if camera != nil {
		if m.camera != nil {
			m.camera.Close()
		}
		m.camera = camera
	}
	if mic != nil {
		if m.mic != nil {
			m.mic.Close()
		}
		m.mic = mic
	}
	m.mu.Unlock()

	log.Info().Str("module", "app.media").Bool("video", videoWanted).Bool("audio", audioWanted).Msg("media acquired")
	if camera != nil {
		m.publish(core.KindVideo, camera.Track())
	}
	if mic != nil {
		m.publish(core.KindAudio, mic.Track())
	}
	return nil
}

// SetVideoEnabled re-acquires the camera when enabling with no live
// track, and stops and detaches it when disabling. Audio is never
// touched; the container state survives the toggle.
func (m *MediaController) SetVideoEnabled(enabled bool) error {
	if enabled {
		m.mu.Lock()
		have := m.camera != nil
		m.mu.Unlock()
		if !have {
			camera, err := m.capturer.Camera()
			if err != nil {
				return fmt.Errorf("enable video: %w", err)
			}
			m.mu.Lock()
			m.camera = camera
			screenActive := m.screen != nil
			m.mu.Unlock()
			// Screen share keeps superseding the camera on the video sender.
			if !screenActive {
				m.publish(core.KindVideo, camera.Track())
			}
		}
		return nil
	}

	m.mu.Lock()
	camera := m.camera
	m.camera = nil
	screenActive := m.screen != nil
	m.mu.Unlock()
	if camera == nil {
		return nil
	}
	camera.Close()
	if !screenActive {
		m.publish(core.KindVideo, nil)
	}
	return nil
}

// SetAudioEnabled gates the microphone at the source. No sender changes,
// no renegotiation: transport keeps flowing, the source goes quiet.
func (m *MediaController) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	mic := m.mic
	m.mu.Unlock()
	if mic != nil {
		mic.SetEnabled(enabled)
		log.Info().Str("module", "app.media").Bool("enabled", enabled).Msg("audio toggled")
	}
}

// StartScreenShare redirects every video sender to the screen track.
// The camera source is paused, not released; its ownership survives.
func (m *MediaController) StartScreenShare() error {
	m.mu.Lock()
	if m.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	screen, err := m.capturer.Screen()
	if err != nil {
		return fmt.Errorf("start screen share: %w", err)
	}

	m.mu.Lock()
	m.screen = screen
	if m.camera != nil {
		m.camera.SetEnabled(false)
	}
	m.mu.Unlock()

	log.Info().Str("module", "app.media").Msg("screen share started")
	m.publish(core.KindVideo, screen.Track())
	return nil
}

// StopScreenShare reverts every video sender to the camera track when
// one is live, otherwise to no track.
func (m *MediaController) StopScreenShare() {
	m.mu.Lock()
	screen := m.screen
	m.screen = nil
	camera := m.camera
	if camera != nil {
		camera.SetEnabled(true)
	}
	m.mu.Unlock()
	if screen == nil {
		return
	}
	screen.Close()

	log.Info().Str("module", "app.media").Msg("screen share stopped")
	if camera != nil {
		m.publish(core.KindVideo, camera.Track())
	} else {
		m.publish(core.KindVideo, nil)
	}
}

// OutgoingTracks snapshots the current outgoing track per kind, used
// when a new peer connection attaches its initial senders. Screen video
// supersedes camera video.
func (m *MediaController) OutgoingTracks() map[core.MediaKind]webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[core.MediaKind]webrtc.TrackLocal, 2)
	switch {
	case m.screen != nil:
		out[core.KindVideo] = m.screen.Track()
	case m.camera != nil:
		out[core.KindVideo] = m.camera.Track()
	}
	if m.mic != nil {
		out[core.KindAudio] = m.mic.Track()
	}
	return out
}

// Close releases every capture device.
func (m *MediaController) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, src := range []core.Source{m.camera, m.mic, m.screen} {
		if src != nil {
			src.Close()
		}
	}
	m.camera, m.mic, m.screen = nil, nil, nil
}

func (m *MediaController) publish(kind core.MediaKind, track webrtc.TrackLocal) {
	m.mu.Lock()
	fan := m.fan
	m.mu.Unlock()
	if fan != nil {
		fan.ReplaceOutgoing(kind, track)
	}
}
