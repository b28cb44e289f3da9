// Package media implements the core.Capturer port on pion/mediadevices.
// Each source owns a TrackLocalStaticRTP fed by a pump goroutine reading
// encoded RTP from the capture track; peer connections bind to the local
// track, so a source survives any number of sender attachments and a
// disabled source simply stops feeding packets.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // register camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // register microphone driver
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // register screen driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshcall/meshcall/internal/core"
)

const rtpMTU = 1200

type Capturer struct {
	selector *mediadevices.CodecSelector

	width     int
	height    int
	frameRate float32
}

var _ core.Capturer = (*Capturer)(nil)

func NewCapturer(width, height int, frameRate float32) (*Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.Deadline = 200 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &Capturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		width:     width,
		height:    height,
		frameRate: frameRate,
	}, nil
}

func (c *Capturer) Camera() (core.Source, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mt *mediadevices.MediaTrackConstraints) {
			mt.Width = prop.Int(c.width)
			mt.Height = prop.Int(c.height)
			mt.FrameRate = prop.Float(c.frameRate)
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, mapAcquireErr("camera", err)
	}
	return newSource(core.KindVideo, firstTrack(stream.GetVideoTracks()), videoCapability())
}

func (c *Capturer) Microphone() (core.Source, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(mt *mediadevices.MediaTrackConstraints) {
			mt.SampleRate = prop.Int(48000)
			mt.ChannelCount = prop.Int(1)
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, mapAcquireErr("microphone", err)
	}
	return newSource(core.KindAudio, firstTrack(stream.GetAudioTracks()), audioCapability())
}

func (c *Capturer) Screen() (core.Source, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mt *mediadevices.MediaTrackConstraints) {
			mt.FrameRate = prop.Float(c.frameRate)
		},
		Codec: c.selector,
	})
	if err != nil {
		return nil, mapAcquireErr("screen", err)
	}
	return newSource(core.KindVideo, firstTrack(stream.GetVideoTracks()), videoCapability())
}

func videoCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func audioCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    1,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

func firstTrack(tracks []mediadevices.Track) mediadevices.Track {
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

func mapAcquireErr(device string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%s: %w: %v", device, core.ErrMediaAccessDenied, err)
	default:
		return fmt.Errorf("%s: %w: %v", device, core.ErrDeviceUnavailable, err)
	}
}

// source pumps encoded RTP from one capture track into its local track.
type source struct {
	kind    core.MediaKind
	local   *webrtc.TrackLocalStaticRTP
	capture mediadevices.Track
	enabled atomic.Bool
	cancel  context.CancelFunc
}

var _ core.Source = (*source)(nil)

func newSource(kind core.MediaKind, capture mediadevices.Track, capability webrtc.RTPCodecCapability) (*source, error) {
	if capture == nil {
		return nil, fmt.Errorf("%s: %w: stream has no track", kind, core.ErrDeviceUnavailable)
	}
	local, err := webrtc.NewTrackLocalStaticRTP(capability, string(kind), "meshcall-"+string(kind))
	if err != nil {
		capture.Close()
		return nil, err
	}

	codec := capability.MimeType[strings.Index(capability.MimeType, "/")+1:]
	reader, err := capture.NewRTPReader(codec, uuid.New().ID(), rtpMTU)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("rtp reader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &source{kind: kind, local: local, capture: capture, cancel: cancel}
	s.enabled.Store(true)
	go s.pump(ctx, reader)
	return s, nil
}

func (s *source) Kind() core.MediaKind     { return s.kind }
func (s *source) Track() webrtc.TrackLocal { return s.local }
func (s *source) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }

func (s *source) Close() {
	s.cancel()
	s.capture.Close()
}

// pump forwards packets while the source is enabled. TrackLocalStaticRTP
// rewrites SSRC and payload type per binding, so one pump serves every
// attached peer connection.
func (s *source) pump(ctx context.Context, reader mediadevices.RTPReadCloser) {
	defer reader.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkts, release, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Str("module", "media").Str("kind", string(s.kind)).Msg("rtp read")
			}
			return
		}
		if s.enabled.Load() {
			for _, pkt := range pkts {
				if err := s.local.WriteRTP(pkt); err != nil {
					log.Debug().Err(err).Str("module", "media").Str("kind", string(s.kind)).Msg("rtp write")
				}
			}
		}
		if release != nil {
			release()
		}
	}
}
