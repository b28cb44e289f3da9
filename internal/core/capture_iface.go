package core

import "github.com/pion/webrtc/v4"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Source is one live local capture (camera, microphone or screen).
// Only the media controller mutates sources; peer connections share the
// track read-only.
type Source interface {
	Kind() MediaKind
	// Track is the outgoing track fed by this source. Stable for the
	// source lifetime and attachable to any number of peer connections.
	Track() webrtc.TrackLocal
	// SetEnabled gates the flow at the source. Disabling silences the
	// source without touching any sender, so no renegotiation happens.
	SetEnabled(enabled bool)
	// Close releases the capture device.
	Close()
}

// Capturer acquires user-consented capture devices. Acquisition blocks
// the caller until the platform grants or denies access.
type Capturer interface {
	Camera() (Source, error)
	Microphone() (Source, error)
	Screen() (Source, error)
}
