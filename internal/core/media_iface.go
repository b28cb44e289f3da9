package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TrackSender is the per-kind outgoing sender handle on one peer
// connection. Once created it is reused for every subsequent track swap
// of that kind; swapping to nil pauses sending without renegotiation.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// MediaConnection is one bidirectional media link to a remote peer.
type MediaConnection interface {
	// Start wires internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops the underlying transport and all media resources.
	Close()
	// CreateAndSetOffer produces a local offer and installs it.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer installs the remote answer for a previously sent offer.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// ApplyOfferAndCreateAnswer installs a remote offer and produces the answer.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(cand webrtc.ICECandidateInit) error
	// AddLocalTrack attaches an outgoing track, returning its sender handle.
	AddLocalTrack(track webrtc.TrackLocal) (TrackSender, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote))
	// OnClosed sets a callback for terminal failure/closure of the link.
	OnClosed(func())
}
