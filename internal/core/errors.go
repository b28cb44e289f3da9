package core

import "errors"

var (
	// ErrMediaAccessDenied means the platform refused camera/microphone/screen access.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrDeviceUnavailable means no matching capture device exists or it is busy.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNegotiationFailed wraps SDP/candidate apply errors. Scoped to one peer.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrSignalingUnavailable means the session channel could not be subscribed.
	// This is the only session-fatal condition: without signaling no peer is reachable.
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	// ErrConnectivityLost means a peer connection reached failed/disconnected.
	ErrConnectivityLost = errors.New("peer connectivity lost")
)
