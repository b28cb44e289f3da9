package core

import "github.com/pion/webrtc/v4"

// RemoteStream is the most recently received combined media of one peer.
// At most one per peer; tracks fill in as they arrive.
type RemoteStream struct {
	Peer  PeerID
	Audio *webrtc.TrackRemote
	Video *webrtc.TrackRemote
}

// SessionObserver is the upward event surface of the mesh core. Multiple
// observers may subscribe; callbacks must not block.
type SessionObserver interface {
	// OnRemoteStream fires when a peer's inbound media appears or changes.
	OnRemoteStream(peer PeerID, stream RemoteStream)
	// OnPeerDisconnected fires exactly once when a peer's connection is torn down.
	OnPeerDisconnected(peer PeerID)
	// OnParticipantUpdate fires when the participant roster changes.
	OnParticipantUpdate()
}
