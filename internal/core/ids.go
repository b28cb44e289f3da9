package core

import "github.com/google/uuid"

// SessionKey is the stable key shared by all participants of one call.
// It scopes the signaling channel; it carries no secret material.
type SessionKey string

// PeerID is the ephemeral identity of one participant for the lifetime
// of a single join. A rejoin gets a fresh PeerID.
type PeerID string

// NewPeerID mints an identifier for a fresh join.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}
