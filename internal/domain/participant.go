// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

// Participant represents one remote peer's meta for the session roster.
// No transport or negotiation state here.
type Participant struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName,omitempty"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(peerID, name string) (*Participant, error) {
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{PeerID: peerID, DisplayName: name}, nil
}

func (p *Participant) SetDisplayName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	p.DisplayName = name
	return nil
}
