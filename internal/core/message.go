package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "ice-candidate"
	TypeJoined    MessageType = "peer-joined"
	TypeLeft      MessageType = "peer-left"
)

// Envelope is the broadcast signaling payload. The channel delivers every
// envelope to every subscriber of the session; receivers filter by To.
// Presence envelopes (peer-joined, peer-left) leave To empty.
type Envelope struct {
	Type MessageType     `json:"type"`
	From PeerID          `json:"from"`
	To   PeerID          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Presence is the data payload of peer-joined / peer-left envelopes.
type Presence struct {
	PeerID PeerID `json:"peerId"`
}

func NewPresence(t MessageType, peer PeerID) Envelope {
	data, _ := json.Marshal(Presence{PeerID: peer})
	return Envelope{Type: t, From: peer, Data: data}
}

func NewDescription(t MessageType, from, to PeerID, sdp webrtc.SessionDescription) (Envelope, error) {
	data, err := json.Marshal(sdp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, From: from, To: to, Data: data}, nil
}

func NewCandidate(from, to PeerID, cand webrtc.ICECandidateInit) (Envelope, error) {
	data, err := json.Marshal(cand)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeCandidate, From: from, To: to, Data: data}, nil
}
