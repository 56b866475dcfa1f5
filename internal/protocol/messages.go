// Package protocol defines the wire messages exchanged between a
// participant and the signaling relay.
//
// The package models the protocol surface only; it converts to and from
// pion types at the edges but carries no connection state itself.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Event names the envelope kinds carried over a participant connection.
type Event string

const (
	// Participant -> relay.
	EventJoinRoom  Event = "joinRoom"
	EventLeaveRoom Event = "leaveRoom"

	// Relay -> participant.
	EventRoomCreated Event = "roomCreated"
	EventJoined      Event = "joined"
	EventJoin        Event = "join"
	EventLeftRoom    Event = "leftRoom"
	EventLog         Event = "log"

	// Both directions.
	EventMessage Event = "message"
)

// SignalType tags a SignalMessage payload.
type SignalType string

const (
	SignalWebRTCConnect SignalType = "webrtcConnect"
	SignalOffer         SignalType = "offer"
	SignalAnswer        SignalType = "answer"
	SignalCandidate     SignalType = "candidate"
	SignalLeave         SignalType = "leave"
)

// SessionDescription is a minimal, JSON-friendly offer/answer payload.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	case "pranswer":
		t = webrtc.SDPTypePranswer
	case "rollback":
		t = webrtc.SDPTypeRollback
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is one ICE candidate. A candidate with an empty Candidate
// string marks end-of-gathering and is never put on the wire.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:     init.Candidate,
		SDPMLineIndex: init.SDPMLineIndex,
		SDPMid:        init.SDPMid,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	}
}

// SignalMessage is the opaque negotiation payload the relay forwards
// without interpreting beyond its addressing.
type SignalMessage struct {
	Type      SignalType          `json:"type"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}

func (m SignalMessage) Validate() error {
	switch m.Type {
	case SignalWebRTCConnect, SignalLeave:
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case SignalOffer:
		if m.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if m.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil {
			return fmt.Errorf("offer message has unexpected candidate")
		}
	case SignalAnswer:
		if m.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if m.SDP.Type != "answer" && m.SDP.Type != "pranswer" {
			return fmt.Errorf("answer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil {
			return fmt.Errorf("answer message has unexpected candidate")
		}
	case SignalCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if m.SDP != nil {
			return fmt.Errorf("candidate message has unexpected sdp")
		}
	default:
		return fmt.Errorf("unsupported signal type %q", m.Type)
	}
	return nil
}

// Envelope is the single frame type carried on the websocket.
//
// Which fields are allowed depends on Event; ParseEnvelope rejects frames
// that mix fields across events so a misbehaving client fails loudly
// instead of being half-interpreted.
type Envelope struct {
	Event Event `json:"event"`

	RoomID        string `json:"roomId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`

	Message *SignalMessage `json:"message,omitempty"`
	ToID    string         `json:"toId,omitempty"`
	FromID  string         `json:"fromId,omitempty"`

	// Items carries diagnostic log lines for EventLog.
	Items []string `json:"items,omitempty"`
}

// ParseEnvelope decodes and validates a frame received from a participant.
// Only participant-originated events are accepted here.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.validateInbound(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validateInbound() error {
	switch e.Event {
	case EventJoinRoom, EventLeaveRoom:
		if e.RoomID == "" {
			return fmt.Errorf("%s missing roomId", e.Event)
		}
		if e.Message != nil || e.ToID != "" || e.FromID != "" || e.ParticipantID != "" || len(e.Items) != 0 {
			return fmt.Errorf("%s has unexpected fields", e.Event)
		}
	case EventMessage:
		if e.Message == nil {
			return fmt.Errorf("message event missing message")
		}
		if e.FromID != "" || e.ParticipantID != "" || len(e.Items) != 0 {
			return fmt.Errorf("message event has unexpected fields")
		}
		if e.ToID != "" && e.RoomID != "" {
			return fmt.Errorf("message event has both toId and roomId")
		}
		if err := e.Message.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported inbound event %q", e.Event)
	}
	return nil
}
