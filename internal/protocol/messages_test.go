package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseEnvelope_JoinRoom(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"joinRoom","roomId":"r1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Event != EventJoinRoom || env.RoomID != "r1" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
}

func TestParseEnvelope_JoinRoomMissingRoomID(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"event":"joinRoom"}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseEnvelope_MessageOffer(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{
		"event":"message",
		"toId":"p2",
		"message":{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Message == nil || env.Message.Type != SignalOffer || env.Message.SDP.SDP != "v=0" {
		t.Fatalf("unexpected message: %#v", env.Message)
	}
	if env.ToID != "p2" {
		t.Fatalf("toId=%q, want p2", env.ToID)
	}
}

func TestParseEnvelope_MessageBothAddresses(t *testing.T) {
	raw := []byte(`{
		"event":"message",
		"toId":"p2",
		"roomId":"r1",
		"message":{"type":"webrtcConnect"}
	}`)
	if _, err := ParseEnvelope(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseEnvelope_RejectsServerEvents(t *testing.T) {
	for _, raw := range []string{
		`{"event":"roomCreated","roomId":"r1","participantId":"p1"}`,
		`{"event":"joined","roomId":"r1","participantId":"p1"}`,
		`{"event":"log","items":["x"]}`,
	} {
		if _, err := ParseEnvelope([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseEnvelope_DisallowUnknownFields(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"event":"joinRoom","roomId":"r1","extra":true}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseEnvelope_TrailingData(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"event":"joinRoom","roomId":"r1"}{}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSignalMessage_ValidateCandidate(t *testing.T) {
	idx := uint16(0)
	mid := "0"
	msg := SignalMessage{
		Type: SignalCandidate,
		Candidate: &Candidate{
			Candidate:     "candidate:1 1 udp 1 127.0.0.1 9 typ host",
			SDPMLineIndex: &idx,
			SDPMid:        &mid,
		},
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	msg.Candidate = nil
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected error for candidate message without candidate")
	}
}

func TestSignalMessage_ValidateLeaveRejectsPayload(t *testing.T) {
	msg := SignalMessage{
		Type: SignalLeave,
		SDP:  &SessionDescription{Type: "offer", SDP: "v=0"},
	}
	if err := msg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSessionDescription_ToPionRejectsUnknownKind(t *testing.T) {
	if _, err := (SessionDescription{Type: "bogus"}).ToPion(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := Envelope{
		Event:  EventMessage,
		RoomID: "r1",
		Message: &SignalMessage{
			Type: SignalWebRTCConnect,
		},
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseEnvelope(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Event != EventMessage || got.RoomID != "r1" || got.Message.Type != SignalWebRTCConnect {
		t.Fatalf("unexpected round trip: %#v", got)
	}
}
