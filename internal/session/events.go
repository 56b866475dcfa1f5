package session

import "concall/internal/rtcengine"

// EventKind names the session events surfaced to the owning application.
type EventKind string

const (
	// EventRoomCreated reports that the join created the room and this
	// participant is its first member.
	EventRoomCreated EventKind = "roomCreated"
	// EventRoomJoined reports that the join landed in an existing room.
	EventRoomJoined EventKind = "roomJoined"
	// EventPeerStream reports the first track of a new remote stream.
	EventPeerStream EventKind = "peerStream"
	// EventPeerLeft reports that a remote peer's session was torn down.
	EventPeerLeft EventKind = "peerLeft"
	// EventLeftRoom confirms this participant left the room.
	EventLeftRoom EventKind = "leftRoom"
	// EventNegotiationError reports a non-fatal negotiation failure with
	// one peer. The session keeps running.
	EventNegotiationError EventKind = "negotiationError"
)

// Event is one entry on the Manager's event stream. RoomID is set for the
// room lifecycle kinds, PeerID and the optional Stream/Err for the peer
// kinds.
type Event struct {
	Kind   EventKind
	RoomID string
	PeerID string
	Stream rtcengine.RemoteTrack
	Err    error
}
