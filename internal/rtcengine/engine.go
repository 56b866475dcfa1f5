// Package rtcengine abstracts the real-time media engine that the
// negotiation layer drives. The core only instructs the engine ("create
// an offer", "add a candidate"); packetization, encoding, and NAT
// traversal internals belong to the engine implementation.
package rtcengine

import "concall/internal/protocol"

// State is the engine-level connection state for one peer connection.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is a local media source attached to peer connections.
// Toggling Enabled is a local-only mute; it never triggers renegotiation.
type LocalTrack interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// RemoteTrack is a media track received from a remote peer. Tracks that
// belong to the same remote stream share a StreamID.
type RemoteTrack interface {
	StreamID() string
	Kind() TrackKind
}

// Engine is one peer connection's capability surface.
//
// Descriptor and candidate production are synchronous here; the engine
// delivers asynchronously gathered candidates and incoming tracks via the
// On* callbacks, which may fire on engine-owned goroutines.
type Engine interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(protocol.SessionDescription) error
	SetRemoteDescription(protocol.SessionDescription) error
	AddICECandidate(protocol.Candidate) error
	AddTrack(LocalTrack) error

	// OnICECandidate registers the local-candidate producer. A nil
	// candidate marks end-of-gathering.
	OnICECandidate(func(*protocol.Candidate))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(State))

	// Close releases the peer connection. Idempotent.
	Close() error
}

// Factory creates one Engine per remote peer.
type Factory func() (Engine, error)
