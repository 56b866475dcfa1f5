package session

import "concall/internal/protocol"

// Channel is the participant side of the Message Channel: an ordered,
// bidirectional event transport to the relay.
//
// Send must be safe for concurrent use. Incoming is closed when the
// underlying connection goes away, which the Manager treats as the end of
// the session.
type Channel interface {
	Send(env protocol.Envelope) error
	Incoming() <-chan protocol.Envelope
	Close() error
}
