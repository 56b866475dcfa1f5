package session

import (
	"concall/internal/protocol"
	"concall/internal/rtcengine"
)

// linkState tracks one peer's negotiation progress.
type linkState int

const (
	linkNew linkState = iota
	linkConnecting
	linkConnected
	linkClosed
)

func (s linkState) String() string {
	switch s {
	case linkNew:
		return "new"
	case linkConnecting:
		return "connecting"
	case linkConnected:
		return "connected"
	case linkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// link is the negotiation state machine for one remote peer. Every method
// runs on the Manager loop; engine callbacks re-enter through the dispatch
// channel, so no locking is needed here.
type link struct {
	m      *Manager
	peerID string
	engine rtcengine.Engine

	state linkState

	// Candidates that arrived before the remote descriptor. They are
	// applied in arrival order once SetRemoteDescription succeeds.
	pending   []protocol.Candidate
	remoteSet bool

	// Stream ids already announced to the owner. A stream with both audio
	// and video fires OnTrack twice but is surfaced once.
	seenStreams map[string]struct{}
}

func (m *Manager) newLink(peerID string) (*link, error) {
	engine, err := m.newEngine()
	if err != nil {
		return nil, err
	}
	l := &link{
		m:           m,
		peerID:      peerID,
		engine:      engine,
		seenStreams: make(map[string]struct{}),
	}

	for _, t := range m.localTracks {
		if err := engine.AddTrack(t); err != nil {
			m.log.Warn("add local track", "peer", peerID, "kind", t.Kind(), "error", err)
		}
	}

	engine.OnICECandidate(func(c *protocol.Candidate) {
		if c == nil {
			return
		}
		m.enqueue(func() {
			if !l.alive() {
				return
			}
			m.sendSignal(peerID, protocol.SignalMessage{
				Type:      protocol.SignalCandidate,
				Candidate: c,
			})
		})
	})

	engine.OnTrack(func(rt rtcengine.RemoteTrack) {
		m.enqueue(func() {
			if !l.alive() {
				return
			}
			if _, seen := l.seenStreams[rt.StreamID()]; seen {
				return
			}
			l.seenStreams[rt.StreamID()] = struct{}{}
			m.emit(Event{Kind: EventPeerStream, PeerID: peerID, Stream: rt})
		})
	})

	engine.OnConnectionStateChange(func(s rtcengine.State) {
		m.enqueue(func() {
			if !l.alive() {
				return
			}
			m.log.Debug("peer connection state", "peer", peerID, "state", s)
			if s == rtcengine.StateConnected {
				l.state = linkConnected
				m.snapshotPeers()
			}
		})
	})

	return l, nil
}

// alive reports whether this link is still the registered one for its
// peer. Late engine callbacks aimed at a replaced or torn-down link land
// here and are dropped.
func (l *link) alive() bool {
	return l.state != linkClosed && l.m.links[l.peerID] == l
}

// initiate starts negotiation as the offering side.
func (l *link) initiate() {
	offer, err := l.engine.CreateOffer()
	if err != nil {
		l.fail("create offer", err)
		return
	}
	if err := l.engine.SetLocalDescription(offer); err != nil {
		l.fail("set local offer", err)
		return
	}
	l.m.sendSignal(l.peerID, protocol.SignalMessage{
		Type: protocol.SignalOffer,
		SDP:  &offer,
	})
	l.state = linkConnecting
	l.m.snapshotPeers()
}

// receiveOffer answers an incoming offer.
func (l *link) receiveOffer(sd protocol.SessionDescription) {
	if err := l.engine.SetRemoteDescription(sd); err != nil {
		l.fail("set remote offer", err)
		return
	}
	l.remoteApplied()

	answer, err := l.engine.CreateAnswer()
	if err != nil {
		l.fail("create answer", err)
		return
	}
	if err := l.engine.SetLocalDescription(answer); err != nil {
		l.fail("set local answer", err)
		return
	}
	l.m.sendSignal(l.peerID, protocol.SignalMessage{
		Type: protocol.SignalAnswer,
		SDP:  &answer,
	})
	l.state = linkConnecting
	l.m.snapshotPeers()
}

func (l *link) receiveAnswer(sd protocol.SessionDescription) {
	if err := l.engine.SetRemoteDescription(sd); err != nil {
		l.fail("set remote answer", err)
		return
	}
	l.remoteApplied()
}

// receiveCandidate applies a remote candidate, or buffers it when the
// remote descriptor has not been set yet. Candidate failures are logged
// and swallowed; a lost candidate degrades connectivity but a remaining
// pair can still connect.
func (l *link) receiveCandidate(c protocol.Candidate) {
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.engine.AddICECandidate(c); err != nil {
		l.m.log.Warn("add ice candidate", "peer", l.peerID, "error", err)
	}
}

func (l *link) remoteApplied() {
	l.remoteSet = true
	for _, c := range l.pending {
		if err := l.engine.AddICECandidate(c); err != nil {
			l.m.log.Warn("add buffered ice candidate", "peer", l.peerID, "error", err)
		}
	}
	l.pending = nil
}

// fail reports a negotiation failure to the owner. The link stays
// registered; the remote side may retry with a fresh webrtcConnect.
func (l *link) fail(op string, err error) {
	l.m.log.Warn("negotiation failed", "peer", l.peerID, "op", op, "error", err)
	l.m.emit(Event{Kind: EventNegotiationError, PeerID: l.peerID, Err: err})
}

func (l *link) close() {
	if l.state == linkClosed {
		return
	}
	l.state = linkClosed
	if err := l.engine.Close(); err != nil {
		l.m.log.Debug("close engine", "peer", l.peerID, "error", err)
	}
}
