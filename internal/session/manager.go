// Package session runs the participant side of a call: it drives the
// signaling channel, owns one negotiation link per remote peer, and
// surfaces a typed event stream to the owning application.
//
// The Manager is an actor. Run is its only goroutine; channel frames and
// engine callbacks are both funnelled onto that loop, so link state needs
// no locking and events are delivered in a single, consistent order.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"concall/internal/protocol"
	"concall/internal/rtcengine"
)

var (
	ErrEmptyRoomID = errors.New("room id is empty")
	ErrNotInRoom   = errors.New("not in a room")
)

// Options configure a Manager. Channel and Engine are required.
type Options struct {
	Logger  *slog.Logger
	Channel Channel
	// Engine builds one media engine per remote peer.
	Engine rtcengine.Factory
	// LocalTracks are attached to every peer connection. May be empty;
	// the control data channel keeps descriptors valid without media.
	LocalTracks []rtcengine.LocalTrack
}

// Manager is the peer session manager for one participant.
type Manager struct {
	log         *slog.Logger
	channel     Channel
	newEngine   rtcengine.Factory
	localTracks []rtcengine.LocalTrack

	events   chan Event
	dispatch chan func()
	done     chan struct{}

	// Loop-owned state. links is only touched on the Run loop.
	links map[string]*link

	// Identity snapshot for owner-side accessors.
	mu         sync.RWMutex
	myID       string
	roomID     string
	peers      []string
	peerStates map[string]string
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Channel == nil {
		return nil, errors.New("session: channel is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("session: engine factory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		log:         log,
		channel:     opts.Channel,
		newEngine:   opts.Engine,
		localTracks: opts.LocalTracks,
		events:      make(chan Event, 32),
		dispatch:    make(chan func(), 64),
		done:        make(chan struct{}),
		links:       make(map[string]*link),
		peerStates:  make(map[string]string),
	}, nil
}

// Events is the stream of session events for the owner. It is closed when
// Run returns.
func (m *Manager) Events() <-chan Event { return m.events }

// MyID returns the participant id assigned by the relay, or "" before the
// first room entry.
func (m *Manager) MyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myID
}

// RoomID returns the current room, or "" when not in one.
func (m *Manager) RoomID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID
}

// Peers returns the ids of remote peers with an active or negotiating
// link.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.peers...)
}

// PeerState reports the negotiation state ("new", "connecting",
// "connected") for one remote peer.
func (m *Manager) PeerState(peerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.peerStates[peerID]
	return s, ok
}

// JoinRoom asks the relay to enter roomID. The outcome arrives on the
// event stream as EventRoomCreated or EventRoomJoined.
func (m *Manager) JoinRoom(roomID string) error {
	if roomID == "" {
		m.log.Warn("join requested with empty room id")
		return ErrEmptyRoomID
	}
	return m.channel.Send(protocol.Envelope{
		Event:  protocol.EventJoinRoom,
		RoomID: roomID,
	})
}

// LeaveRoom asks the relay to leave the current room. Teardown happens
// when the leftRoom confirmation comes back.
func (m *Manager) LeaveRoom() error {
	roomID := m.RoomID()
	if roomID == "" {
		m.log.Warn("leave requested while not in a room")
		return ErrNotInRoom
	}
	return m.channel.Send(protocol.Envelope{
		Event:  protocol.EventLeaveRoom,
		RoomID: roomID,
	})
}

// ToggleAudio flips the enabled state of every local audio track and
// reports whether audio is now enabled. Local-only; never renegotiates.
func (m *Manager) ToggleAudio() bool { return m.toggleTracks(rtcengine.TrackAudio) }

// ToggleVideo is ToggleAudio for video tracks.
func (m *Manager) ToggleVideo() bool { return m.toggleTracks(rtcengine.TrackVideo) }

func (m *Manager) toggleTracks(kind rtcengine.TrackKind) bool {
	enabled := false
	for _, t := range m.localTracks {
		if t.Kind() != kind {
			continue
		}
		t.SetEnabled(!t.Enabled())
		enabled = t.Enabled()
	}
	return enabled
}

// Run processes channel frames and marshalled engine callbacks until the
// channel closes or ctx is cancelled. It owns all link state.
func (m *Manager) Run(ctx context.Context) {
	defer m.teardown()
	for {
		select {
		case env, ok := <-m.channel.Incoming():
			if !ok {
				m.log.Info("signaling channel closed")
				return
			}
			m.handleEnvelope(env)
		case f := <-m.dispatch:
			f()
		case <-ctx.Done():
			return
		}
	}
}

// enqueue marshals an engine callback onto the Run loop. Callbacks that
// race with shutdown are dropped.
func (m *Manager) enqueue(f func()) {
	select {
	case m.dispatch <- f:
	case <-m.done:
	}
}

func (m *Manager) teardown() {
	for id, l := range m.links {
		l.close()
		delete(m.links, id)
	}
	for _, t := range m.localTracks {
		t.Stop()
	}
	m.setRoom(m.MyID(), "")
	m.snapshotPeers()
	close(m.done)
	close(m.events)
}

func (m *Manager) handleEnvelope(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventRoomCreated:
		m.setRoom(env.ParticipantID, env.RoomID)
		m.log.Info("room created", "room", env.RoomID, "id", env.ParticipantID)
		m.emit(Event{Kind: EventRoomCreated, RoomID: env.RoomID})

	case protocol.EventJoined:
		m.setRoom(env.ParticipantID, env.RoomID)
		m.log.Info("room joined", "room", env.RoomID, "id", env.ParticipantID)
		m.emit(Event{Kind: EventRoomJoined, RoomID: env.RoomID})
		// Announce ourselves; each existing member responds by opening
		// negotiation toward us.
		m.sendRoomSignal(env.RoomID, protocol.SignalMessage{Type: protocol.SignalWebRTCConnect})

	case protocol.EventJoin:
		m.log.Debug("participant joining room", "room", env.RoomID)

	case protocol.EventLeftRoom:
		m.handleLeftRoom(env.RoomID)

	case protocol.EventLog:
		for _, line := range env.Items {
			m.log.Debug("relay", "line", line)
		}

	case protocol.EventMessage:
		if env.Message == nil || env.FromID == "" {
			m.log.Warn("malformed message envelope dropped")
			return
		}
		m.handleSignal(env.FromID, *env.Message)

	default:
		m.log.Warn("unexpected event dropped", "event", env.Event)
	}
}

func (m *Manager) handleLeftRoom(roomID string) {
	if roomID != m.RoomID() {
		m.log.Debug("leftRoom for stale room ignored", "room", roomID)
		return
	}
	for id, l := range m.links {
		l.close()
		delete(m.links, id)
	}
	for _, t := range m.localTracks {
		t.Stop()
	}
	m.setRoom(m.MyID(), "")
	m.snapshotPeers()
	m.log.Info("room left", "room", roomID)
	m.emit(Event{Kind: EventLeftRoom, RoomID: roomID})
}

func (m *Manager) handleSignal(from string, msg protocol.SignalMessage) {
	if msg.Type == protocol.SignalLeave {
		m.handlePeerLeave(from)
		return
	}

	if l, ok := m.links[from]; ok && l.state == linkConnected {
		// Stray negotiation traffic for an established link. A duplicate
		// webrtcConnect here must not restart negotiation.
		m.log.Debug("signal for connected peer ignored", "peer", from, "type", msg.Type)
		return
	}

	switch msg.Type {
	case protocol.SignalWebRTCConnect:
		l, err := m.ensureLink(from)
		if err != nil {
			return
		}
		l.initiate()

	case protocol.SignalOffer:
		l, err := m.ensureLink(from)
		if err != nil {
			return
		}
		l.receiveOffer(*msg.SDP)

	case protocol.SignalAnswer:
		l, ok := m.links[from]
		if !ok {
			m.log.Warn("answer without a pending offer dropped", "peer", from)
			return
		}
		l.receiveAnswer(*msg.SDP)

	case protocol.SignalCandidate:
		l, ok := m.links[from]
		if !ok {
			m.log.Warn("candidate without a link dropped", "peer", from)
			return
		}
		l.receiveCandidate(*msg.Candidate)

	default:
		m.log.Warn("unsupported signal dropped", "peer", from, "type", msg.Type)
	}
}

func (m *Manager) handlePeerLeave(peerID string) {
	l, ok := m.links[peerID]
	if !ok {
		return
	}
	l.close()
	delete(m.links, peerID)
	m.snapshotPeers()
	m.log.Info("peer left", "peer", peerID)
	m.emit(Event{Kind: EventPeerLeft, PeerID: peerID})
}

// ensureLink returns the existing link for peerID or creates one. Engine
// construction failure is surfaced as a negotiation error.
func (m *Manager) ensureLink(peerID string) (*link, error) {
	if l, ok := m.links[peerID]; ok {
		return l, nil
	}
	l, err := m.newLink(peerID)
	if err != nil {
		m.log.Error("create engine", "peer", peerID, "error", err)
		m.emit(Event{Kind: EventNegotiationError, PeerID: peerID, Err: err})
		return nil, err
	}
	m.links[peerID] = l
	m.snapshotPeers()
	return l, nil
}

func (m *Manager) sendSignal(to string, msg protocol.SignalMessage) {
	err := m.channel.Send(protocol.Envelope{
		Event:   protocol.EventMessage,
		ToID:    to,
		Message: &msg,
	})
	if err != nil {
		m.log.Warn("send signal", "to", to, "type", msg.Type, "error", err)
	}
}

func (m *Manager) sendRoomSignal(roomID string, msg protocol.SignalMessage) {
	err := m.channel.Send(protocol.Envelope{
		Event:   protocol.EventMessage,
		RoomID:  roomID,
		Message: &msg,
	})
	if err != nil {
		m.log.Warn("send room signal", "room", roomID, "type", msg.Type, "error", err)
	}
}

func (m *Manager) setRoom(myID, roomID string) {
	m.mu.Lock()
	m.myID = myID
	m.roomID = roomID
	m.mu.Unlock()
}

func (m *Manager) snapshotPeers() {
	peers := make([]string, 0, len(m.links))
	states := make(map[string]string, len(m.links))
	for id, l := range m.links {
		peers = append(peers, id)
		states[id] = l.state.String()
	}
	m.mu.Lock()
	m.peers = peers
	m.peerStates = states
	m.mu.Unlock()
}

// emit hands an event to the owner without ever blocking the loop. A
// stalled owner loses events rather than wedging signaling.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event dropped, owner not draining", "kind", ev.Kind)
	}
}
