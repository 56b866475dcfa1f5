package sigclient

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"concall/internal/config"
	"concall/internal/metrics"
	"concall/internal/protocol"
	"concall/internal/relay"
	"concall/internal/rooms"
	"concall/internal/rtcengine"
	"concall/internal/session"
)

func startRelay(t *testing.T) (wsURL string) {
	t.Helper()
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	router := relay.NewRouter(cfg, discardLogger(), rooms.NewRegistry(), metrics.New())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialClient(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func recvEnvelope(t *testing.T, c *Client, want protocol.Event) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.Incoming():
			if !ok {
				t.Fatalf("connection closed while waiting for %q", want)
			}
			if env.Event == protocol.EventLog {
				continue
			}
			if env.Event != want {
				t.Fatalf("event = %q, want %q (envelope %#v)", env.Event, want, env)
			}
			return env
		case <-deadline:
			t.Fatalf("no %q envelope within deadline", want)
		}
	}
}

func TestClient_JoinAndSignalThroughRelay(t *testing.T) {
	url := startRelay(t)
	a := dialClient(t, url)
	b := dialClient(t, url)

	if err := a.Send(protocol.Envelope{Event: protocol.EventJoinRoom, RoomID: "room-1"}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	created := recvEnvelope(t, a, protocol.EventRoomCreated)
	if created.RoomID != "room-1" || created.ParticipantID == "" {
		t.Fatalf("roomCreated = %#v", created)
	}

	if err := b.Send(protocol.Envelope{Event: protocol.EventJoinRoom, RoomID: "room-1"}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	joined := recvEnvelope(t, b, protocol.EventJoined)
	recvEnvelope(t, a, protocol.EventJoin)

	err := b.Send(protocol.Envelope{
		Event:   protocol.EventMessage,
		ToID:    created.ParticipantID,
		Message: &protocol.SignalMessage{Type: protocol.SignalWebRTCConnect},
	})
	if err != nil {
		t.Fatalf("send signal: %v", err)
	}
	msg := recvEnvelope(t, a, protocol.EventMessage)
	if msg.FromID != joined.ParticipantID || msg.Message.Type != protocol.SignalWebRTCConnect {
		t.Fatalf("relayed message = %#v", msg)
	}
}

func TestClient_CloseEndsIncoming(t *testing.T) {
	url := startRelay(t)
	c := dialClient(t, url)

	_ = c.Close()
	_ = c.Close() // idempotent

	select {
	case _, ok := <-c.Incoming():
		if ok {
			// Drain anything buffered before close.
			for range c.Incoming() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("incoming not closed after Close")
	}

	if err := c.Send(protocol.Envelope{Event: protocol.EventJoinRoom, RoomID: "r"}); err == nil {
		t.Fatalf("send after close succeeded")
	}
}

// loopbackEngine completes negotiation against our fake SDP payloads so
// two managers can drive a full handshake through the real relay.
type loopbackEngine struct {
	mu      sync.Mutex
	onState func(rtcengine.State)
}

func (e *loopbackEngine) CreateOffer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "offer", SDP: "v=0 loopback"}, nil
}

func (e *loopbackEngine) CreateAnswer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "answer", SDP: "v=0 loopback"}, nil
}

func (e *loopbackEngine) SetLocalDescription(protocol.SessionDescription) error { return nil }

func (e *loopbackEngine) SetRemoteDescription(protocol.SessionDescription) error {
	e.mu.Lock()
	f := e.onState
	e.mu.Unlock()
	// Both descriptors in place counts as connected for this fake.
	if f != nil {
		f(rtcengine.StateConnected)
	}
	return nil
}

func (e *loopbackEngine) AddICECandidate(protocol.Candidate) error { return nil }

func (e *loopbackEngine) AddTrack(rtcengine.LocalTrack) error { return nil }

func (e *loopbackEngine) OnICECandidate(func(*protocol.Candidate)) {}

func (e *loopbackEngine) OnTrack(func(rtcengine.RemoteTrack)) {}

func (e *loopbackEngine) OnConnectionStateChange(f func(rtcengine.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = f
}

func (e *loopbackEngine) Close() error { return nil }

func startManager(t *testing.T, url string) (*session.Manager, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, url, discardLogger())
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	m, err := session.NewManager(session.Options{
		Channel: c,
		Engine:  func() (rtcengine.Engine, error) { return &loopbackEngine{}, nil },
	})
	if err != nil {
		cancel()
		t.Fatalf("new manager: %v", err)
	}
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		// Dropping the session drops the connection, like a client crash.
		_ = c.Close()
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, cancel
}

func waitManagerEvent(t *testing.T, m *session.Manager, want session.EventKind) session.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %q", want)
			}
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within deadline", want)
		}
	}
}

func waitPeerCount(t *testing.T, m *session.Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if len(m.Peers()) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer count = %d, want %d", len(m.Peers()), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitPeerConnected(t *testing.T, m *session.Manager, peerID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if s, ok := m.PeerState(peerID); ok && s == "connected" {
			return
		}
		if time.Now().After(deadline) {
			s, ok := m.PeerState(peerID)
			t.Fatalf("peer %s state = (%q, %v), want connected", peerID, s, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Two full sessions negotiate through the real relay: the second joiner
// announces itself, the first member offers, the answer comes back, and a
// disconnect tears the peer down on the survivor.
func TestSessionsNegotiateThroughRelay(t *testing.T) {
	url := startRelay(t)

	alice, _ := startManager(t, url)
	if err := alice.JoinRoom("room-1"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	waitManagerEvent(t, alice, session.EventRoomCreated)

	bob, cancelBob := startManager(t, url)
	if err := bob.JoinRoom("room-1"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	waitManagerEvent(t, bob, session.EventRoomJoined)

	waitPeerCount(t, alice, 1)
	waitPeerCount(t, bob, 1)
	if alice.Peers()[0] != bob.MyID() || bob.Peers()[0] != alice.MyID() {
		t.Fatalf("peer ids do not line up: alice=%v bob=%v", alice.Peers(), bob.Peers())
	}
	waitPeerConnected(t, alice, bob.MyID())
	waitPeerConnected(t, bob, alice.MyID())

	// Bob drops without an explicit leave; the relay's synthetic leave
	// must reach alice and tear down the link.
	cancelBob()
	ev := waitManagerEvent(t, alice, session.EventPeerLeft)
	if ev.PeerID == "" {
		t.Fatalf("peerLeft event = %+v", ev)
	}
	waitPeerCount(t, alice, 0)
}
