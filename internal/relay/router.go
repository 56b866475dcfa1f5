package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"concall/internal/config"
	"concall/internal/metrics"
	"concall/internal/protocol"
	"concall/internal/rooms"
)

// Router fans signaling messages out to participants.
//
// Addressing is three-tier: a message names either a single participant
// (toId), a room (roomId, delivered to every member except the sender),
// or nothing (delivered to everyone except the sender).
type Router struct {
	log      *slog.Logger
	cfg      config.Config
	registry *rooms.Registry
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewRouter(cfg config.Config, logger *slog.Logger, registry *rooms.Registry, m *metrics.Metrics) *Router {
	r := &Router{
		log:      logger,
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		clients:  make(map[string]*client),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (the peer CLI) send no Origin header.
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection and registers the participant. The
// participant id is connection-scoped and assigned here.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		router: r,
		send:   make(chan *protocol.Envelope, r.cfg.SendQueueSize),
	}

	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	r.metrics.Inc(metrics.ParticipantsConnected)
	r.log.Info("participant connected", "participant_id", c.id, "remote_addr", conn.RemoteAddr().String())

	go c.writePump()
	go c.readPump()
}

// ParticipantCount reports how many participants are currently connected.
func (r *Router) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Router) dispatch(c *client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinRoom:
		r.handleJoinRoom(c, env.RoomID)
	case protocol.EventLeaveRoom:
		r.handleLeaveRoom(c, env.RoomID)
	case protocol.EventMessage:
		r.handleMessage(c, env)
	}
}

func (r *Router) handleJoinRoom(c *client, roomID string) {
	res := r.registry.Join(roomID, c.id)
	switch res {
	case rooms.Created:
		r.metrics.Inc(metrics.RoomsCreated)
		r.sendTo(c.id, &protocol.Envelope{
			Event:         protocol.EventRoomCreated,
			RoomID:        roomID,
			ParticipantID: c.id,
		})
		r.logTo(c, fmt.Sprintf("user %s create room %s", c.id, roomID))
	case rooms.Joined:
		r.metrics.Inc(metrics.RoomsJoined)
		r.sendTo(c.id, &protocol.Envelope{
			Event:         protocol.EventJoined,
			RoomID:        roomID,
			ParticipantID: c.id,
		})
		r.broadcastRoom(roomID, c.id, &protocol.Envelope{
			Event:         protocol.EventJoin,
			RoomID:        roomID,
			ParticipantID: c.id,
		})
		r.logTo(c, fmt.Sprintf("user %s join room %s", c.id, roomID))
	}
	r.log.Info("join room", "participant_id", c.id, "room_id", roomID, "result", res.String())
}

func (r *Router) handleLeaveRoom(c *client, roomID string) {
	r.registry.Leave(roomID, c.id)
	r.metrics.Inc(metrics.RoomsLeft)

	r.sendTo(c.id, &protocol.Envelope{
		Event:  protocol.EventLeftRoom,
		RoomID: roomID,
	})
	r.broadcastRoom(roomID, c.id, syntheticLeave(c.id))
	r.log.Info("leave room", "participant_id", c.id, "room_id", roomID)
}

func (r *Router) handleMessage(c *client, env protocol.Envelope) {
	out := &protocol.Envelope{
		Event:   protocol.EventMessage,
		Message: env.Message,
		FromID:  c.id,
	}

	switch {
	case env.ToID != "":
		r.sendTo(env.ToID, out)
	case env.RoomID != "":
		r.broadcastRoom(env.RoomID, c.id, out)
	default:
		r.broadcastAll(c.id, out)
	}
	r.metrics.Inc(metrics.MessagesRouted)
	r.log.Debug("routed message",
		"participant_id", c.id,
		"signal_type", string(env.Message.Type),
		"to_id", env.ToID,
		"room_id", env.RoomID,
	)
}

// disconnect runs once per connection, from readPump's teardown. Rooms
// the participant never explicitly left get the same synthetic leave an
// explicit leaveRoom would have produced.
func (r *Router) disconnect(c *client) {
	r.mu.Lock()
	if r.clients[c.id] != c {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.id)
	r.mu.Unlock()

	for _, roomID := range r.registry.RoomsOf(c.id) {
		r.registry.Leave(roomID, c.id)
		r.broadcastRoom(roomID, c.id, syntheticLeave(c.id))
	}

	close(c.send)
	r.metrics.Inc(metrics.ParticipantsDisconnected)
	r.log.Info("participant disconnected", "participant_id", c.id)
}

func syntheticLeave(fromID string) *protocol.Envelope {
	return &protocol.Envelope{
		Event:   protocol.EventMessage,
		Message: &protocol.SignalMessage{Type: protocol.SignalLeave},
		FromID:  fromID,
	}
}

// sendTo delivers to a single participant. A missing or slow target means
// the message is dropped; membership notifications correct state later.
func (r *Router) sendTo(id string, env *protocol.Envelope) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target := r.clients[id]
	if target == nil {
		r.metrics.Inc(metrics.MessagesDroppedNoTarget)
		r.log.Debug("drop message for unknown participant", "to_id", id)
		return
	}
	r.push(target, env)
}

func (r *Router) broadcastRoom(roomID, senderID string, env *protocol.Envelope) {
	members := r.registry.MembersExcept(roomID, senderID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range members {
		if target := r.clients[id]; target != nil {
			r.push(target, env)
		}
	}
}

func (r *Router) broadcastAll(senderID string, env *protocol.Envelope) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, target := range r.clients {
		if id != senderID {
			r.push(target, env)
		}
	}
}

// push must be called with r.mu held (read or write); that ordering
// guarantees the send channel cannot be closed mid-push.
func (r *Router) push(target *client, env *protocol.Envelope) {
	select {
	case target.send <- env:
	default:
		r.metrics.Inc(metrics.MessagesDroppedSlowPeer)
		r.log.Warn("send buffer full, dropping message", "participant_id", target.id)
	}
}

// logTo forwards a server-side diagnostic line to one participant.
func (r *Router) logTo(c *client, line string) {
	r.sendTo(c.id, &protocol.Envelope{
		Event: protocol.EventLog,
		Items: []string{"Server:", line},
	})
}
