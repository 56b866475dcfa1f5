package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"concall/internal/metrics"
	"concall/internal/protocol"
)

const wsWriteWait = 10 * time.Second

// client wraps a single participant connection.
//
// All reads happen on readPump's goroutine and all writes on writePump's,
// so the connection itself needs no locking. Outbound messages pass
// through the buffered send channel; the router pushes non-blockingly and
// drops when the participant cannot keep up.
type client struct {
	id     string
	conn   *websocket.Conn
	router *Router

	send chan *protocol.Envelope
}

// readPump pumps frames from the websocket into the router. It owns
// connection teardown: when it returns, the router forgets the client and
// broadcasts the synthetic leave for every room it was in.
func (c *client) readPump() {
	defer func() {
		c.router.disconnect(c)
		_ = c.conn.Close()
	}()

	cfg := c.router.cfg
	c.conn.SetReadLimit(cfg.MaxSignalingMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	})

	limiter := newRateLimiter(cfg.MaxSignalingMessagesPerSecond)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.router.log.Warn("read error", "participant_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))

		if msgType != websocket.TextMessage {
			writeClose(c.conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(time.Now()) {
			writeClose(c.conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			// A malformed frame is a protocol anomaly, not a fatal error:
			// drop it and keep the connection.
			c.router.metrics.Inc(metrics.MessagesRejected)
			c.router.log.Warn("invalid frame", "participant_id", c.id, "err", err)
			continue
		}

		c.router.dispatch(c, env)
	}
}

// writePump pumps router messages to the websocket and keeps the
// connection alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.router.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// rateLimiter is a token bucket over signaling frames.
type rateLimiter struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newRateLimiter(messagesPerSecond int) *rateLimiter {
	rate := float64(messagesPerSecond)
	return &rateLimiter{
		rate:     rate,
		capacity: rate,
		tokens:   rate,
		last:     time.Now(),
	}
}

func (rl *rateLimiter) Allow(now time.Time) bool {
	elapsed := now.Sub(rl.last).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
