// Package sigclient connects a participant to the signaling relay over a
// websocket and exposes the connection as a session.Channel.
package sigclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"concall/internal/protocol"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Client is a websocket connection to the relay. Send may be called from
// any goroutine; received envelopes come out of Incoming in wire order.
type Client struct {
	log  *slog.Logger
	conn *websocket.Conn

	incoming chan protocol.Envelope
	outgoing chan protocol.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay's websocket endpoint, e.g.
// "ws://127.0.0.1:5000/ws".
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		log:      log,
		conn:     conn,
		incoming: make(chan protocol.Envelope, 32),
		outgoing: make(chan protocol.Envelope, 32),
		done:     make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Send queues an envelope for the relay. It fails once the connection is
// closed; a full queue means the connection is stalled and counts as
// closed from the caller's point of view.
func (c *Client) Send(env protocol.Envelope) error {
	select {
	case <-c.done:
		return fmt.Errorf("signaling connection closed")
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling connection closed")
	}
}

// Incoming returns the stream of relay envelopes. It is closed when the
// connection goes away.
func (c *Client) Incoming() <-chan protocol.Envelope { return c.incoming }

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}

// readPump decodes relay frames. The relay is trusted, so unlike the
// server side this only needs a plain decode; frames that still fail are
// logged and skipped.
func (c *Client) readPump() {
	defer close(c.incoming)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("signaling read failed", "error", err)
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("undecodable relay frame skipped", "error", err)
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warn("signaling write failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
