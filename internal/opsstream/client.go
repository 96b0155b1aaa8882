package opsstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Client is one connected operator's WebSocket connection, writing
// Events from a buffered outbound channel so a slow reader never blocks
// Hub.Broadcast.
type Client struct {
	id   string
	conn *websocket.Conn
	out  chan Event
	done chan struct{}
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}
}

// send enqueues ev for delivery; if the client's buffer is full, the
// event is dropped rather than blocking the broadcaster — this is a
// live tail, not a durable log.
func (c *Client) send(ev Event) {
	select {
	case c.out <- ev:
	default:
		slog.Warn("opsstream client buffer full, dropping event", "client", c.id)
	}
}

// run pumps queued events out to the connection and discards anything
// the operator's side sends in (this stream is broadcast-only), until
// ctx is cancelled or the connection errors.
func (c *Client) run(ctx context.Context) {
	go c.readPump()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames but still needs to read them so
// gorilla/websocket's pong handling and close detection fire.
func (c *Client) readPump() {
	defer close(c.done)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) close() {
	c.conn.Close()
}
