package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices.
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer. Clients only subscribe;
	// they have no business sending large payloads.
	maxMessageSize = 4 * 1024

	// sendBufferSize is the per-client outbound queue. A client that
	// falls this far behind is dropped.
	sendBufferSize = 256
)

// Client is one WebSocket subscriber to reel job updates.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	sendMsg   chan interface{}
	id        string
	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, sendBufferSize),
		id:      fmt.Sprintf("%s_%d", remoteAddr, time.Now().UnixNano()),
	}
}

// close shuts the connection exactly once. The send channel is never
// closed: a broadcast racing an unregister may still write to it, and a
// send to a dead client's buffer is harmless where a send to a closed
// channel panics.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump drains inbound frames so pings and close frames are
// processed. The subscription protocol has no client commands; any
// payload is ignored.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
			c.close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debugw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump pushes queued messages and keepalive pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("WebSocket write failed", "client_id", c.id, "error", err)
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
