// Package wsconn provides the low-level WebSocket connection primitives
// (upgrade, read pump, write pump, ping/pong) that internal/transport builds
// its resilience logic on top of, grounded on the teacher's
// pkg/websocket/client.go read/write pump split.
package wsconn

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB; gateway payloads carry full provider responses, not ticks
	sendBufferSize = 256
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn wraps a gorilla/websocket connection with the read/write pump split
// and a buffered outbound channel. It carries no retry/dedup/breaker logic
// of its own -- that lives in internal/transport, which owns one Conn per
// client.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	remoteAddr string
}

// New wraps an already-upgraded *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		remoteAddr: ws.RemoteAddr().String(),
	}
}

// RemoteAddr returns the raw remote address string used to key client identity.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Enqueue writes raw bytes to the outbound channel without blocking,
// reporting false if the buffer is full.
func (c *Conn) Enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// ReadPump blocks reading frames off the wire and invokes onMessage for
// each, until a read fails; onClose is then called with the read error. It
// installs the pong handler that keeps the read deadline alive.
func (c *Conn) ReadPump(onMessage func([]byte), onClose func(error)) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}
		onMessage(message)
	}
}

// WritePump drains the send channel to the socket and pings on an interval,
// returning when stop is closed or a write fails.
func (c *Conn) WritePump(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
