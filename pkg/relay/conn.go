package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtx/termrelay/pkg/protocol"
)

// writeWait bounds how long a single frame write may block.
const writeWait = 10 * time.Second

// wsLink is the slice of *websocket.Conn the broker needs. Tests substitute
// a fake; production always passes a gorilla connection.
type wsLink interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one WebSocket peer tracked by the broker. Role fields stay unset
// until the peer registers or connects.
type Conn struct {
	ws   wsLink
	send chan protocol.Message

	hostID   string
	clientID string
	isHost   bool

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws wsLink) *Conn {
	return &Conn{
		ws:   ws,
		send: make(chan protocol.Message, 256),
		done: make(chan struct{}),
	}
}

// shut closes the underlying socket and releases the writer exactly once.
func (c *Conn) shut() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writer drains the send queue and emits keepalive pings on a fixed
// interval, independent of forwarded traffic. It owns all writes to the
// socket.
func (c *Conn) writer(keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.shut()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shut()
				return
			}
		case <-c.done:
			return
		}
	}
}
