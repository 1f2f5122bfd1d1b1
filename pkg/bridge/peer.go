package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtx/termrelay/pkg/protocol"
)

// Peer is the bridge's view of the remote end: one in-order frame reader
// and one serialized sender. Sends go straight to the socket, so control
// replies never queue behind terminal output.
type Peer interface {
	Read() (protocol.Message, error)
	Send(protocol.Message) error
	Close() error
}

const sendTimeout = 10 * time.Second

// wsPeer adapts a gorilla connection to Peer. The mutex serializes writes
// from the output pump and the control paths.
type wsPeer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewPeer wraps an established WebSocket connection.
func NewPeer(ws *websocket.Conn) Peer {
	return &wsPeer{ws: ws}
}

func (p *wsPeer) Read() (protocol.Message, error) {
	var m protocol.Message
	err := p.ws.ReadJSON(&m)
	return m, err
}

func (p *wsPeer) Send(m protocol.Message) error {
	m.Stamp()
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(sendTimeout))
	return p.ws.WriteJSON(m)
}

func (p *wsPeer) Close() error {
	p.mu.Lock()
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.mu.Unlock()
	return p.ws.Close()
}
