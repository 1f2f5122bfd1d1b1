// Package relay implements the broker that pairs exactly one remote client
// to one registered host and forwards all session traffic verbatim between
// them. The broker never inspects forwarded payloads.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rtx/termrelay/pkg/config"
	"github.com/rtx/termrelay/pkg/ids"
	"github.com/rtx/termrelay/pkg/protocol"
	"github.com/rtx/termrelay/pkg/token"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Clients connect from arbitrary origins; auth happens via tokens.
		return true
	},
}

// Stats is the snapshot served by /stats.
type Stats struct {
	Hosts   int `json:"hosts"`
	Clients int `json:"clients"`
	Pairs   int `json:"pairs"`
}

// Broker maintains the 1:1 pairing table between hosts and clients.
type Broker struct {
	cfg    config.Relay
	issuer *token.Issuer
	log    *logrus.Logger

	mu        sync.RWMutex
	hosts     map[string]*Conn  // hostID -> host connection
	clients   map[string]*Conn  // clientID -> client connection
	pairs     map[string]string // hostID -> clientID
	hostConns map[string]int    // hostID -> live connections attributed to it
}

// NewBroker returns a broker using issuer to validate connect tokens.
func NewBroker(cfg config.Relay, issuer *token.Issuer, log *logrus.Logger) *Broker {
	return &Broker{
		cfg:       cfg,
		issuer:    issuer,
		log:       log,
		hosts:     make(map[string]*Conn),
		clients:   make(map[string]*Conn),
		pairs:     make(map[string]string),
		hostConns: make(map[string]int),
	}
}

// HandleWS upgrades an HTTP request and runs the connection until it drops.
func (b *Broker) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Error("websocket upgrade failed")
		return
	}
	b.runConn(newConn(ws))
}

// runConn is the per-connection read loop. The read deadline is refreshed
// on every frame, including transport pongs, so an unresponsive peer is
// dropped after the configured timeout.
func (b *Broker) runConn(conn *Conn) {
	defer func() {
		b.cleanup(conn)
		conn.shut()
	}()

	conn.ws.SetReadLimit(1 << 20)
	_ = conn.ws.SetReadDeadline(time.Now().Add(b.cfg.ConnTimeout()))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(b.cfg.ConnTimeout()))
	})

	go conn.writer(b.cfg.Keepalive())

	for {
		var msg protocol.Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				b.log.WithError(err).Debug("read loop ended")
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(b.cfg.ConnTimeout()))
		msg.Stamp()
		if !b.dispatch(conn, msg) {
			return
		}
	}
}

// dispatch routes one inbound message. It returns false when the
// connection must be dropped.
func (b *Broker) dispatch(conn *Conn, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeHostRegister:
		return b.registerHost(conn, msg)
	case protocol.TypeClientConnect:
		return b.connectClient(conn, msg)
	case protocol.TypePing:
		b.sendMessage(conn, protocol.Message{Type: protocol.TypePong, Timestamp: protocol.Now()})
		return true
	default:
		if protocol.IsRelayControl(msg.Type) {
			// Broker-originated notifications echoed back by a peer are
			// dropped, never forwarded.
			return true
		}
		b.forward(conn, msg)
		return true
	}
}

// registerHost stores conn as the host connection for msg.HostID. A prior
// connection registered under the same ID is evicted and closed rather
// than left to time out on its own.
func (b *Broker) registerHost(conn *Conn, msg protocol.Message) bool {
	if msg.HostID == "" || msg.Token == "" {
		b.log.Error("host_register missing host_id or token")
		return false
	}
	claims, err := b.issuer.Verify(msg.Token)
	if err != nil {
		b.log.WithError(err).WithField("host_id", msg.HostID).Warn("host token rejected")
		return false
	}
	if claims.HostID != msg.HostID {
		b.log.WithField("host_id", msg.HostID).Warn("host token bound to different host")
		return false
	}

	var evicted *Conn
	b.mu.Lock()
	cascade := b.releaseLocked(conn)
	if b.hostConns[msg.HostID] >= b.cfg.MaxConnsPerHost {
		b.mu.Unlock()
		if cascade != nil {
			cascade.shut()
		}
		b.log.WithField("host_id", msg.HostID).Warn("per-host connection limit reached")
		return false
	}
	if prev, ok := b.hosts[msg.HostID]; ok {
		evicted = prev
		b.hostConns[msg.HostID]--
	}
	conn.hostID = msg.HostID
	conn.isHost = true
	b.hosts[msg.HostID] = conn
	b.hostConns[msg.HostID]++
	b.mu.Unlock()

	if cascade != nil {
		cascade.shut()
	}
	if evicted != nil {
		b.log.WithField("host_id", msg.HostID).Info("evicting stale host connection")
		evicted.shut()
	}

	b.log.WithField("host_id", msg.HostID).Info("host registered")
	b.sendMessage(conn, protocol.Message{
		Type:      protocol.TypeHostRegistered,
		HostID:    msg.HostID,
		Timestamp: protocol.Now(),
	})
	return true
}

// connectClient pairs conn with the registered host named in the message.
// An existing paired client is evicted first; both sides then receive
// client_ready.
func (b *Broker) connectClient(conn *Conn, msg protocol.Message) bool {
	if msg.HostID == "" || msg.Token == "" {
		b.log.Error("client_connect missing host_id or token")
		return false
	}
	claims, err := b.issuer.Verify(msg.Token)
	if err != nil {
		b.log.WithError(err).WithField("host_id", msg.HostID).Warn("connect token rejected")
		return false
	}
	if claims.HostID != msg.HostID {
		b.log.WithField("host_id", msg.HostID).Warn("connect token bound to different host")
		return false
	}

	var evicted *Conn
	b.mu.Lock()
	cascade := b.releaseLocked(conn)
	host, ok := b.hosts[msg.HostID]
	if !ok {
		b.mu.Unlock()
		if cascade != nil {
			cascade.shut()
		}
		b.log.WithField("host_id", msg.HostID).Warn("connect to unknown host")
		return false
	}
	if b.hostConns[msg.HostID] >= b.cfg.MaxConnsPerHost {
		b.mu.Unlock()
		if cascade != nil {
			cascade.shut()
		}
		b.log.WithField("host_id", msg.HostID).Warn("per-host connection limit reached")
		return false
	}
	if prevID, paired := b.pairs[msg.HostID]; paired {
		if prev, live := b.clients[prevID]; live {
			evicted = prev
			delete(b.clients, prevID)
			b.hostConns[msg.HostID]--
		}
		delete(b.pairs, msg.HostID)
	}
	clientID := ids.ClientID()
	conn.clientID = clientID
	conn.hostID = msg.HostID
	conn.isHost = false
	b.clients[clientID] = conn
	b.pairs[msg.HostID] = clientID
	b.hostConns[msg.HostID]++
	b.mu.Unlock()

	if cascade != nil {
		cascade.shut()
	}
	if evicted != nil {
		b.log.WithField("host_id", msg.HostID).Info("evicting paired client for new connection")
		evicted.shut()
	}

	b.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"host_id":   msg.HostID,
	}).Info("client paired")

	ready := protocol.Message{
		Type:      protocol.TypeClientReady,
		HostID:    msg.HostID,
		Timestamp: protocol.Now(),
	}
	b.sendMessage(host, ready)
	b.sendMessage(conn, ready)
	return true
}

// forward relays a non-control message verbatim to the paired peer.
// Unpaired traffic is dropped silently.
func (b *Broker) forward(from *Conn, msg protocol.Message) {
	b.mu.RLock()
	var peer *Conn
	if from.isHost {
		if clientID, ok := b.pairs[from.hostID]; ok {
			peer = b.clients[clientID]
		}
	} else if from.hostID != "" {
		peer = b.hosts[from.hostID]
	}
	b.mu.RUnlock()

	if peer != nil {
		b.sendMessage(peer, msg)
	}
}

// sendMessage enqueues without blocking. A full queue means the peer has
// stopped draining; back-pressure becomes disconnection.
func (b *Broker) sendMessage(conn *Conn, msg protocol.Message) {
	select {
	case conn.send <- msg:
	default:
		b.log.Warn("send queue full, dropping connection")
		b.cleanup(conn)
		conn.shut()
	}
}

// cleanup removes conn from every map it appears in and cascades to its
// paired peer. Safe to call more than once and from multiple paths.
func (b *Broker) cleanup(conn *Conn) {
	b.mu.Lock()
	cascade := b.releaseLocked(conn)
	b.mu.Unlock()

	if cascade != nil {
		cascade.shut()
	}
}

// releaseLocked detaches conn from its current identity: every map entry
// under that identity is removed and the identity fields are cleared, so
// a connection that re-registers or re-connects cannot leave a stale
// entry behind. Returns the paired client to close once the lock is
// released, if the detachment orphaned one. Callers hold b.mu.
func (b *Broker) releaseLocked(conn *Conn) *Conn {
	var cascade *Conn
	if conn.isHost && conn.hostID != "" {
		// An evicted host must not tear down its replacement's state.
		if b.hosts[conn.hostID] == conn {
			delete(b.hosts, conn.hostID)
			b.hostConns[conn.hostID]--
			if clientID, ok := b.pairs[conn.hostID]; ok {
				if client, live := b.clients[clientID]; live {
					cascade = client
					delete(b.clients, clientID)
					b.hostConns[conn.hostID]--
				}
				delete(b.pairs, conn.hostID)
			}
			if b.hostConns[conn.hostID] <= 0 {
				delete(b.hostConns, conn.hostID)
			}
			b.log.WithField("host_id", conn.hostID).Info("host removed from pairing table")
		}
	} else if conn.clientID != "" {
		if b.clients[conn.clientID] == conn {
			delete(b.clients, conn.clientID)
			if conn.hostID != "" && b.pairs[conn.hostID] == conn.clientID {
				delete(b.pairs, conn.hostID)
			}
			if conn.hostID != "" {
				b.hostConns[conn.hostID]--
				if b.hostConns[conn.hostID] <= 0 {
					delete(b.hostConns, conn.hostID)
				}
			}
			b.log.WithField("client_id", conn.clientID).Info("client removed from pairing table")
		}
	}
	conn.hostID, conn.clientID, conn.isHost = "", "", false
	return cascade
}

// GetStats returns current pairing-table counts.
func (b *Broker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Hosts:   len(b.hosts),
		Clients: len(b.clients),
		Pairs:   len(b.pairs),
	}
}
