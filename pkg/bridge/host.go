package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rtx/termrelay/pkg/protocol"
)

const (
	pingInterval     = 30 * time.Second
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// RunHost keeps the host registered with the relay, serving bridge
// sessions over the relay connection and re-registering with backoff
// whenever the connection drops. It returns when ctx is canceled.
func (b *Bridge) RunHost(ctx context.Context, relayURL, hostID, tok string) error {
	backoff := reconnectInitial
	for {
		err := b.hostOnce(ctx, relayURL, hostID, tok)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.WithError(err).WithField("backoff", backoff).Warn("relay connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// hostOnce dials the relay, registers, and serves sessions until the
// connection fails.
func (b *Bridge) hostOnce(ctx context.Context, relayURL, hostID, tok string) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	peer := NewPeer(ws)
	defer peer.Close()

	if err := peer.Send(protocol.Message{
		Type:   protocol.TypeHostRegister,
		HostID: hostID,
		Token:  tok,
	}); err != nil {
		return fmt.Errorf("send host_register: %w", err)
	}

	msg, err := peer.Read()
	if err != nil {
		return fmt.Errorf("await host_registered: %w", err)
	}
	if msg.Type != protocol.TypeHostRegistered {
		return errors.New("relay refused registration")
	}
	b.log.WithFields(logrus.Fields{
		"host_id": hostID,
		"relay":   relayURL,
	}).Info("registered with relay")

	// Keepalive pings keep the relay's read deadline fresh even while no
	// client is paired.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := peer.Send(protocol.Message{Type: protocol.TypePing}); err != nil {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return b.Serve(ctx, peer)
}
