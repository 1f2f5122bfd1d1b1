// Package bridge runs the host side of a terminal session: it
// authenticates the remote peer, obtains a terminal via attach-or-allocate
// fallback, and pumps bytes between the terminal and the wire protocol.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rtx/termrelay/pkg/device"
	"github.com/rtx/termrelay/pkg/protocol"
	"github.com/rtx/termrelay/pkg/terminal"
)

// Session lifecycle, in order. Closed is terminal.
type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticating
	stateStreaming
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticating:
		return "authenticating"
	case stateStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// errReplaced signals that the relay paired a new client while a session
// was live; the caller disposes everything and runs a fresh session.
var errReplaced = errors.New("bridge: client replaced by relay")

// Config controls bridge behavior for every session it runs.
type Config struct {
	Shell          string
	Cols, Rows     int
	AttachPriority string
	PollInterval   time.Duration

	// AutoRegister admits unknown device keys by registering them on
	// first contact instead of rejecting.
	AutoRegister bool
}

// Bridge runs terminal sessions for authenticated peers.
type Bridge struct {
	cfg     Config
	devices *device.Registry
	log     *logrus.Logger

	// startTerminal is swapped out by tests.
	startTerminal func(terminal.Options, *logrus.Logger) (terminal.Session, error)
}

// New returns a bridge backed by the given device registry.
func New(cfg Config, devices *device.Registry, log *logrus.Logger) *Bridge {
	return &Bridge{
		cfg:           cfg,
		devices:       devices,
		log:           log,
		startTerminal: terminal.Start,
	}
}

// Serve runs sessions over peer until it disconnects. A client_ready
// arriving mid-session tears the session down and starts the next one.
func (b *Bridge) Serve(ctx context.Context, peer Peer) error {
	for {
		err := b.runSession(ctx, peer)
		if errors.Is(err, errReplaced) {
			continue
		}
		return err
	}
}

// runSession drives one client through the full state machine.
func (b *Bridge) runSession(ctx context.Context, peer Peer) error {
	st := stateUnauthenticated
	b.log.WithField("state", st).Debug("waiting for auth")

	auth, err := b.awaitAuth(peer)
	if err != nil {
		return err
	}
	st = stateAuthenticating
	b.log.WithField("state", st).Debug("auth frame received")

	if err := b.authorize(peer, auth); err != nil {
		return err
	}

	session, err := b.startTerminal(terminal.Options{
		Shell:          b.cfg.Shell,
		Cols:           b.cfg.Cols,
		Rows:           b.cfg.Rows,
		AttachPriority: b.cfg.AttachPriority,
		PollInterval:   b.cfg.PollInterval,
	}, b.log)
	if err != nil {
		_ = peer.Send(protocol.Message{
			Type: protocol.TypeError,
			Code: protocol.CodeTerminalFail,
			Text: err.Error(),
		})
		_ = peer.Close()
		return err
	}
	defer session.Close()

	cols, rows := session.Size()
	if err := peer.Send(protocol.Message{
		Type:  protocol.TypeAuthOK,
		PTY:   &protocol.PTYSize{Cols: cols, Rows: rows},
		Shell: session.Shell(),
	}); err != nil {
		return err
	}

	st = stateStreaming
	b.log.WithFields(logrus.Fields{
		"state": st,
		"kind":  session.Kind(),
		"shell": session.Shell(),
	}).Info("session streaming")

	err = b.stream(ctx, peer, session)
	b.log.WithField("state", stateClosed).Info("session closed")
	return err
}

// awaitAuth reads until the auth frame arrives. Pings are answered
// immediately; relay control chatter is skipped; anything else this early
// is a protocol error.
func (b *Bridge) awaitAuth(peer Peer) (protocol.Message, error) {
	for {
		msg, err := peer.Read()
		if err != nil {
			return protocol.Message{}, err
		}
		switch msg.Type {
		case protocol.TypeAuth:
			return msg, nil
		case protocol.TypePing:
			_ = peer.Send(protocol.Message{Type: protocol.TypePong})
		case protocol.TypeClientReady, protocol.TypeHostRegistered, protocol.TypePong:
			// relay control chatter, not part of the session
		default:
			_ = peer.Send(protocol.Message{
				Type: protocol.TypeError,
				Code: protocol.CodeBadMessage,
				Text: "expected auth",
			})
			_ = peer.Close()
			return protocol.Message{}, errors.New("bridge: first frame was not auth")
		}
	}
}

// authorize checks the device key against the registry, applying the
// auto-register policy for unknown keys.
func (b *Bridge) authorize(peer Peer, auth protocol.Message) error {
	key := auth.DeviceKey
	if key == "" {
		return b.rejectAuth(peer, "missing device key")
	}
	if !b.devices.IsAuthorized(key) {
		if !b.cfg.AutoRegister {
			return b.rejectAuth(peer, "unknown device")
		}
		label := "auto-registered"
		if auth.ClientVersion != "" {
			label = "client " + auth.ClientVersion
		}
		if err := b.devices.Register(key, label); err != nil {
			b.log.WithError(err).Error("device auto-register failed")
			return b.rejectAuth(peer, "registration failed")
		}
		b.log.WithField("device", key[:minInt(8, len(key))]).Info("device auto-registered")
	}
	if err := b.devices.UpdateLastSeen(key); err != nil {
		b.log.WithError(err).Warn("device store update failed")
	}
	return nil
}

func (b *Bridge) rejectAuth(peer Peer, reason string) error {
	_ = peer.Send(protocol.Message{
		Type: protocol.TypeError,
		Code: protocol.CodeAuthFailed,
		Text: reason,
	})
	_ = peer.Close()
	return errors.New("bridge: auth failed: " + reason)
}

// stream pumps both directions until the peer disconnects, the process
// exits, or the relay replaces the client.
func (b *Bridge) stream(ctx context.Context, peer Peer, session terminal.Session) error {
	// Outbound: terminal output to the wire, in order, single sender.
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		for chunk := range session.Output() {
			if err := peer.Send(protocol.StdoutChunk(chunk)); err != nil {
				return
			}
		}
	}()

	// Process exit closes the socket with a normal closure, which also
	// unblocks the inbound read below.
	watchStop := make(chan struct{})
	defer close(watchStop)
	go func() {
		select {
		case <-session.Done():
			b.log.Info("terminal process exited")
			_ = peer.Close()
		case <-ctx.Done():
			_ = peer.Close()
		case <-watchStop:
		}
	}()

	for {
		msg, err := peer.Read()
		if err != nil {
			// Peer disconnect is normal termination, not a failure.
			return nil
		}
		switch msg.Type {
		case protocol.TypeStdinInput:
			data, err := protocol.InputBytes(msg)
			if err != nil {
				b.log.WithError(err).Warn("undecodable stdin_input dropped")
				continue
			}
			if _, err := session.Write(data); err != nil {
				b.log.WithError(err).Warn("terminal write failed")
			}
		case protocol.TypeResize:
			if msg.Cols <= 0 || msg.Rows <= 0 {
				b.log.WithFields(logrus.Fields{"cols": msg.Cols, "rows": msg.Rows}).
					Warn("ignoring non-positive resize")
				continue
			}
			if err := session.Resize(msg.Cols, msg.Rows); err != nil {
				b.log.WithError(err).Warn("resize failed")
			}
		case protocol.TypeSignal:
			if err := session.Signal(msg.Name); err != nil {
				b.log.WithError(err).WithField("signal", msg.Name).Warn("signal failed")
			}
		case protocol.TypePing:
			_ = peer.Send(protocol.Message{Type: protocol.TypePong})
		case protocol.TypePong:
			// keepalive acknowledgement
		case protocol.TypeClientReady:
			return errReplaced
		default:
			b.log.WithField("type", msg.Type).Debug("ignoring unknown message type")
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
