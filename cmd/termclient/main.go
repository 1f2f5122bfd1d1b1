// termclient is a minimal interactive client: it pairs with a host through
// the relay and mirrors the remote terminal byte-for-byte on the local
// one. Rendering is left entirely to the local terminal emulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rtx/termrelay/pkg/bridge"
	"github.com/rtx/termrelay/pkg/protocol"
)

const clientVersion = "0.3.0"

// detachByte ends the session locally (Ctrl-]).
const detachByte = 0x1D

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func newRootCmd() *cobra.Command {
	var (
		relayURL  string
		tok       string
		deviceKey string
	)
	root := &cobra.Command{
		Use:           "termclient connect <host-id>",
		Short:         "Connect to a remote terminal through the relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	connect := &cobra.Command{
		Use:   "connect <host-id>",
		Short: "Open an interactive session with a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tok == "" {
				tok = os.Getenv("TERMRELAY_TOKEN")
			}
			if deviceKey == "" {
				deviceKey = os.Getenv("TERMRELAY_DEVICE_KEY")
			}
			if tok == "" || deviceKey == "" {
				return errors.New("token and device key required (--token/--device-key or TERMRELAY_TOKEN/TERMRELAY_DEVICE_KEY)")
			}
			return connectRun(cmd.Context(), relayURL, args[0], tok, deviceKey)
		},
	}
	connect.Flags().StringVar(&relayURL, "relay", "wss://localhost:8443/ws", "relay websocket URL")
	connect.Flags().StringVar(&tok, "token", "", "connect token")
	connect.Flags().StringVar(&deviceKey, "device-key", "", "device key for host authorization")
	root.AddCommand(connect)
	return root
}

func connectRun(ctx context.Context, relayURL, hostID, tok, deviceKey string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	peer := bridge.NewPeer(ws)
	defer peer.Close()

	if err := peer.Send(protocol.Message{
		Type:   protocol.TypeClientConnect,
		HostID: hostID,
		Token:  tok,
	}); err != nil {
		return err
	}
	msg, err := peer.Read()
	if err != nil {
		return errors.New("relay refused connection (unknown host or invalid token)")
	}
	if msg.Type != protocol.TypeClientReady {
		return fmt.Errorf("unexpected relay reply: %s", msg.Type)
	}

	if err := peer.Send(protocol.Message{
		Type:          protocol.TypeAuth,
		DeviceKey:     deviceKey,
		HostID:        hostID,
		ClientVersion: clientVersion,
	}); err != nil {
		return err
	}

	fmt.Printf("Paired with %s, authenticating...\r\n", hostID)

	stdinFd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(stdinFd, oldState) }
		defer restore()
	}

	// Local input to the wire, transport-encoded. Ctrl-] detaches.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				cancel()
				return
			}
			for i := 0; i < n; i++ {
				if buf[i] == detachByte {
					cancel()
					return
				}
			}
			if err := peer.Send(protocol.StdinVT(buf[:n])); err != nil {
				cancel()
				return
			}
		}
	}()

	go watchResize(ctx, stdinFd, peer)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := peer.Send(protocol.Message{Type: protocol.TypePing}); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = peer.Close()
	}()

	for {
		msg, err := peer.Read()
		if err != nil {
			if restore != nil {
				restore()
			}
			fmt.Printf("\r\nSession ended.\r\n")
			return nil
		}
		switch msg.Type {
		case protocol.TypeAuthOK:
			if msg.PTY != nil {
				fmt.Printf("Connected: %s (%dx%d). Ctrl-] to detach.\r\n", msg.Shell, msg.PTY.Cols, msg.PTY.Rows)
			} else {
				fmt.Printf("Connected: %s. Ctrl-] to detach.\r\n", msg.Shell)
			}
			sendLocalSize(stdinFd, peer)
		case protocol.TypeStdoutChunk:
			data, err := protocol.ChunkBytes(msg)
			if err != nil {
				continue
			}
			_, _ = os.Stdout.Write(data)
		case protocol.TypeError:
			if restore != nil {
				restore()
			}
			return fmt.Errorf("%s: %s", msg.Code, msg.Text)
		case protocol.TypePong, protocol.TypePing:
			// keepalive
		}
	}
}

// sendLocalSize pushes the local terminal geometry to the host.
func sendLocalSize(fd int, peer bridge.Peer) {
	if !term.IsTerminal(fd) {
		return
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	_ = peer.Send(protocol.Message{
		Type: protocol.TypeResize,
		Cols: cols,
		Rows: rows,
	})
}
