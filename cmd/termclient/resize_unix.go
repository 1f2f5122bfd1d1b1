//go:build !windows
// +build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtx/termrelay/pkg/bridge"
)

// watchResize forwards local terminal size changes to the host.
func watchResize(ctx context.Context, fd int, peer bridge.Peer) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	defer signal.Stop(ch)
	for {
		select {
		case <-ch:
			sendLocalSize(fd, peer)
		case <-ctx.Done():
			return
		}
	}
}
