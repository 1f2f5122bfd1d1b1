//go:build windows
// +build windows

package main

import (
	"context"
	"time"

	"golang.org/x/term"

	"github.com/rtx/termrelay/pkg/bridge"
)

// watchResize polls the console size; Windows has no SIGWINCH equivalent.
func watchResize(ctx context.Context, fd int, peer bridge.Peer) {
	if !term.IsTerminal(fd) {
		return
	}
	lastCols, lastRows, _ := term.GetSize(fd)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			if cols != lastCols || rows != lastRows {
				lastCols, lastRows = cols, rows
				sendLocalSize(fd, peer)
			}
		case <-ctx.Done():
			return
		}
	}
}
