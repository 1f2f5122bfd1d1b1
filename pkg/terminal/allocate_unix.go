//go:build !windows
// +build !windows

package terminal

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// allocated owns a child shell bound to a fresh pty pair.
type allocated struct {
	cmd   *exec.Cmd
	ptmx  *os.File
	shell string

	mu   sync.Mutex
	cols int
	rows int

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Allocate spawns shell in its own process group on a new pseudo-terminal
// of the given size and starts the output pump and exit watcher.
func Allocate(shell string, cols, rows int) (Session, error) {
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	// pty.Start gives the child its own session, so the negative-pid kill
	// in Signal reaches the whole foreground group.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}

	s := &allocated{
		cmd:    cmd,
		ptmx:   ptmx,
		shell:  shell,
		cols:   cols,
		rows:   rows,
		out:    make(chan []byte, 32),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.pump()
	go s.watch()
	return s, nil
}

// pump pushes every chunk read from the pty to the output channel as soon
// as it is available.
func (s *allocated) pump() {
	defer close(s.out)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.out <- chunk:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// watch waits for the shell to exit and raises Done.
func (s *allocated) watch() {
	_ = s.cmd.Wait()
	close(s.done)
}

func (s *allocated) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrSessionClosed
	default:
	}
	return s.ptmx.Write(p)
}

func (s *allocated) Resize(cols, rows int) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// Signal delivers INT or BREAK to the shell's process group so foreground
// children receive it too.
func (s *allocated) Signal(name string) error {
	var sig syscall.Signal
	switch name {
	case "INT":
		sig = syscall.SIGINT
	case "BREAK":
		sig = syscall.SIGQUIT
	default:
		return ErrUnsupportedSignal
	}
	if s.cmd.Process == nil {
		return ErrSessionClosed
	}
	return syscall.Kill(-s.cmd.Process.Pid, sig)
}

func (s *allocated) Output() <-chan []byte { return s.out }
func (s *allocated) Done() <-chan struct{} { return s.done }
func (s *allocated) Kind() Kind            { return KindAllocated }
func (s *allocated) Shell() string         { return s.shell }

// Size queries the live pty geometry, falling back to the last resize
// when the pty is already gone.
func (s *allocated) Size() (int, int) {
	if ws, err := pty.GetsizeFull(s.ptmx); err == nil {
		return int(ws.Cols), int(ws.Rows)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Close releases the pty and the child process. Idempotent; a second call
// returns nil without touching any handle again.
func (s *allocated) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.ptmx.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}
