//go:build !windows
// +build !windows

package terminal

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startShell(t *testing.T) Session {
	t.Helper()
	s, err := Allocate("/bin/sh", 80, 24)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// collectUntil drains Output until the accumulated bytes contain want or
// the deadline passes.
func collectUntil(t *testing.T, s Session, want string) []byte {
	t.Helper()
	var buf bytes.Buffer
	deadline := time.After(5 * time.Second)
	for {
		if bytes.Contains(buf.Bytes(), []byte(want)) {
			return buf.Bytes()
		}
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				t.Fatalf("output closed before %q appeared; got %q", want, buf.String())
			}
			buf.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %q; got %q", want, buf.String())
		}
	}
}

func TestAllocateEchoRoundTrip(t *testing.T) {
	s := startShell(t)
	assert.Equal(t, KindAllocated, s.Kind())
	assert.Equal(t, "/bin/sh", s.Shell())

	_, err := s.Write([]byte("echo round-trip-marker\n"))
	require.NoError(t, err)
	collectUntil(t, s, "round-trip-marker")
}

func TestAllocateResizeIsQueryable(t *testing.T) {
	s := startShell(t)

	cols, rows := s.Size()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)

	require.NoError(t, s.Resize(120, 40))
	cols, rows = s.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)
}

func TestAllocateDoneOnShellExit(t *testing.T) {
	s := startShell(t)

	_, err := s.Write([]byte("exit\n"))
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not raised after shell exit")
	}
}

func TestAllocateCloseIsIdempotent(t *testing.T) {
	s := startShell(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Resize(100, 30), ErrSessionClosed)
}

func TestAllocateRejectsUnknownSignal(t *testing.T) {
	s := startShell(t)
	assert.ErrorIs(t, s.Signal("HUP"), ErrUnsupportedSignal)
}

func TestStartFallsBackToAllocation(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s, err := Start(Options{Shell: "/bin/sh"}, log)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, KindAllocated, s.Kind())
	cols, rows := s.Size()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
}
