// Package terminal provides live terminal sessions for the host bridge.
// A session is either allocated (a fresh pseudo-terminal owning a child
// shell) or attached (bound to a console another process owns). Both look
// the same to callers: a byte sink, an output stream, and control
// operations whose support depends on the variant.
package terminal

import (
	"errors"
	"time"
)

// Kind distinguishes the two session variants.
type Kind string

const (
	KindAllocated Kind = "allocated"
	KindAttached  Kind = "attached"
)

var (
	// ErrNoCandidate means discovery found no terminal worth attaching to.
	ErrNoCandidate = errors.New("terminal: no attachable candidate found")
	// ErrSessionClosed is returned by operations on a disposed session.
	ErrSessionClosed = errors.New("terminal: session closed")
	// ErrUnsupportedSignal is returned for signal names outside INT/BREAK.
	ErrUnsupportedSignal = errors.New("terminal: unsupported signal")
)

// Session is one live terminal, regardless of how it was obtained.
//
// Output delivers chunks in order to a single consumer and is closed when
// the session ends. Done is closed when the underlying process exits or,
// for attached sessions, when the console goes away. Close is idempotent
// and safe after partial construction.
type Session interface {
	Write(p []byte) (n int, err error)

	// Resize changes the terminal geometry in character cells. Attached
	// sessions accept the call but are not required to change anything.
	Resize(cols, rows int) error

	// Signal delivers INT or BREAK to the terminal's process group.
	// Best-effort for attached sessions.
	Signal(name string) error

	Output() <-chan []byte
	Done() <-chan struct{}

	Kind() Kind
	Shell() string
	Size() (cols, rows int)

	Close() error
}

// Candidate is a terminal window discovery considers attachable.
type Candidate struct {
	PID     uint32
	Title   string
	Process string
	Started time.Time
}

// Options configure session startup.
type Options struct {
	// Shell is the command to run when allocating. Empty selects the
	// platform default.
	Shell string

	Cols, Rows int

	// AttachPriority is a window-title substring discovery prefers, e.g.
	// the editor that launched the host.
	AttachPriority string

	// PollInterval is the attached-session screen poll cadence.
	PollInterval time.Duration
}

func (o *Options) fill() {
	if o.Shell == "" {
		o.Shell = DefaultShell()
	}
	if o.Cols <= 0 {
		o.Cols = 80
	}
	if o.Rows <= 0 {
		o.Rows = 24
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}
