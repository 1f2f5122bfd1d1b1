//go:build windows
// +build windows

package terminal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	moduser32                      = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows                = moduser32.NewProc("EnumWindows")
	procIsWindowVisible            = moduser32.NewProc("IsWindowVisible")
	procGetWindowTextW             = moduser32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessId   = moduser32.NewProc("GetWindowThreadProcessId")
	procAttachConsole              = modkernel32.NewProc("AttachConsole")
	procFreeConsole                = modkernel32.NewProc("FreeConsole")
	procReadConsoleOutputCharacter = modkernel32.NewProc("ReadConsoleOutputCharacterW")
	procWriteConsoleInputW         = modkernel32.NewProc("WriteConsoleInputW")
)

// A process can be attached to at most one foreign console at a time.
var (
	attachMu   sync.Mutex
	attachBusy bool
)

// shellProcesses is the allow-list of process images whose windows count
// as attachable terminals.
var shellProcesses = map[string]bool{
	"cmd.exe":             true,
	"powershell.exe":      true,
	"pwsh.exe":            true,
	"bash.exe":            true,
	"wsl.exe":             true,
	"windowsterminal.exe": true,
	"wt.exe":              true,
	"code.exe":            true,
	"devenv.exe":          true,
}

// systemTitles are window titles that never correspond to a usable shell.
var systemTitles = map[string]bool{
	"":                         true,
	"Program Manager":          true,
	"Default IME":              true,
	"MSCTFIME UI":              true,
	"Windows Input Experience": true,
}

// Discover enumerates visible top-level windows owned by allow-listed
// shell processes and orders them by relevance: a title containing the
// priority substring wins, then the most recently started process.
func Discover(priority string) ([]Candidate, error) {
	var found []Candidate

	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
			return 1
		}
		title := windowTitle(hwnd)
		if systemTitles[title] {
			return 1
		}
		var pid uint32
		procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
		if pid == 0 || pid == uint32(windows.GetCurrentProcessId()) {
			return 1
		}
		name, started, err := processImage(pid)
		if err != nil || !shellProcesses[strings.ToLower(name)] {
			return 1
		}
		found = append(found, Candidate{
			PID:     pid,
			Title:   title,
			Process: name,
			Started: started,
		})
		return 1
	})
	procEnumWindows.Call(cb, 0)

	if len(found) == 0 {
		return nil, ErrNoCandidate
	}
	sort.SliceStable(found, func(i, j int) bool {
		if priority != "" {
			pi := strings.Contains(found[i].Title, priority)
			pj := strings.Contains(found[j].Title, priority)
			if pi != pj {
				return pi
			}
		}
		return found[i].Started.After(found[j].Started)
	})
	return found, nil
}

func windowTitle(hwnd uintptr) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

func processImage(pid uint32) (string, time.Time, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", time.Time{}, err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", time.Time{}, err
	}
	full := windows.UTF16ToString(buf[:size])
	name := full
	if i := strings.LastIndexByte(full, '\\'); i >= 0 {
		name = full[i+1:]
	}

	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(h, &creation, &exit, &kernel, &user); err != nil {
		return name, time.Time{}, nil
	}
	return name, time.Unix(0, creation.Nanoseconds()), nil
}

// attached is a session bound to a console owned by another process. It
// has no process handle to wait on and no stream to read; output comes
// from polling the screen buffer.
type attached struct {
	cand   Candidate
	conout windows.Handle
	conin  windows.Handle
	poll   time.Duration

	mu   sync.Mutex
	cols int
	rows int

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Attach binds this process's console to the candidate's and starts the
// screen-buffer polling loop. Resize is accepted but does nothing and
// Signal is best-effort; callers must not rely on either.
func Attach(c Candidate, opts Options) (Session, error) {
	attachMu.Lock()
	defer attachMu.Unlock()
	if attachBusy {
		return nil, fmt.Errorf("already attached to another console")
	}

	procFreeConsole.Call()
	if r1, _, e1 := procAttachConsole.Call(uintptr(c.PID)); r1 == 0 {
		return nil, fmt.Errorf("attach console to pid %d: %v", c.PID, e1)
	}

	conout, err := windows.CreateFile(
		windows.StringToUTF16Ptr("CONOUT$"),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		procFreeConsole.Call()
		return nil, fmt.Errorf("open console output: %w", err)
	}
	conin, err := windows.CreateFile(
		windows.StringToUTF16Ptr("CONIN$"),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		_ = windows.CloseHandle(conout)
		procFreeConsole.Call()
		return nil, fmt.Errorf("open console input: %w", err)
	}

	s := &attached{
		cand:   c,
		conout: conout,
		conin:  conin,
		poll:   opts.PollInterval,
		out:    make(chan []byte, 32),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(conout, &info); err == nil {
		s.cols = int(info.Window.Right-info.Window.Left) + 1
		s.rows = int(info.Window.Bottom-info.Window.Top) + 1
	}
	attachBusy = true
	go s.pollLoop()
	return s, nil
}

// pollLoop snapshots the visible screen buffer on a fixed interval and
// emits only the changed region. It ends when the console disappears or
// the session is closed.
func (s *attached) pollLoop() {
	defer close(s.out)
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var prev []string
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}

		next, err := s.snapshot()
		if err != nil {
			// Console gone; the owning process likely exited.
			return
		}
		if chunk := diffRegion(prev, next); len(chunk) > 0 {
			select {
			case s.out <- chunk:
			case <-s.closed:
				return
			}
		}
		prev = next
	}
}

// snapshot reads the visible window rows of the console screen buffer.
func (s *attached) snapshot() ([]string, error) {
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(s.conout, &info); err != nil {
		return nil, err
	}
	width := int(info.Window.Right-info.Window.Left) + 1
	if width <= 0 {
		return nil, fmt.Errorf("empty console window")
	}

	s.mu.Lock()
	s.cols = width
	s.rows = int(info.Window.Bottom-info.Window.Top) + 1
	s.mu.Unlock()

	lines := make([]string, 0, s.rows)
	buf := make([]uint16, width)
	for y := info.Window.Top; y <= info.Window.Bottom; y++ {
		var read uint32
		pos := coord{X: info.Window.Left, Y: y}
		r1, _, e1 := procReadConsoleOutputCharacter.Call(
			uintptr(s.conout),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(width),
			pos.packed(),
			uintptr(unsafe.Pointer(&read)),
		)
		if r1 == 0 {
			return nil, fmt.Errorf("read console output: %v", e1)
		}
		lines = append(lines, strings.TrimRight(windows.UTF16ToString(buf[:read]), " "))
	}
	return lines, nil
}

// inputRecord mirrors INPUT_RECORD with a KEY_EVENT payload.
type inputRecord struct {
	eventType       uint16
	_               uint16
	keyDown         int32
	repeatCount     uint16
	virtualKeyCode  uint16
	virtualScanCode uint16
	unicodeChar     uint16
	controlKeyState uint32
}

const keyEventType = 0x0001

// Write synthesizes key events for each UTF-16 unit and injects them into
// the attached console's input queue.
func (s *attached) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrSessionClosed
	default:
	}

	units := windows.StringToUTF16(string(p))
	records := make([]inputRecord, 0, len(units)*2)
	for _, u := range units {
		if u == 0 {
			continue
		}
		down := inputRecord{
			eventType:   keyEventType,
			keyDown:     1,
			repeatCount: 1,
			unicodeChar: u,
		}
		up := down
		up.keyDown = 0
		records = append(records, down, up)
	}
	if len(records) == 0 {
		return len(p), nil
	}

	var written uint32
	r1, _, e1 := procWriteConsoleInputW.Call(
		uintptr(s.conin),
		uintptr(unsafe.Pointer(&records[0])),
		uintptr(len(records)),
		uintptr(unsafe.Pointer(&written)),
	)
	if r1 == 0 {
		return 0, fmt.Errorf("write console input: %v", e1)
	}
	return len(p), nil
}

// Resize is accepted but does not change a console this process does not
// own.
func (s *attached) Resize(cols, rows int) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return nil
}

// Signal delivers a ctrl event to the attached console's process group.
// Best-effort: the owning process may ignore it.
func (s *attached) Signal(name string) error {
	switch name {
	case "INT":
		return windows.GenerateConsoleCtrlEvent(windows.CTRL_C_EVENT, 0)
	case "BREAK":
		return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, 0)
	default:
		return ErrUnsupportedSignal
	}
}

func (s *attached) Output() <-chan []byte { return s.out }
func (s *attached) Done() <-chan struct{} { return s.done }
func (s *attached) Kind() Kind            { return KindAttached }
func (s *attached) Shell() string         { return s.cand.Process }

func (s *attached) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Close detaches from the foreign console and releases its handles.
func (s *attached) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = windows.CloseHandle(s.conout)
		_ = windows.CloseHandle(s.conin)
		procFreeConsole.Call()
		attachMu.Lock()
		attachBusy = false
		attachMu.Unlock()
	})
	return nil
}
