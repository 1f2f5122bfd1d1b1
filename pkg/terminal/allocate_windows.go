//go:build windows
// +build windows

package terminal

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const procThreadAttributePseudoConsole = 0x00020016

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = modkernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = modkernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = modkernel32.NewProc("ClosePseudoConsole")
)

// winAllocated owns a shell process bound to a ConPTY.
type winAllocated struct {
	shell   string
	hpc     windows.Handle
	process windows.Handle
	pid     uint32
	inFile  *os.File // write side of the pty input pipe
	outFile *os.File // read side of the pty output pipe
	res     *arena

	mu   sync.Mutex
	cols int
	rows int

	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Allocate creates a ConPTY of the given size, spawns shell bound to it in
// a new process group, and starts the output pump and exit watcher.
func Allocate(shell string, cols, rows int) (Session, error) {
	res := &arena{}
	ok := false
	defer func() {
		if !ok {
			res.Release()
		}
	}()

	sa := windows.SecurityAttributes{
		Length:        uint32(unsafe.Sizeof(windows.SecurityAttributes{})),
		InheritHandle: 1,
	}

	var ptyInRead, ptyInWrite windows.Handle
	if err := windows.CreatePipe(&ptyInRead, &ptyInWrite, &sa, 0); err != nil {
		return nil, fmt.Errorf("create input pipe: %w", err)
	}
	res.add(func() { _ = windows.CloseHandle(ptyInRead) })

	var ptyOutRead, ptyOutWrite windows.Handle
	if err := windows.CreatePipe(&ptyOutRead, &ptyOutWrite, &sa, 0); err != nil {
		_ = windows.CloseHandle(ptyInWrite)
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	res.add(func() { _ = windows.CloseHandle(ptyOutWrite) })

	hpc, err := createPseudoConsole(coord{X: int16(cols), Y: int16(rows)}, ptyInRead, ptyOutWrite)
	if err != nil {
		_ = windows.CloseHandle(ptyInWrite)
		_ = windows.CloseHandle(ptyOutRead)
		return nil, fmt.Errorf("create pseudoconsole: %w", err)
	}
	res.add(func() { closePseudoConsole(hpc) })

	inFile := os.NewFile(uintptr(ptyInWrite), "conpty-stdin")
	outFile := os.NewFile(uintptr(ptyOutRead), "conpty-stdout")
	res.add(func() { _ = inFile.Close() })
	res.add(func() { _ = outFile.Close() })

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("allocate attribute list: %w", err)
	}
	defer attrs.Delete()
	if err := attrs.Update(procThreadAttributePseudoConsole, unsafe.Pointer(hpc), unsafe.Sizeof(hpc)); err != nil {
		return nil, fmt.Errorf("bind pseudoconsole attribute: %w", err)
	}

	si := new(windows.StartupInfoEx)
	si.ProcThreadAttributeList = attrs.List()
	si.StartupInfo.Cb = uint32(unsafe.Sizeof(*si))

	cmdLine := windows.StringToUTF16Ptr(shell)

	var pi windows.ProcessInformation
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_UNICODE_ENVIRONMENT | windows.CREATE_NEW_PROCESS_GROUP)
	if err := windows.CreateProcess(nil, cmdLine, nil, nil, false, flags, nil, nil, &si.StartupInfo, &pi); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}
	_ = windows.CloseHandle(pi.Thread)
	res.add(func() { _ = windows.CloseHandle(pi.Process) })

	s := &winAllocated{
		shell:   shell,
		hpc:     hpc,
		process: pi.Process,
		pid:     pi.ProcessId,
		inFile:  inFile,
		outFile: outFile,
		res:     res,
		cols:    cols,
		rows:    rows,
		out:     make(chan []byte, 32),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	ok = true
	go s.pump()
	go s.watch()
	return s, nil
}

func (s *winAllocated) pump() {
	defer close(s.out)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.outFile.Read(buf)
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

func (s *winAllocated) watch() {
	_, _ = windows.WaitForSingleObject(s.process, windows.INFINITE)
	close(s.done)
}

func (s *winAllocated) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrSessionClosed
	default:
	}
	return s.inFile.Write(p)
}

func (s *winAllocated) Resize(cols, rows int) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if err := resizePseudoConsole(s.hpc, coord{X: int16(cols), Y: int16(rows)}); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// Signal maps INT to a ^C byte through the ConPTY input pipe (the console
// turns it into a control event for the foreground process) and BREAK to a
// console ctrl event on the shell's process group.
func (s *winAllocated) Signal(name string) error {
	switch name {
	case "INT":
		_, err := s.Write([]byte{0x03})
		return err
	case "BREAK":
		return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, s.pid)
	default:
		return ErrUnsupportedSignal
	}
}

func (s *winAllocated) Output() <-chan []byte { return s.out }
func (s *winAllocated) Done() <-chan struct{} { return s.done }
func (s *winAllocated) Kind() Kind            { return KindAllocated }
func (s *winAllocated) Shell() string         { return s.shell }

func (s *winAllocated) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *winAllocated) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = windows.TerminateProcess(s.process, 1)
		s.res.Release()
	})
	return nil
}

type coord struct {
	X int16
	Y int16
}

func (c coord) packed() uintptr {
	return uintptr(*(*uint32)(unsafe.Pointer(&c)))
}

// createPseudoConsole wraps kernel32 CreatePseudoConsole.
func createPseudoConsole(size coord, in, out windows.Handle) (windows.Handle, error) {
	var hpc windows.Handle
	r1, _, e1 := procCreatePseudoConsole.Call(
		size.packed(),
		uintptr(in),
		uintptr(out),
		0,
		uintptr(unsafe.Pointer(&hpc)),
	)
	if r1 != 0 {
		if e1 != nil {
			return 0, e1
		}
		return 0, syscall.Errno(r1)
	}
	return hpc, nil
}

func resizePseudoConsole(hpc windows.Handle, size coord) error {
	r1, _, e1 := procResizePseudoConsole.Call(uintptr(hpc), size.packed())
	if r1 != 0 {
		if e1 != nil {
			return e1
		}
		return syscall.Errno(r1)
	}
	return nil
}

func closePseudoConsole(hpc windows.Handle) {
	procClosePseudoConsole.Call(uintptr(hpc))
}
