package terminal

import (
	"os"
	"runtime"
)

// DefaultShell picks a sensible shell for the current platform.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		if cmd := os.Getenv("COMSPEC"); cmd != "" {
			return cmd
		}
		return "cmd.exe"
	}
	if cmd := os.Getenv("SHELL"); cmd != "" {
		return cmd
	}
	return "sh"
}
