//go:build !windows
// +build !windows

package terminal

// Discover has no console-attach facility on this platform; Start always
// falls through to allocation.
func Discover(priority string) ([]Candidate, error) {
	return nil, ErrNoCandidate
}

// Attach is never reachable here because Discover yields no candidates.
func Attach(c Candidate, opts Options) (Session, error) {
	return nil, ErrNoCandidate
}
