//go:build windows
// +build windows

package terminal

import "sync"

// arena owns the native handles created while building a session. Release
// runs the registered release funcs in reverse order exactly once, which
// keeps disposal idempotent and safe after partial construction: whatever
// was added before the failure is still released.
type arena struct {
	once sync.Once
	rel  []func()
}

func (a *arena) add(f func()) {
	a.rel = append(a.rel, f)
}

func (a *arena) Release() {
	a.once.Do(func() {
		for i := len(a.rel) - 1; i >= 0; i-- {
			a.rel[i]()
		}
	})
}
