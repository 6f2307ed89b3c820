// Package guard — reentrancy protection for state-mutating entry points.
//
// A Guard is the per-engine busy flag: it is acquired before any external
// interaction and released on every exit path. Acquisition returns the
// release function so "always cleared" is structural (defer), not a
// convention at each call site.
package guard

import (
	"errors"
	"sync/atomic"
)

// ErrReentrancy is returned when a guarded entry point is entered while an
// earlier call in the same tree is still in flight.
var ErrReentrancy = errors.New("guard: reentrant call detected")

// Guard is a single busy flag shared by all commitments of one engine
// instance. The zero value is ready to use.
type Guard struct {
	busy atomic.Bool
}

// New returns a cleared guard.
func New() *Guard {
	return &Guard{}
}

// Acquire sets the busy flag. It returns the release function to defer,
// or ErrReentrancy if the flag is already set.
func (g *Guard) Acquire() (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrancy
	}
	return func() { g.busy.Store(false) }, nil
}

// Held reports whether the guard is currently acquired.
func (g *Guard) Held() bool {
	return g.busy.Load()
}
