// Package ratelimit — sliding-window call quotas keyed by (actor, function).
//
// Limits exist to bound the cost of repeated creation/allocation calls by a
// single actor; they are orthogonal to state-machine correctness. Functions
// without a configured rule are unlimited. Store failures deny the call.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned when the quota for (actor, function) is exhausted
// within the configured window.
var ErrLimited = errors.New("ratelimit: quota exceeded")

// Rule is an admin-configured quota for one function symbol.
type Rule struct {
	Window   time.Duration
	MaxCalls int
}

// Store counts calls per key inside a sliding window.
type Store interface {
	// Allow records one call for key and reports whether it fits the rule.
	Allow(ctx context.Context, key string, rule Rule, now time.Time) (bool, error)
}

// Limiter applies per-function rules with an exemption list.
type Limiter struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	exempt map[string]bool
	store  Store
	clock  func() time.Time
}

// New creates a limiter backed by the given store.
func New(store Store) *Limiter {
	return &Limiter{
		rules:  make(map[string]Rule),
		exempt: make(map[string]bool),
		store:  store,
		clock:  time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// SetRule configures the quota for a function symbol. A zero MaxCalls
// removes the rule.
func (l *Limiter) SetRule(fn string, window time.Duration, maxCalls int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxCalls <= 0 {
		delete(l.rules, fn)
		return
	}
	l.rules[fn] = Rule{Window: window, MaxCalls: maxCalls}
}

// SetExempt marks or clears an actor's exemption from all rules.
func (l *Limiter) SetExempt(actor string, exempt bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exempt {
		l.exempt[actor] = true
	} else {
		delete(l.exempt, actor)
	}
}

// Allow checks the quota for one call of fn by actor. It returns nil when
// the call may proceed, ErrLimited when the quota is exhausted, and wraps
// store errors (which also deny the call).
func (l *Limiter) Allow(ctx context.Context, actor, fn string) error {
	l.mu.RLock()
	rule, configured := l.rules[fn]
	exempt := l.exempt[actor]
	l.mu.RUnlock()

	if !configured || exempt {
		return nil
	}

	ok, err := l.store.Allow(ctx, actor+"|"+fn, rule, l.clock())
	if err != nil {
		return fmt.Errorf("ratelimit: store failure: %w", err)
	}
	if !ok {
		return ErrLimited
	}
	return nil
}
