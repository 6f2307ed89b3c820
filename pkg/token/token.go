// Package token — in-process asset ledger.
//
// It implements the asset-transfer collaborator boundary the commitment
// engine depends on. A deployment against a real settlement ledger supplies
// its own implementation of the same interface.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/commitlabs/core/pkg/safemath"
)

// ErrInsufficientBalance aborts a transfer whose source cannot cover it.
var ErrInsufficientBalance = errors.New("token: insufficient balance")

// Ledger tracks balances per (account, asset).
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[string]safemath.Int
}

// NewLedger creates an empty asset ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[string]safemath.Int)}
}

// Mint credits an account. Used by wiring and tests to fund participants.
func (l *Ledger) Mint(account, asset string, amount safemath.Int) error {
	if err := safemath.RequirePositive(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.balance(account, asset)
	next, err := cur.Add(amount)
	if err != nil {
		return err
	}
	l.set(account, asset, next)
	return nil
}

// Balance returns the current balance of account in asset.
func (l *Ledger) Balance(_ context.Context, account, asset string) (safemath.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(account, asset), nil
}

// Transfer moves amount of asset from one account to another, aborting
// when the source balance is insufficient.
func (l *Ledger) Transfer(_ context.Context, from, to, asset string, amount safemath.Int) error {
	if err := safemath.RequirePositive(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balance(from, asset)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientBalance, src, amount)
	}

	newSrc, err := src.Sub(amount)
	if err != nil {
		return err
	}
	newDst, err := l.balance(to, asset).Add(amount)
	if err != nil {
		return err
	}

	l.set(from, asset, newSrc)
	l.set(to, asset, newDst)
	return nil
}

func (l *Ledger) balance(account, asset string) safemath.Int {
	if accts, ok := l.balances[account]; ok {
		return accts[asset]
	}
	return safemath.Zero()
}

func (l *Ledger) set(account, asset string, v safemath.Int) {
	accts, ok := l.balances[account]
	if !ok {
		accts = make(map[string]safemath.Int)
		l.balances[account] = accts
	}
	accts[asset] = v
}
