// Package receipt — transferable receipts for locked-value commitments.
//
// The registry implements the receipt-issuing collaborator: mint on
// creation, transfer between holders, mark settled at maturity. Token ids
// are monotonic and never reused.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/safemath"
)

var (
	ErrNotFound   = errors.New("receipt: token not found")
	ErrNotOwner   = errors.New("receipt: caller is not the token owner")
	ErrNotExpired = errors.New("receipt: commitment not expired yet")
	ErrNotActive  = errors.New("receipt: token already settled")
)

// Metadata captures the rule parameters at mint time.
type Metadata struct {
	CommitmentID   uint64       `json:"commitment_id"`
	DurationDays   uint32       `json:"duration_days"`
	MaxLossPercent uint32       `json:"max_loss_percent"`
	CommitmentType string       `json:"commitment_type"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	InitialAmount  safemath.Int `json:"initial_amount"`
	Asset          string       `json:"asset"`
}

// Token is one issued receipt.
type Token struct {
	ID       uint32   `json:"id"`
	Owner    string   `json:"owner"`
	Metadata Metadata `json:"metadata"`
	Active   bool     `json:"active"`
}

// Registry issues and tracks receipt tokens.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[uint32]Token
	byOwner map[string][]uint32
	nextID  uint32
	supply  uint32
	clock   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[uint32]Token),
		byOwner: make(map[string][]uint32),
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Mint issues a receipt for a new commitment and returns its token id.
func (r *Registry) Mint(_ context.Context, owner string, commitmentID uint64, rules commitment.Rules, amount safemath.Int, asset string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	tokenID := r.nextID

	now := r.clock()
	tok := Token{
		ID:    tokenID,
		Owner: owner,
		Metadata: Metadata{
			CommitmentID:   commitmentID,
			DurationDays:   rules.DurationDays,
			MaxLossPercent: rules.MaxLossPercent,
			CommitmentType: rules.Type.String(),
			CreatedAt:      now,
			ExpiresAt:      now.Add(time.Duration(rules.DurationDays) * 24 * time.Hour),
			InitialAmount:  amount,
			Asset:          asset,
		},
		Active: true,
	}

	r.tokens[tokenID] = tok
	r.byOwner[owner] = append(r.byOwner[owner], tokenID)
	r.supply++

	return tokenID, nil
}

// Get returns a token by id.
func (r *Registry) Get(_ context.Context, tokenID uint32) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	return tok, nil
}

// OwnerTokens lists the token ids currently held by owner.
func (r *Registry) OwnerTokens(_ context.Context, owner string) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint32, len(r.byOwner[owner]))
	copy(ids, r.byOwner[owner])
	return ids
}

// Transfer moves a token to a new holder. Only the current holder may
// transfer; the underlying commitment keeps paying out to the record owner
// stored in the commitment ledger.
func (r *Registry) Transfer(_ context.Context, from, to string, tokenID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if tok.Owner != from {
		return ErrNotOwner
	}

	tok.Owner = to
	r.tokens[tokenID] = tok
	r.byOwner[from] = removeID(r.byOwner[from], tokenID)
	r.byOwner[to] = append(r.byOwner[to], tokenID)
	return nil
}

// Settle marks a token inactive after its commitment matured.
func (r *Registry) Settle(_ context.Context, tokenID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, tokenID)
	}
	if !tok.Active {
		return ErrNotActive
	}
	if r.clock().Before(tok.Metadata.ExpiresAt) {
		return ErrNotExpired
	}

	tok.Active = false
	r.tokens[tokenID] = tok
	if r.supply > 0 {
		r.supply--
	}
	return nil
}

// TotalSupply returns the number of active tokens.
func (r *Registry) TotalSupply() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supply
}

func removeID(ids []uint32, id uint32) []uint32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
