package commitment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/commitlabs/core/pkg/guard"
	"github.com/commitlabs/core/pkg/ratelimit"
	"github.com/commitlabs/core/pkg/safemath"
)

// Function symbols used as rate-limit keys.
const (
	fnCreate      = "create"
	fnUpdateValue = "upd_val"
	fnAllocate    = "alloc"
)

// engineActor keys the per-engine (not per-caller) rate limit of UpdateValue.
const engineActor = "engine"

// AssetTransfer is the asset-moving collaborator. Calls are synchronous and
// all-or-nothing; Transfer aborts on insufficient balance.
type AssetTransfer interface {
	Balance(ctx context.Context, account, asset string) (safemath.Int, error)
	Transfer(ctx context.Context, from, to, asset string, amount safemath.Int) error
}

// ReceiptIssuer is the receipt-issuing collaborator.
type ReceiptIssuer interface {
	Mint(ctx context.Context, owner string, commitmentID uint64, rules Rules, amount safemath.Int, asset string) (uint32, error)
	Settle(ctx context.Context, tokenID uint32) error
}

// Config wires a ledger instance.
type Config struct {
	// Admin is the principal allowed to configure limits and pause.
	Admin string
	// Account is the ledger's own asset account holding locked value.
	Account string

	Assets   AssetTransfer
	Receipts ReceiptIssuer
	Limiter  *ratelimit.Limiter
	Notifier Notifier
	Logger   *slog.Logger
}

// Ledger is the commitment state machine. One instance is one engine; the
// reentrancy guard spans all commitments of the instance.
type Ledger struct {
	mu          sync.RWMutex
	commitments map[uint64]*Commitment
	ownerIndex  map[string][]uint64
	updaters    map[string]bool
	nextID      uint64
	total       uint64
	tvl         safemath.Int
	paused      bool

	admin    string
	account  string
	assets   AssetTransfer
	receipts ReceiptIssuer
	limiter  *ratelimit.Limiter
	notifier Notifier
	guard    *guard.Guard
	clock    func() time.Time
	log      *slog.Logger
}

// NewLedger constructs an initialized, empty ledger.
func NewLedger(cfg Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewSlogNotifier(logger)
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore())
	}
	return &Ledger{
		commitments: make(map[uint64]*Commitment),
		ownerIndex:  make(map[string][]uint64),
		updaters:    make(map[string]bool),
		admin:       cfg.Admin,
		account:     cfg.Account,
		assets:      cfg.Assets,
		receipts:    cfg.Receipts,
		limiter:     limiter,
		notifier:    notifier,
		guard:       guard.New(),
		clock:       time.Now,
		log:         logger.With("component", "commitment"),
	}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Admin returns the configured admin principal.
func (l *Ledger) Admin() string {
	return l.admin
}

// Account returns the ledger's own asset account.
func (l *Ledger) Account() string {
	return l.account
}

// Create opens a new commitment: it locks amount of asset under rules and
// mints a transferable receipt. State is written before any external call
// (checks-effects-interactions); if an interaction fails, every effect is
// rolled back so no partial commitment survives.
func (l *Ledger) Create(ctx context.Context, owner string, amount safemath.Int, asset string, rules Rules) (uint64, error) {
	release, err := l.guard.Acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if err := l.requireRunning(); err != nil {
		return 0, err
	}
	if err := l.limiter.Allow(ctx, owner, fnCreate); err != nil {
		return 0, err
	}

	// CHECKS
	if err := safemath.RequirePositive(amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := rules.Validate(); err != nil {
		return 0, err
	}

	// EFFECTS
	now := l.clock()
	l.mu.Lock()
	l.nextID++
	id := l.nextID

	c := &Commitment{
		ID:           id,
		Owner:        owner,
		Rules:        rules,
		Amount:       amount,
		Asset:        asset,
		CreatedAt:    now,
		ExpiresAt:    now.Add(rules.Duration()),
		CurrentValue: amount,
		Status:       StatusActive,
	}

	newTVL, err := l.tvl.Add(amount)
	if err != nil {
		l.nextID--
		l.mu.Unlock()
		return 0, err
	}

	l.commitments[id] = c
	l.ownerIndex[owner] = append(l.ownerIndex[owner], id)
	l.total++
	l.tvl = newTVL
	l.mu.Unlock()

	rollback := func() {
		l.mu.Lock()
		delete(l.commitments, id)
		l.ownerIndex[owner] = removeID(l.ownerIndex[owner], id)
		l.total--
		if restored, rerr := l.tvl.Sub(amount); rerr == nil {
			l.tvl = restored
		}
		l.mu.Unlock()
	}

	// INTERACTIONS
	if err := l.assets.Transfer(ctx, owner, l.account, asset, amount); err != nil {
		rollback()
		return 0, fmt.Errorf("lock transfer failed: %w", err)
	}

	tokenID, err := l.receipts.Mint(ctx, owner, id, rules, amount, asset)
	if err != nil {
		// Compensate the lock transfer before unwinding ledger state.
		if terr := l.assets.Transfer(ctx, l.account, owner, asset, amount); terr != nil {
			l.log.ErrorContext(ctx, "rollback transfer failed", "commitment_id", id, "error", terr)
		}
		rollback()
		return 0, fmt.Errorf("receipt mint failed: %w", err)
	}

	l.mu.Lock()
	c.ReceiptTokenID = tokenID
	l.mu.Unlock()

	l.notifier.Emit(ctx, newEvent(TopicCreated, id, now, map[string]string{
		"owner":    owner,
		"amount":   amount.String(),
		"asset":    asset,
		"token_id": fmt.Sprint(tokenID),
	}))
	return id, nil
}

// Get returns a copy of the commitment record.
func (l *Ledger) Get(_ context.Context, id uint64) (Commitment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.commitments[id]
	if !ok {
		return Commitment{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return *c, nil
}

// OwnerCommitments lists commitment ids created by owner, oldest first.
func (l *Ledger) OwnerCommitments(_ context.Context, owner string) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]uint64, len(l.ownerIndex[owner]))
	copy(ids, l.ownerIndex[owner])
	return ids
}

// TotalCommitments returns the count of successful creations. It never
// decreases.
func (l *Ledger) TotalCommitments() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// TotalValueLocked returns the aggregate locked value: increased by the
// committed amount at create, reduced by the settlement amount at settle and
// by the full current value at early exit. Value re-marks and allocations
// leave it unchanged.
func (l *Ledger) TotalValueLocked() safemath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tvl
}

// UpdateValue sets the mark-to-market value of an active commitment.
// Callers must be the admin or an authorized updater.
func (l *Ledger) UpdateValue(ctx context.Context, caller string, id uint64, newValue safemath.Int) error {
	release, err := l.guard.Acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := l.requireRunning(); err != nil {
		return err
	}
	// The update quota is per engine, not per caller: it bounds total
	// mark-to-market churn on the instance.
	if err := l.limiter.Allow(ctx, engineActor, fnUpdateValue); err != nil {
		return err
	}
	if caller != l.admin && !l.isUpdater(caller) {
		return fmt.Errorf("%w: %s may not update values", ErrUnauthorized, caller)
	}
	if newValue.IsNegative() {
		return fmt.Errorf("%w: value may not be negative", ErrInvalidAmount)
	}

	l.mu.Lock()
	c, ok := l.commitments[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if c.Status != StatusActive {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, c.Status)
	}

	c.CurrentValue = newValue
	now := l.clock()
	l.mu.Unlock()

	l.notifier.Emit(ctx, newEvent(TopicValueUpd, id, now, map[string]string{
		"value": newValue.String(),
	}))
	return nil
}

// CheckViolations reports whether the commitment breaches its loss limit or
// duration. Already-resolved commitments report false. Never mutates status;
// the only side effect is the violation notification when true.
func (l *Ledger) CheckViolations(ctx context.Context, id uint64) (bool, error) {
	d, err := l.ViolationDetails(ctx, id)
	if err != nil {
		return false, err
	}
	if d.HasViolation {
		l.notifier.Emit(ctx, newEvent(TopicViolated, id, l.clock(), map[string]string{
			"loss_percent":      d.LossPercent.String(),
			"loss_violated":     fmt.Sprint(d.LossViolated),
			"duration_violated": fmt.Sprint(d.DurationViolated),
		}))
	}
	return d.HasViolation, nil
}

// ViolationDetails exposes the exact predicates behind CheckViolations for
// diagnostics. Pure.
func (l *Ledger) ViolationDetails(_ context.Context, id uint64) (ViolationDetails, error) {
	l.mu.RLock()
	c, ok := l.commitments[id]
	if !ok {
		l.mu.RUnlock()
		return ViolationDetails{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	snapshot := *c
	l.mu.RUnlock()

	if snapshot.Status != StatusActive {
		// Already resolved; nothing left to violate.
		return ViolationDetails{LossPercent: safemath.Zero()}, nil
	}

	now := l.clock()

	// Zero-amount commitments cannot meaningfully breach a loss limit.
	lossPercent := safemath.Zero()
	if snapshot.Amount.IsPositive() {
		p, err := safemath.LossPercent(snapshot.Amount, snapshot.CurrentValue)
		if err != nil {
			return ViolationDetails{}, err
		}
		lossPercent = p
	}

	// Equality at the loss threshold is not a violation; equality at the
	// expiry instant is.
	lossViolated := lossPercent.Cmp(safemath.New(int64(snapshot.Rules.MaxLossPercent))) > 0
	durationViolated := !now.Before(snapshot.ExpiresAt)

	remaining := time.Duration(0)
	if now.Before(snapshot.ExpiresAt) {
		remaining = snapshot.ExpiresAt.Sub(now)
	}

	return ViolationDetails{
		HasViolation:     lossViolated || durationViolated,
		LossViolated:     lossViolated,
		DurationViolated: durationViolated,
		LossPercent:      lossPercent,
		TimeRemaining:    remaining,
	}, nil
}

// Settle pays out an active commitment at or after expiry. The settlement
// amount is the current value — gains and losses pass through unclamped.
func (l *Ledger) Settle(ctx context.Context, id uint64) error {
	release, err := l.guard.Acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := l.requireRunning(); err != nil {
		return err
	}

	// CHECKS + EFFECTS
	l.mu.Lock()
	c, ok := l.commitments[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	now := l.clock()
	if now.Before(c.ExpiresAt) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d expires at %s", ErrNotExpired, id, c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if c.Status != StatusActive {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, c.Status)
	}

	settlement := c.CurrentValue
	newTVL, err := l.tvl.Sub(settlement)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	c.Status = StatusSettled
	l.tvl = newTVL
	owner, asset, tokenID := c.Owner, c.Asset, c.ReceiptTokenID
	l.mu.Unlock()

	rollback := func() {
		l.mu.Lock()
		c.Status = StatusActive
		if restored, rerr := l.tvl.Add(settlement); rerr == nil {
			l.tvl = restored
		}
		l.mu.Unlock()
	}

	// INTERACTIONS
	if settlement.IsPositive() {
		if err := l.assets.Transfer(ctx, l.account, owner, asset, settlement); err != nil {
			rollback()
			return fmt.Errorf("settlement transfer failed: %w", err)
		}
	}
	if err := l.receipts.Settle(ctx, tokenID); err != nil {
		if settlement.IsPositive() {
			if terr := l.assets.Transfer(ctx, owner, l.account, asset, settlement); terr != nil {
				l.log.ErrorContext(ctx, "rollback transfer failed", "commitment_id", id, "error", terr)
			}
		}
		rollback()
		return fmt.Errorf("receipt settle failed: %w", err)
	}

	l.notifier.Emit(ctx, newEvent(TopicSettled, id, now, map[string]string{
		"amount": settlement.String(),
	}))
	return nil
}

// EarlyExit lets the owner withdraw before maturity. The penalty share of
// the current value stays with the ledger; total value locked drops by the
// full current value.
func (l *Ledger) EarlyExit(ctx context.Context, id uint64, caller string) error {
	release, err := l.guard.Acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := l.requireRunning(); err != nil {
		return err
	}

	l.mu.Lock()
	c, ok := l.commitments[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if c.Owner != caller {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is not the owner of %d", ErrUnauthorized, caller, id)
	}
	if c.Status != StatusActive {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, c.Status)
	}

	value := c.CurrentValue
	penalty, err := safemath.PenaltyAmount(value, c.Rules.EarlyExitPenalty)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	payout, err := value.Sub(penalty)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	newTVL, err := l.tvl.Sub(value)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	c.Status = StatusEarlyExit
	l.tvl = newTVL
	owner, asset := c.Owner, c.Asset
	now := l.clock()
	l.mu.Unlock()

	// INTERACTIONS
	if payout.IsPositive() {
		if err := l.assets.Transfer(ctx, l.account, owner, asset, payout); err != nil {
			l.mu.Lock()
			c.Status = StatusActive
			if restored, rerr := l.tvl.Add(value); rerr == nil {
				l.tvl = restored
			}
			l.mu.Unlock()
			return fmt.Errorf("early exit transfer failed: %w", err)
		}
	}

	l.notifier.Emit(ctx, newEvent(TopicEarlyExit, id, now, map[string]string{
		"caller":  caller,
		"penalty": penalty.String(),
		"payout":  payout.String(),
	}))
	return nil
}

// Allocate moves part of a commitment's value to a target pool. This is a
// risk-bearing reallocation: current value drops by amount and a later
// violation check may then report a loss breach. Status is unchanged.
func (l *Ledger) Allocate(ctx context.Context, id uint64, targetPool string, amount safemath.Int) error {
	release, err := l.guard.Acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := l.requireRunning(); err != nil {
		return err
	}
	if err := l.limiter.Allow(ctx, targetPool, fnAllocate); err != nil {
		return err
	}
	if err := safemath.RequirePositive(amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	l.mu.Lock()
	c, ok := l.commitments[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if c.Status != StatusActive {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrNotActive, id, c.Status)
	}
	if c.CurrentValue.Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s < %s", ErrInsufficientValue, c.CurrentValue, amount)
	}

	newValue, err := c.CurrentValue.Sub(amount)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	prevValue := c.CurrentValue
	c.CurrentValue = newValue
	asset := c.Asset
	now := l.clock()
	l.mu.Unlock()

	// INTERACTIONS
	if err := l.assets.Transfer(ctx, l.account, targetPool, asset, amount); err != nil {
		l.mu.Lock()
		c.CurrentValue = prevValue
		l.mu.Unlock()
		return fmt.Errorf("allocation transfer failed: %w", err)
	}

	l.notifier.Emit(ctx, newEvent(TopicAllocated, id, now, map[string]string{
		"target_pool": targetPool,
		"amount":      amount.String(),
	}))
	return nil
}

// SetRateLimit configures the quota for a function symbol. Admin only.
func (l *Ledger) SetRateLimit(caller, fn string, window time.Duration, maxCalls int) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.limiter.SetRule(fn, window, maxCalls)
	return nil
}

// SetRateLimitExempt marks or clears an actor's limiter exemption. Admin only.
func (l *Ledger) SetRateLimitExempt(caller, actor string, exempt bool) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.limiter.SetExempt(actor, exempt)
	return nil
}

// SetAuthorizedUpdater grants or revokes UpdateValue rights. Admin only.
func (l *Ledger) SetAuthorizedUpdater(caller, updater string, authorized bool) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if authorized {
		l.updaters[updater] = true
	} else {
		delete(l.updaters, updater)
	}
	return nil
}

// Pause stops all mutating entry points. Admin only.
func (l *Ledger) Pause(caller string) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
	return nil
}

// Unpause resumes mutating entry points. Admin only.
func (l *Ledger) Unpause(caller string) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	return nil
}

func (l *Ledger) requireAdmin(caller string) error {
	if caller != l.admin {
		return fmt.Errorf("%w: admin required", ErrUnauthorized)
	}
	return nil
}

func (l *Ledger) requireRunning() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.paused {
		return ErrPaused
	}
	return nil
}

func (l *Ledger) isUpdater(caller string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updaters[caller]
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
