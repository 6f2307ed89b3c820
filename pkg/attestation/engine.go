package attestation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/google/uuid"
)

// Event topics emitted by the engine.
const (
	TopicAttested      = "Attest"
	TopicFeeRecorded   = "FeeRec"
	TopicDrawdown      = "Drawdown"
	TopicViolation     = "ViolationDetected"
	TopicScoreUpdated  = "ScoreUpd"
	TopicRecorderAdded = "RecorderAdded"
)

// CommitmentReader is the read-only cross-component view of the commitment
// ledger. The attestation engine derives everything from it and its own
// append-only records; it holds no handle into the ledger's storage.
type CommitmentReader interface {
	Get(ctx context.Context, id uint64) (commitment.Commitment, error)
}

// Config wires an engine instance.
type Config struct {
	// Admin may manage recorders and is always an authorized recorder.
	Admin string

	Core     CommitmentReader
	Store    Store
	Notifier commitment.Notifier
	Logger   *slog.Logger
}

// Engine is the compliance and attestation ledger.
type Engine struct {
	mu        sync.RWMutex
	recorders map[string]bool
	verifier  string

	admin    string
	core     CommitmentReader
	store    Store
	notifier commitment.Notifier
	clock    func() time.Time
	log      *slog.Logger
}

// NewEngine constructs an engine bound to a commitment reader.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = commitment.NewSlogNotifier(logger)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Engine{
		recorders: make(map[string]bool),
		admin:     cfg.Admin,
		core:      cfg.Core,
		store:     store,
		notifier:  notifier,
		clock:     time.Now,
		log:       logger.With("component", "attestation"),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// AddAuthorizedRecorder whitelists a fee/drawdown recorder. Admin only.
func (e *Engine) AddAuthorizedRecorder(ctx context.Context, caller, recorder string) error {
	if caller != e.admin {
		return fmt.Errorf("%w: only admin can add recorders", ErrUnauthorized)
	}
	e.mu.Lock()
	e.recorders[recorder] = true
	e.mu.Unlock()

	e.emit(ctx, TopicRecorderAdded, 0, map[string]string{"recorder": recorder})
	return nil
}

// SetAuthorizedVerifier nominates the external verifier principal. Admin only.
func (e *Engine) SetAuthorizedVerifier(_ context.Context, caller, verifier string) error {
	if caller != e.admin {
		return fmt.Errorf("%w: only admin can set the verifier", ErrUnauthorized)
	}
	e.mu.Lock()
	e.verifier = verifier
	e.mu.Unlock()
	return nil
}

func (e *Engine) isAuthorizedRecorder(caller string) bool {
	if caller == e.admin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recorders[caller]
}

// Attest appends a compliant attestation. The type tag is free-form;
// the four well-known tags have constants in this package.
func (e *Engine) Attest(ctx context.Context, commitmentID uint64, attType string, data map[string]string, verifiedBy string) error {
	return e.append(ctx, commitmentID, attType, data, verifiedBy, true)
}

// AttestWith appends an attestation with an explicit compliance flag.
func (e *Engine) AttestWith(ctx context.Context, commitmentID uint64, attType string, data map[string]string, verifiedBy string, isCompliant bool) error {
	return e.append(ctx, commitmentID, attType, data, verifiedBy, isCompliant)
}

func (e *Engine) append(ctx context.Context, commitmentID uint64, attType string, data map[string]string, verifiedBy string, isCompliant bool) error {
	now := e.clock()
	att := Attestation{
		CommitmentID: commitmentID,
		Timestamp:    now,
		Type:         attType,
		Data:         data,
		IsCompliant:  isCompliant,
		VerifiedBy:   verifiedBy,
	}
	if err := e.store.Append(ctx, att); err != nil {
		return fmt.Errorf("failed to append attestation: %w", err)
	}

	e.emit(ctx, TopicAttested, commitmentID, map[string]string{
		"type":         attType,
		"is_compliant": fmt.Sprint(isCompliant),
		"verified_by":  verifiedBy,
	})
	return nil
}

// Attestations lists all stored attestations for a commitment, oldest first.
func (e *Engine) Attestations(ctx context.Context, commitmentID uint64) ([]Attestation, error) {
	return e.store.List(ctx, commitmentID)
}

// HealthMetrics derives the current health view of a commitment. Fees and
// the last-attestation timestamp come from the stored accumulators; the
// compliance score is recomputed (and therefore emits a score event).
func (e *Engine) HealthMetrics(ctx context.Context, commitmentID uint64) (HealthMetrics, error) {
	c, err := e.core.Get(ctx, commitmentID)
	if err != nil {
		return HealthMetrics{}, err
	}

	drawdown, err := drawdownPercent(c.Amount, c.CurrentValue)
	if err != nil {
		return HealthMetrics{}, err
	}

	fees, err := e.store.Fees(ctx, commitmentID)
	if err != nil {
		return HealthMetrics{}, err
	}

	stored, ok, err := e.store.Metrics(ctx, commitmentID)
	if err != nil {
		return HealthMetrics{}, err
	}
	lastAttestation := time.Time{}
	if ok {
		lastAttestation = stored.LastAttestation
	}

	score, err := e.ComplianceScore(ctx, commitmentID)
	if err != nil {
		return HealthMetrics{}, err
	}

	return HealthMetrics{
		CommitmentID:       commitmentID,
		CurrentValue:       c.CurrentValue,
		InitialValue:       c.Amount,
		DrawdownPercent:    drawdown,
		FeesGenerated:      fees,
		VolatilityExposure: safemath.Zero(),
		LastAttestation:    lastAttestation,
		ComplianceScore:    score,
	}, nil
}

// ComplianceScore computes the bounded [0,100] score. Order matters: the
// fee bonus may push the running total past 100 before the final clamp.
// Although conceptually a query, it emits a score-update notification —
// callers must not assume it is free of observable effects.
func (e *Engine) ComplianceScore(ctx context.Context, commitmentID uint64) (uint32, error) {
	c, err := e.core.Get(ctx, commitmentID)
	if err != nil {
		return 0, err
	}
	atts, err := e.store.List(ctx, commitmentID)
	if err != nil {
		return 0, err
	}

	score := int64(100)

	// 20 points per non-compliant or violation-typed attestation.
	violations := int64(0)
	for _, att := range atts {
		if !att.IsCompliant || att.Type == TypeViolation {
			violations++
		}
	}
	score -= violations * 20

	// Points over the loss threshold come straight off, uncapped.
	if c.Amount.IsPositive() {
		drawdown, derr := safemath.LossPercent(c.Amount, c.CurrentValue)
		if derr != nil {
			return 0, derr
		}
		maxLoss := safemath.New(int64(c.Rules.MaxLossPercent))
		if drawdown.Cmp(maxLoss) > 0 {
			over, oerr := drawdown.Sub(maxLoss)
			if oerr != nil {
				return 0, oerr
			}
			if v, fits := over.Int64(); fits {
				score -= v
			}
		}
	}

	// Fee bonus, capped at 100 on its own but applied before the clamp.
	fees, err := e.store.Fees(ctx, commitmentID)
	if err != nil {
		return 0, err
	}
	if c.Rules.MinFeeThreshold.IsPositive() && fees.IsPositive() {
		scaled, ferr := fees.Mul(safemath.New(100))
		if ferr == nil {
			if feePercent, qerr := scaled.Div(c.Rules.MinFeeThreshold); qerr == nil {
				bonus, fits := feePercent.Int64()
				if !fits || bonus > 100 {
					bonus = 100
				}
				score += bonus
			}
		}
	}

	// On-schedule bonus while elapsed time is inside the duration window.
	now := e.clock()
	if c.ExpiresAt.After(c.CreatedAt) && !now.After(c.ExpiresAt) {
		score += 10
	}

	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	e.emit(ctx, TopicScoreUpdated, commitmentID, map[string]string{
		"score": fmt.Sprint(score),
	})
	return uint32(score), nil
}

// RecordFees adds to the cumulative fee accumulator and appends a
// fee_generation attestation. Authorized recorders only.
func (e *Engine) RecordFees(ctx context.Context, caller string, commitmentID uint64, amount safemath.Int) error {
	if !e.isAuthorizedRecorder(caller) {
		return ErrUnauthorized
	}
	if !amount.IsPositive() {
		return ErrInvalidFee
	}

	total, err := e.store.AddFees(ctx, commitmentID, amount)
	if err != nil {
		return fmt.Errorf("failed to accumulate fees: %w", err)
	}

	if err := e.append(ctx, commitmentID, TypeFeeGeneration, map[string]string{
		"fee_amount": amount.String(),
	}, caller, true); err != nil {
		return err
	}

	metrics, err := e.loadOrCreateMetrics(ctx, commitmentID)
	if err != nil {
		return err
	}
	metrics.FeesGenerated = total
	metrics.ComplianceScore, err = e.ComplianceScore(ctx, commitmentID)
	if err != nil {
		return err
	}
	metrics.LastAttestation = e.clock()
	if err := e.store.PutMetrics(ctx, metrics); err != nil {
		return err
	}

	e.emit(ctx, TopicFeeRecorded, commitmentID, map[string]string{
		"fee_amount": amount.String(),
		"total":      total.String(),
	})
	return nil
}

// RecordDrawdown records a mark-to-market observation. When the drawdown
// exceeds the commitment's loss threshold it additionally appends a
// non-compliant violation attestation; the drawdown attestation itself is
// flagged compliant only when no breach occurred.
func (e *Engine) RecordDrawdown(ctx context.Context, caller string, commitmentID uint64, currentValue safemath.Int) error {
	if !e.isAuthorizedRecorder(caller) {
		return ErrUnauthorized
	}

	c, err := e.core.Get(ctx, commitmentID)
	if err != nil {
		return err
	}

	drawdown, err := drawdownPercent(c.Amount, currentValue)
	if err != nil {
		return err
	}

	metrics, err := e.loadOrCreateMetrics(ctx, commitmentID)
	if err != nil {
		return err
	}
	metrics.CurrentValue = currentValue
	metrics.InitialValue = c.Amount
	metrics.DrawdownPercent = drawdown

	violated := drawdown.Cmp(safemath.New(int64(c.Rules.MaxLossPercent))) > 0
	if violated {
		if err := e.append(ctx, commitmentID, TypeViolation, nil, caller, false); err != nil {
			return err
		}
		e.emit(ctx, TopicViolation, commitmentID, map[string]string{
			"drawdown_percent": drawdown.String(),
			"max_loss_percent": fmt.Sprint(c.Rules.MaxLossPercent),
		})
	}

	if err := e.append(ctx, commitmentID, TypeDrawdown, nil, caller, !violated); err != nil {
		return err
	}

	metrics.ComplianceScore, err = e.ComplianceScore(ctx, commitmentID)
	if err != nil {
		return err
	}
	metrics.LastAttestation = e.clock()
	if err := e.store.PutMetrics(ctx, metrics); err != nil {
		return err
	}

	e.emit(ctx, TopicDrawdown, commitmentID, map[string]string{
		"current_value":    currentValue.String(),
		"drawdown_percent": drawdown.String(),
	})
	return nil
}

// VerifyCompliance reports overall compliance: false as soon as any stored
// attestation is flagged non-compliant, or when the drawdown passes 100% —
// a hard backstop independent of the rule threshold.
func (e *Engine) VerifyCompliance(ctx context.Context, commitmentID uint64) (bool, error) {
	metrics, err := e.HealthMetrics(ctx, commitmentID)
	if err != nil {
		return false, err
	}
	atts, err := e.store.List(ctx, commitmentID)
	if err != nil {
		return false, err
	}

	for _, att := range atts {
		if !att.IsCompliant {
			return false, nil
		}
	}
	if metrics.DrawdownPercent.Cmp(safemath.New(100)) > 0 {
		return false, nil
	}
	return true, nil
}

func (e *Engine) loadOrCreateMetrics(ctx context.Context, commitmentID uint64) (HealthMetrics, error) {
	m, ok, err := e.store.Metrics(ctx, commitmentID)
	if err != nil {
		return HealthMetrics{}, err
	}
	if !ok {
		return newHealthMetrics(commitmentID), nil
	}
	return m, nil
}

func (e *Engine) emit(ctx context.Context, topic string, commitmentID uint64, data map[string]string) {
	e.notifier.Emit(ctx, commitment.Event{
		ID:           uuid.New().String(),
		Topic:        topic,
		CommitmentID: commitmentID,
		Data:         data,
		Timestamp:    e.clock(),
	})
}

// drawdownPercent is floor((initial-current)*100/initial) with the shared
// zero-amount guard. Negative when value increased.
func drawdownPercent(initial, current safemath.Int) (safemath.Int, error) {
	if !initial.IsPositive() {
		return safemath.Zero(), nil
	}
	return safemath.LossPercent(initial, current)
}
