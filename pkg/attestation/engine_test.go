package attestation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/commitlabs/core/pkg/attestation"
	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin    = "admin"
	oracle   = "oracle"
	verifier = "verifier"
)

// fakeReader serves commitment snapshots without a live ledger.
type fakeReader struct {
	commitments map[uint64]commitment.Commitment
}

func (f *fakeReader) Get(_ context.Context, id uint64) (commitment.Commitment, error) {
	c, ok := f.commitments[id]
	if !ok {
		return commitment.Commitment{}, fmt.Errorf("%w: %d", commitment.ErrNotFound, id)
	}
	return c, nil
}

type captureNotifier struct {
	events []commitment.Event
}

func (n *captureNotifier) Emit(_ context.Context, ev commitment.Event) {
	n.events = append(n.events, ev)
}

func (n *captureNotifier) has(topic string) bool {
	for _, ev := range n.events {
		if ev.Topic == topic {
			return true
		}
	}
	return false
}

type fixture struct {
	engine *attestation.Engine
	reader *fakeReader
	events *captureNotifier
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reader: &fakeReader{commitments: make(map[uint64]commitment.Commitment)},
		events: &captureNotifier{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = attestation.NewEngine(attestation.Config{
		Admin:    admin,
		Core:     f.reader,
		Store:    attestation.NewMemoryStore(),
		Notifier: f.events,
	}).WithClock(func() time.Time { return f.now })
	return f
}

// addCommitment registers a snapshot with the given initial amount, current
// value and loss threshold.
func (f *fixture) addCommitment(id uint64, amount, current int64, maxLoss uint32) {
	f.reader.commitments[id] = commitment.Commitment{
		ID:     id,
		Owner:  "alice",
		Amount: safemath.New(amount),
		Asset:  "USDC",
		Rules: commitment.Rules{
			DurationDays:     30,
			MaxLossPercent:   maxLoss,
			Type:             commitment.TypeBalanced,
			EarlyExitPenalty: 5,
			MinFeeThreshold:  safemath.New(100),
		},
		CreatedAt:    f.now,
		ExpiresAt:    f.now.Add(30 * 24 * time.Hour),
		CurrentValue: safemath.New(current),
		Status:       commitment.StatusActive,
	}
}

func TestAttest_AppendsAndEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	require.NoError(t, f.engine.Attest(ctx, 1, attestation.TypeHealthCheck,
		map[string]string{"source": "monitor"}, verifier))

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, attestation.TypeHealthCheck, atts[0].Type)
	assert.True(t, atts[0].IsCompliant)
	assert.Equal(t, verifier, atts[0].VerifiedBy)
	assert.Equal(t, f.now, atts[0].Timestamp)
	assert.True(t, f.events.has(attestation.TopicAttested))
}

func TestAttest_UnknownTagStoredVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	require.NoError(t, f.engine.Attest(ctx, 1, "custom_audit", nil, verifier))

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "custom_audit", atts[0].Type)
}

func TestAttestations_OrderIsAppendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Attest(ctx, 1, fmt.Sprintf("tag-%d", i), nil, verifier))
		f.now = f.now.Add(time.Minute)
	}

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 3)
	for i, att := range atts {
		assert.Equal(t, fmt.Sprintf("tag-%d", i), att.Type)
	}
	assert.True(t, atts[0].Timestamp.Before(atts[2].Timestamp))
}

func TestRecordFees_Accumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)
	require.NoError(t, f.engine.AddAuthorizedRecorder(ctx, admin, oracle))

	require.NoError(t, f.engine.RecordFees(ctx, oracle, 1, safemath.New(30)))
	require.NoError(t, f.engine.RecordFees(ctx, oracle, 1, safemath.New(20)))

	m, err := f.engine.HealthMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "50", m.FeesGenerated.String())
	assert.Equal(t, f.now, m.LastAttestation)

	// Each recording appends a fee_generation attestation carrying the
	// single amount, not the running total.
	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, attestation.TypeFeeGeneration, atts[0].Type)
	assert.Equal(t, "30", atts[0].Data["fee_amount"])
	assert.Equal(t, "20", atts[1].Data["fee_amount"])
	assert.True(t, f.events.has(attestation.TopicFeeRecorded))
}

func TestRecordFees_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	assert.ErrorIs(t, f.engine.RecordFees(ctx, oracle, 1, safemath.New(10)), attestation.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.RecordFees(ctx, admin, 1, safemath.Zero()), attestation.ErrInvalidFee)
	assert.ErrorIs(t, f.engine.RecordFees(ctx, admin, 1, safemath.New(-5)), attestation.ErrInvalidFee)

	// Admin is always an authorized recorder.
	assert.NoError(t, f.engine.RecordFees(ctx, admin, 1, safemath.New(10)))

	assert.ErrorIs(t, f.engine.AddAuthorizedRecorder(ctx, oracle, oracle), attestation.ErrUnauthorized)
}

func TestRecordDrawdown_CleanObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)
	require.NoError(t, f.engine.AddAuthorizedRecorder(ctx, admin, oracle))

	// 5% drawdown against a 10% limit: compliant.
	require.NoError(t, f.engine.RecordDrawdown(ctx, oracle, 1, safemath.New(950)))

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, attestation.TypeDrawdown, atts[0].Type)
	assert.True(t, atts[0].IsCompliant)
	assert.False(t, f.events.has(attestation.TopicViolation))

	ok, err := f.engine.VerifyCompliance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordDrawdown_BreachAppendsViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 1000 at a 10% limit, marked down to 850: 15% drawdown.
	f.addCommitment(1, 1000, 1000, 10)
	require.NoError(t, f.engine.AddAuthorizedRecorder(ctx, admin, oracle))

	require.NoError(t, f.engine.RecordDrawdown(ctx, oracle, 1, safemath.New(850)))

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, attestation.TypeViolation, atts[0].Type)
	assert.False(t, atts[0].IsCompliant)
	assert.Equal(t, attestation.TypeDrawdown, atts[1].Type)
	assert.False(t, atts[1].IsCompliant)
	assert.True(t, f.events.has(attestation.TopicViolation))

	ok, err := f.engine.VerifyCompliance(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordDrawdown_ThresholdEqualityIsClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)
	require.NoError(t, f.engine.AddAuthorizedRecorder(ctx, admin, oracle))

	// Exactly 10%: no breach.
	require.NoError(t, f.engine.RecordDrawdown(ctx, oracle, 1, safemath.New(900)))

	atts, err := f.engine.Attestations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.True(t, atts[0].IsCompliant)
}

func TestComplianceScore_FreshCommitmentInsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	// No deductions plus the on-schedule bonus, clamped to 100.
	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), score)
	assert.True(t, f.events.has(attestation.TopicScoreUpdated))
}

func TestComplianceScore_ViolationDeductions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	// Two non-compliant attestations: 100 - 40 + 10 = 70.
	require.NoError(t, f.engine.AttestWith(ctx, 1, attestation.TypeViolation, nil, verifier, false))
	require.NoError(t, f.engine.AttestWith(ctx, 1, attestation.TypeViolation, nil, verifier, false))

	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(70), score)
}

func TestComplianceScore_OverageDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 25% drawdown over a 10% limit: 15 overage points off, +10 schedule.
	f.addCommitment(1, 1000, 750, 10)

	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(95), score)
}

func TestComplianceScore_FeeBonusAppliedBeforeClamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// One violation (-20), heavy overage (-40), then fees at 200% of the
	// threshold: the bonus caps at 100 on its own, the clamp holds the
	// total at 100. 100 - 20 - 40 + 100 + 10 = 150 -> 100.
	f.addCommitment(1, 1000, 500, 10)
	require.NoError(t, f.engine.AttestWith(ctx, 1, attestation.TypeViolation, nil, verifier, false))
	require.NoError(t, f.engine.RecordFees(ctx, admin, 1, safemath.New(200)))

	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), score)
}

func TestComplianceScore_ClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)

	for i := 0; i < 6; i++ {
		require.NoError(t, f.engine.AttestWith(ctx, 1, attestation.TypeViolation, nil, verifier, false))
	}

	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), score)
}

func TestComplianceScore_NoScheduleBonusAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)
	require.NoError(t, f.engine.AttestWith(ctx, 1, attestation.TypeViolation, nil, verifier, false))

	score, err := f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(90), score)

	// Past expiry the +10 disappears.
	f.now = f.now.Add(31 * 24 * time.Hour)
	score, err = f.engine.ComplianceScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(80), score)
}

func TestVerifyCompliance_TotalLossBackstop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Value driven negative: drawdown above 100% fails verification even
	// with no stored attestations.
	f.addCommitment(1, 1000, -100, 50)

	ok, err := f.engine.VerifyCompliance(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthMetrics_DerivedFromLedgerSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 920, 10)

	m, err := f.engine.HealthMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.CommitmentID)
	assert.Equal(t, "920", m.CurrentValue.String())
	assert.Equal(t, "1000", m.InitialValue.String())
	assert.Equal(t, "8", m.DrawdownPercent.String())
	assert.True(t, m.FeesGenerated.IsZero())
	assert.True(t, m.LastAttestation.IsZero())
	assert.Equal(t, uint32(100), m.ComplianceScore)
}

func TestHealthMetrics_UnknownCommitment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.HealthMetrics(ctx, 42)
	assert.ErrorIs(t, err, commitment.ErrNotFound)
}

func TestEngine_PerCommitmentIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCommitment(1, 1000, 1000, 10)
	f.addCommitment(2, 500, 500, 20)

	require.NoError(t, f.engine.RecordFees(ctx, admin, 1, safemath.New(40)))
	require.NoError(t, f.engine.AttestWith(ctx, 2, attestation.TypeViolation, nil, verifier, false))

	m1, err := f.engine.HealthMetrics(ctx, 1)
	require.NoError(t, err)
	m2, err := f.engine.HealthMetrics(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, "40", m1.FeesGenerated.String())
	assert.True(t, m2.FeesGenerated.IsZero())
	assert.Equal(t, uint32(100), m1.ComplianceScore)
	assert.Equal(t, uint32(90), m2.ComplianceScore)

	ok1, err := f.engine.VerifyCompliance(ctx, 1)
	require.NoError(t, err)
	ok2, err := f.engine.VerifyCompliance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.False(t, ok2)
}
