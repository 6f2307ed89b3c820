// Package attestation — append-only compliance observations and derived
// health metrics for commitments.
//
// The engine never keeps its own copy of commitment data: rules, amounts
// and status are fetched from the commitment ledger on demand through a
// read-only collaborator.
package attestation

import (
	"errors"
	"time"

	"github.com/commitlabs/core/pkg/safemath"
)

// Well-known attestation type tags. The tag set is open: unknown tags are
// stored verbatim.
const (
	TypeHealthCheck   = "health_check"
	TypeViolation     = "violation"
	TypeFeeGeneration = "fee_generation"
	TypeDrawdown      = "drawdown"
)

var (
	ErrUnauthorized = errors.New("attestation: caller is not an authorized recorder")
	ErrInvalidFee   = errors.New("attestation: fee amount must be positive")
)

// Attestation is one timestamped observation about a commitment.
// Entries accumulate forever; none is ever edited or removed.
type Attestation struct {
	CommitmentID uint64            `json:"commitment_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Type         string            `json:"attestation_type"`
	Data         map[string]string `json:"data,omitempty"`
	IsCompliant  bool              `json:"is_compliant"`
	VerifiedBy   string            `json:"verified_by"`
}

// HealthMetrics is the derived health view of one commitment. It is
// recomputed and overwritten on every relevant event, never merged.
type HealthMetrics struct {
	CommitmentID       uint64       `json:"commitment_id"`
	CurrentValue       safemath.Int `json:"current_value"`
	InitialValue       safemath.Int `json:"initial_value"`
	DrawdownPercent    safemath.Int `json:"drawdown_percent"`
	FeesGenerated      safemath.Int `json:"fees_generated"`
	VolatilityExposure safemath.Int `json:"volatility_exposure"`
	LastAttestation    time.Time    `json:"last_attestation"`
	ComplianceScore    uint32       `json:"compliance_score"`
}

func newHealthMetrics(commitmentID uint64) HealthMetrics {
	return HealthMetrics{
		CommitmentID:    commitmentID,
		ComplianceScore: 100,
	}
}
