// Package commitment — the commitment lifecycle ledger.
//
// The ledger owns the canonical Commitment record, the aggregate counters
// and every state transition: create, value update, violation check,
// settlement, early exit and liquidity allocation. All state lives in an
// explicit Ledger instance so tests construct isolated engines.
package commitment

import (
	"fmt"
	"time"

	"github.com/commitlabs/core/pkg/safemath"
)

// Status is the lifecycle state of a commitment. Transitions only move
// forward: active→settled and active→early_exit are the stored terminal
// transitions. StatusViolated is reportable by violation checks but never
// stored.
type Status uint8

const (
	StatusActive Status = iota
	StatusSettled
	StatusViolated
	StatusEarlyExit
)

// String implements fmt.Stringer with the wire tags.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSettled:
		return "settled"
	case StatusViolated:
		return "violated"
	case StatusEarlyExit:
		return "early_exit"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StatusActive
	case "settled":
		*s = StatusSettled
	case "violated":
		*s = StatusViolated
	case "early_exit":
		*s = StatusEarlyExit
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Terminal reports whether no further stored transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusEarlyExit
}

// CommitmentType tags the risk class of a commitment's rule set.
type CommitmentType uint8

const (
	TypeSafe CommitmentType = iota
	TypeBalanced
	TypeAggressive
)

// String implements fmt.Stringer with the wire tags.
func (t CommitmentType) String() string {
	switch t {
	case TypeSafe:
		return "safe"
	case TypeBalanced:
		return "balanced"
	case TypeAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t CommitmentType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *CommitmentType) UnmarshalText(b []byte) error {
	parsed, err := ParseCommitmentType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseCommitmentType maps a wire tag to the closed enum.
func ParseCommitmentType(s string) (CommitmentType, error) {
	switch s {
	case "safe":
		return TypeSafe, nil
	case "balanced":
		return TypeBalanced, nil
	case "aggressive":
		return TypeAggressive, nil
	default:
		return 0, fmt.Errorf("%w: unknown commitment type %q", ErrInvalidRules, s)
	}
}

// Rules is the immutable rule set attached to a commitment at creation.
type Rules struct {
	DurationDays     uint32         `json:"duration_days"`
	MaxLossPercent   uint32         `json:"max_loss_percent"`
	Type             CommitmentType `json:"commitment_type"`
	EarlyExitPenalty uint32         `json:"early_exit_penalty"`
	MinFeeThreshold  safemath.Int   `json:"min_fee_threshold"`
}

// Validate checks the rule preconditions for creation.
func (r Rules) Validate() error {
	if err := safemath.ValidateDuration(r.DurationDays); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := safemath.ValidatePercent(r.MaxLossPercent); err != nil {
		return fmt.Errorf("%w: max loss %v", ErrInvalidRules, err)
	}
	if err := safemath.ValidatePercent(r.EarlyExitPenalty); err != nil {
		return fmt.Errorf("%w: early exit penalty %v", ErrInvalidRules, err)
	}
	if r.Type > TypeAggressive {
		return fmt.Errorf("%w: unknown commitment type", ErrInvalidRules)
	}
	return nil
}

// Duration returns the rule duration as a time.Duration.
func (r Rules) Duration() time.Duration {
	return time.Duration(r.DurationDays) * 24 * time.Hour
}

// Commitment is one locked-value position. Once the status is terminal,
// Amount, Rules and CreatedAt never change.
type Commitment struct {
	ID             uint64       `json:"id"`
	Owner          string       `json:"owner"`
	ReceiptTokenID uint32       `json:"receipt_token_id"`
	Rules          Rules        `json:"rules"`
	Amount         safemath.Int `json:"amount"`
	Asset          string       `json:"asset"`
	CreatedAt      time.Time    `json:"created_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CurrentValue   safemath.Int `json:"current_value"`
	Status         Status       `json:"status"`
}

// ViolationDetails is the diagnostic view of a violation check.
type ViolationDetails struct {
	HasViolation     bool          `json:"has_violation"`
	LossViolated     bool          `json:"loss_violated"`
	DurationViolated bool          `json:"duration_violated"`
	LossPercent      safemath.Int  `json:"loss_percent"`
	TimeRemaining    time.Duration `json:"time_remaining"`
}
