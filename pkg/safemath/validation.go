package safemath

import "errors"

var (
	ErrInvalidPercent  = errors.New("safemath: percent must be between 0 and 100")
	ErrInvalidDuration = errors.New("safemath: duration must be greater than zero")
	ErrNonPositive     = errors.New("safemath: amount must be positive")
)

// ValidatePercent rejects percentages outside [0,100].
func ValidatePercent(p uint32) error {
	if p > 100 {
		return ErrInvalidPercent
	}
	return nil
}

// ValidateDuration rejects zero-day durations.
func ValidateDuration(days uint32) error {
	if days == 0 {
		return ErrInvalidDuration
	}
	return nil
}

// RequirePositive rejects amounts that are zero or negative.
func RequirePositive(v Int) error {
	if !v.IsPositive() {
		return ErrNonPositive
	}
	return nil
}
