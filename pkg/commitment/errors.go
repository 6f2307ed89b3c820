package commitment

import (
	"errors"

	"github.com/commitlabs/core/pkg/ratelimit"
)

var (
	// Validation errors: abort before any state change.
	ErrInvalidAmount = errors.New("commitment: amount must be positive")
	ErrInvalidRules  = errors.New("commitment: invalid rules")

	// Authorization errors.
	ErrUnauthorized = errors.New("commitment: unauthorized")

	// State errors.
	ErrNotFound   = errors.New("commitment: not found")
	ErrNotActive  = errors.New("commitment: not active")
	ErrNotExpired = errors.New("commitment: not expired yet")
	ErrPaused     = errors.New("commitment: engine paused")

	// Resource errors.
	ErrInsufficientValue = errors.New("commitment: insufficient commitment value")

	// ErrRateLimited aliases the limiter sentinel so callers match one error.
	ErrRateLimited = ratelimit.ErrLimited
)
