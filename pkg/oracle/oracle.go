// Package oracle — whitelisted price feeds with staleness validation.
//
// Prices drive value calculation, drawdown recording and fee accounting.
// Only whitelisted feeders may push prices; readers choose between the raw
// last observation and a validity-checked read that rejects stale data.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/google/uuid"
)

// DefaultMaxStaleness is the price validity window used until the admin
// configures one.
const DefaultMaxStaleness = time.Hour

// TopicPriceSet is emitted on every accepted price update.
const TopicPriceSet = "PriceSet"

var (
	ErrUnauthorized  = errors.New("oracle: caller is not authorized")
	ErrNotWhitelist  = errors.New("oracle: feeder is not whitelisted")
	ErrPriceNotFound = errors.New("oracle: no price recorded for asset")
	ErrStalePrice    = errors.New("oracle: price is stale")
	ErrInvalidPrice  = errors.New("oracle: price may not be negative")
)

// PriceData is one recorded observation for an asset.
type PriceData struct {
	Price     safemath.Int `json:"price"`
	UpdatedAt time.Time    `json:"updated_at"`
	Decimals  uint32       `json:"decimals"`
}

// Config wires an oracle instance.
type Config struct {
	// Admin manages the whitelist and the staleness window.
	Admin string

	// MaxStaleness bounds price age for validated reads. Zero means
	// DefaultMaxStaleness.
	MaxStaleness time.Duration

	Notifier commitment.Notifier
	Logger   *slog.Logger
}

// Oracle holds the whitelist and per-asset price table.
type Oracle struct {
	mu           sync.RWMutex
	whitelist    map[string]bool
	prices       map[string]PriceData
	maxStaleness time.Duration

	admin    string
	notifier commitment.Notifier
	clock    func() time.Time
	log      *slog.Logger
}

// New constructs an oracle with an empty whitelist and price table.
func New(cfg Config) *Oracle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = commitment.NewSlogNotifier(logger)
	}
	staleness := cfg.MaxStaleness
	if staleness <= 0 {
		staleness = DefaultMaxStaleness
	}
	return &Oracle{
		whitelist:    make(map[string]bool),
		prices:       make(map[string]PriceData),
		maxStaleness: staleness,
		admin:        cfg.Admin,
		notifier:     notifier,
		clock:        time.Now,
		log:          logger.With("component", "oracle"),
	}
}

// WithClock overrides clock for testing.
func (o *Oracle) WithClock(clock func() time.Time) *Oracle {
	o.clock = clock
	return o
}

// AddFeeder whitelists a price feeder. Admin only.
func (o *Oracle) AddFeeder(caller, feeder string) error {
	if err := o.requireAdmin(caller); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.whitelist[feeder] = true
	return nil
}

// RemoveFeeder revokes a feeder. Admin only.
func (o *Oracle) RemoveFeeder(caller, feeder string) error {
	if err := o.requireAdmin(caller); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.whitelist, feeder)
	return nil
}

// IsWhitelisted reports whether a feeder may push prices.
func (o *Oracle) IsWhitelisted(feeder string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.whitelist[feeder]
}

// SetPrice records an observation for an asset. Whitelisted feeders only;
// negative prices are rejected.
func (o *Oracle) SetPrice(ctx context.Context, caller, asset string, price safemath.Int, decimals uint32) error {
	if !o.IsWhitelisted(caller) {
		return fmt.Errorf("%w: %s", ErrNotWhitelist, caller)
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	now := o.clock()
	o.mu.Lock()
	o.prices[asset] = PriceData{Price: price, UpdatedAt: now, Decimals: decimals}
	o.mu.Unlock()

	o.notifier.Emit(ctx, commitment.Event{
		ID:        uuid.New().String(),
		Topic:     TopicPriceSet,
		Timestamp: now,
		Data: map[string]string{
			"asset":    asset,
			"price":    price.String(),
			"decimals": fmt.Sprint(decimals),
		},
	})
	return nil
}

// Price returns the last recorded observation without validity checks. The
// zero value means no price was ever set.
func (o *Oracle) Price(asset string) PriceData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.prices[asset]
	if !ok {
		return PriceData{Price: safemath.Zero()}
	}
	return data
}

// ValidPrice returns the price only when one exists and is fresh within the
// given window; maxStaleness <= 0 falls back to the configured default.
// Observations timestamped in the future count as stale.
func (o *Oracle) ValidPrice(asset string, maxStaleness time.Duration) (PriceData, error) {
	o.mu.RLock()
	data, ok := o.prices[asset]
	configured := o.maxStaleness
	o.mu.RUnlock()

	if !ok {
		return PriceData{}, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
	}
	if data.Price.IsNegative() {
		return PriceData{}, ErrInvalidPrice
	}

	window := maxStaleness
	if window <= 0 {
		window = configured
	}
	now := o.clock()
	if now.Before(data.UpdatedAt) || now.Sub(data.UpdatedAt) > window {
		return PriceData{}, fmt.Errorf("%w: %s updated at %s", ErrStalePrice, asset, data.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return data, nil
}

// SetMaxStaleness reconfigures the default validity window. Admin only.
func (o *Oracle) SetMaxStaleness(caller string, window time.Duration) error {
	if err := o.requireAdmin(caller); err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("oracle: staleness window must be positive")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxStaleness = window
	return nil
}

// MaxStaleness returns the configured default validity window.
func (o *Oracle) MaxStaleness() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxStaleness
}

// Admin returns the configured admin principal.
func (o *Oracle) Admin() string {
	return o.admin
}

func (o *Oracle) requireAdmin(caller string) error {
	if caller != o.admin {
		return fmt.Errorf("%w: admin required", ErrUnauthorized)
	}
	return nil
}
