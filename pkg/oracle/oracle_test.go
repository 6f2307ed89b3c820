package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/commitlabs/core/pkg/oracle"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin  = "admin"
	feeder = "feeder"
	usdc   = "USDC"
)

func newOracle(now *time.Time) *oracle.Oracle {
	return oracle.New(oracle.Config{Admin: admin}).
		WithClock(func() time.Time { return *now })
}

func TestSetPrice_WhitelistedOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := newOracle(&now)
	ctx := context.Background()

	err := o.SetPrice(ctx, feeder, usdc, safemath.New(100), 2)
	assert.ErrorIs(t, err, oracle.ErrNotWhitelist)

	require.NoError(t, o.AddFeeder(admin, feeder))
	require.NoError(t, o.SetPrice(ctx, feeder, usdc, safemath.New(100), 2))

	data := o.Price(usdc)
	assert.Equal(t, "100", data.Price.String())
	assert.Equal(t, uint32(2), data.Decimals)
	assert.True(t, data.UpdatedAt.Equal(now))

	require.NoError(t, o.RemoveFeeder(admin, feeder))
	err = o.SetPrice(ctx, feeder, usdc, safemath.New(101), 2)
	assert.ErrorIs(t, err, oracle.ErrNotWhitelist)
}

func TestSetPrice_RejectsNegative(t *testing.T) {
	now := time.Now()
	o := newOracle(&now)
	require.NoError(t, o.AddFeeder(admin, feeder))

	err := o.SetPrice(context.Background(), feeder, usdc, safemath.New(-1), 2)
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)
}

func TestWhitelistManagement_AdminOnly(t *testing.T) {
	now := time.Now()
	o := newOracle(&now)

	assert.ErrorIs(t, o.AddFeeder(feeder, feeder), oracle.ErrUnauthorized)
	assert.ErrorIs(t, o.RemoveFeeder(feeder, feeder), oracle.ErrUnauthorized)
	assert.False(t, o.IsWhitelisted(feeder))

	require.NoError(t, o.AddFeeder(admin, feeder))
	assert.True(t, o.IsWhitelisted(feeder))
}

func TestPrice_UnsetAssetReturnsZero(t *testing.T) {
	now := time.Now()
	o := newOracle(&now)

	data := o.Price("XLM")
	assert.True(t, data.Price.IsZero())
	assert.True(t, data.UpdatedAt.IsZero())
}

func TestValidPrice_StalenessWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := newOracle(&now)
	ctx := context.Background()
	require.NoError(t, o.AddFeeder(admin, feeder))
	require.NoError(t, o.SetPrice(ctx, feeder, usdc, safemath.New(100), 2))

	// Fresh within the default hour.
	now = now.Add(30 * time.Minute)
	data, err := o.ValidPrice(usdc, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", data.Price.String())

	// Exactly at the window edge is still valid; one step past is stale.
	now = now.Add(30 * time.Minute)
	_, err = o.ValidPrice(usdc, 0)
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = o.ValidPrice(usdc, 0)
	assert.ErrorIs(t, err, oracle.ErrStalePrice)

	// A per-call override widens the window.
	data, err = o.ValidPrice(usdc, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "100", data.Price.String())
}

func TestValidPrice_UnknownAsset(t *testing.T) {
	now := time.Now()
	o := newOracle(&now)

	_, err := o.ValidPrice("XLM", 0)
	assert.ErrorIs(t, err, oracle.ErrPriceNotFound)
}

func TestValidPrice_FutureTimestampIsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := newOracle(&now)
	ctx := context.Background()
	require.NoError(t, o.AddFeeder(admin, feeder))
	require.NoError(t, o.SetPrice(ctx, feeder, usdc, safemath.New(100), 2))

	// A clock rollback makes the observation untrusted.
	now = now.Add(-time.Minute)
	_, err := o.ValidPrice(usdc, 0)
	assert.ErrorIs(t, err, oracle.ErrStalePrice)
}

func TestSetMaxStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := newOracle(&now)
	ctx := context.Background()
	require.NoError(t, o.AddFeeder(admin, feeder))
	require.NoError(t, o.SetPrice(ctx, feeder, usdc, safemath.New(100), 2))

	assert.ErrorIs(t, o.SetMaxStaleness(feeder, time.Minute), oracle.ErrUnauthorized)
	assert.Error(t, o.SetMaxStaleness(admin, 0))

	require.NoError(t, o.SetMaxStaleness(admin, time.Minute))
	assert.Equal(t, time.Minute, o.MaxStaleness())

	now = now.Add(2 * time.Minute)
	_, err := o.ValidPrice(usdc, 0)
	assert.ErrorIs(t, err, oracle.ErrStalePrice)
}
