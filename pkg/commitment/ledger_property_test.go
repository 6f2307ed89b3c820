//go:build property
// +build property

// Package commitment_test contains property-based tests for ledger accounting
// invariants over random operation sequences.
package commitment_test

import (
	"context"
	"testing"
	"time"

	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/safemath"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestTVLEqualsActiveAmountSum verifies that after any sequence of creates,
// settlements and early exits, total value locked equals the sum of committed
// amounts over still-active commitments.
// Property: TVL == Σ Amount(c) for c with Status == Active
func TestTVLEqualsActiveAmountSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("TVL equals sum of active committed amounts", prop.ForAll(
		func(amounts []int64, actions []int) bool {
			f := newFixture(t)
			ctx := context.Background()
			f.assets.balances[alice] = 1 << 40

			var ids []uint64
			for _, a := range amounts {
				amount := 1 + a%10_000
				id, err := f.ledger.Create(ctx, alice, safemath.New(amount), asset, defaultRules())
				if err != nil {
					return false
				}
				ids = append(ids, id)
			}

			// Apply a random resolution to each targeted commitment.
			for i, action := range actions {
				if len(ids) == 0 {
					break
				}
				id := ids[i%len(ids)]
				switch action % 3 {
				case 0:
					_ = f.ledger.EarlyExit(ctx, id, alice)
				case 1:
					f.advance(31 * 24 * time.Hour)
					_ = f.ledger.Settle(ctx, id)
				case 2:
					// Leave active.
				}
			}

			sum := safemath.Zero()
			for _, id := range ids {
				c, err := f.ledger.Get(ctx, id)
				if err != nil {
					return false
				}
				if c.Status != commitment.StatusActive {
					continue
				}
				next, err := sum.Add(c.Amount)
				if err != nil {
					return false
				}
				sum = next
			}
			return f.ledger.TotalValueLocked().Cmp(sum) == 0
		},
		gen.SliceOfN(8, gen.Int64Range(0, 1<<20)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

// TestTotalCommitmentsNeverDecreases verifies the creation counter is
// monotone: resolutions never reduce it.
func TestTotalCommitmentsNeverDecreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("total commitments is monotone", prop.ForAll(
		func(amounts []int64, exits []bool) bool {
			f := newFixture(t)
			ctx := context.Background()
			f.assets.balances[alice] = 1 << 40

			var ids []uint64
			last := uint64(0)
			for _, a := range amounts {
				id, err := f.ledger.Create(ctx, alice, safemath.New(1+a%1000), asset, defaultRules())
				if err != nil {
					return false
				}
				ids = append(ids, id)
				if f.ledger.TotalCommitments() < last {
					return false
				}
				last = f.ledger.TotalCommitments()
			}

			for i, exit := range exits {
				if len(ids) == 0 {
					break
				}
				if exit {
					_ = f.ledger.EarlyExit(ctx, ids[i%len(ids)], alice)
				}
				if f.ledger.TotalCommitments() != last {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Int64Range(0, 1<<20)),
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestLossPercentNeverViolatesAtThreshold verifies floor division keeps
// equality at the threshold clean for arbitrary amounts.
// Property: loss == maxLoss% (exact) never reports a violation
func TestLossPercentNeverViolatesAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("exact threshold loss is not a violation", prop.ForAll(
		func(base int64, pct int) bool {
			amount := 100 * (1 + base%1_000_000)
			maxLoss := uint32(1 + pct%99)

			f := newFixture(t)
			ctx := context.Background()
			f.assets.balances[alice] = amount + 1

			rules := defaultRules()
			rules.MaxLossPercent = maxLoss
			id, err := f.ledger.Create(ctx, alice, safemath.New(amount), asset, rules)
			if err != nil {
				return false
			}

			loss := amount * int64(maxLoss) / 100
			if err := f.ledger.SetAuthorizedUpdater(admin, admin, true); err != nil {
				return false
			}
			if err := f.ledger.UpdateValue(ctx, admin, id, safemath.New(amount-loss)); err != nil {
				return false
			}

			d, err := f.ledger.ViolationDetails(ctx, id)
			if err != nil {
				return false
			}
			return !d.LossViolated
		},
		gen.Int64Range(0, 1<<30),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
