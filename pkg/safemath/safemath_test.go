package safemath_test

import (
	"testing"

	"github.com/commitlabs/core/pkg/safemath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt_CheckedOps(t *testing.T) {
	a := safemath.New(1000)
	b := safemath.New(250)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "1250", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "750", diff.String())

	prod, err := a.Mul(b)
	require.NoError(t, err)
	assert.Equal(t, "250000", prod.String())

	quot, err := a.Div(b)
	require.NoError(t, err)
	assert.Equal(t, "4", quot.String())
}

func TestInt_OverflowAborts(t *testing.T) {
	max := safemath.MustParse("170141183460469231731687303715884105727")

	_, err := max.Add(safemath.New(1))
	assert.ErrorIs(t, err, safemath.ErrOverflow)

	_, err = max.Mul(safemath.New(2))
	assert.ErrorIs(t, err, safemath.ErrOverflow)

	min := safemath.MustParse("-170141183460469231731687303715884105728")
	_, err = min.Sub(safemath.New(1))
	assert.ErrorIs(t, err, safemath.ErrOverflow)
}

func TestInt_DivideByZero(t *testing.T) {
	_, err := safemath.New(1).Div(safemath.Zero())
	assert.ErrorIs(t, err, safemath.ErrDivideByZero)
}

func TestInt_TruncatedDivision(t *testing.T) {
	// -101/100 truncates toward zero, not toward -inf.
	q, err := safemath.New(-101).Div(safemath.New(100))
	require.NoError(t, err)
	assert.Equal(t, "-1", q.String())
}

func TestLossPercent_FloorBoundary(t *testing.T) {
	// 1000 -> 900 is exactly 10%.
	p, err := safemath.LossPercent(safemath.New(1000), safemath.New(900))
	require.NoError(t, err)
	assert.Equal(t, "10", p.String())

	// 1000 -> 899 floors to 10%, not 10.1%.
	p, err = safemath.LossPercent(safemath.New(1000), safemath.New(899))
	require.NoError(t, err)
	assert.Equal(t, "10", p.String())

	// 1000 -> 889 crosses to 11%.
	p, err = safemath.LossPercent(safemath.New(1000), safemath.New(889))
	require.NoError(t, err)
	assert.Equal(t, "11", p.String())
}

func TestLossPercent_GainIsNegative(t *testing.T) {
	p, err := safemath.LossPercent(safemath.New(1000), safemath.New(1200))
	require.NoError(t, err)
	assert.Equal(t, "-20", p.String())
}

func TestPenaltyAmount(t *testing.T) {
	p, err := safemath.PenaltyAmount(safemath.New(1000), 5)
	require.NoError(t, err)
	assert.Equal(t, "50", p.String())

	// Floors: 5% of 999 is 49.95 -> 49.
	p, err = safemath.PenaltyAmount(safemath.New(999), 5)
	require.NoError(t, err)
	assert.Equal(t, "49", p.String())
}

func TestValidators(t *testing.T) {
	assert.NoError(t, safemath.ValidatePercent(0))
	assert.NoError(t, safemath.ValidatePercent(100))
	assert.ErrorIs(t, safemath.ValidatePercent(101), safemath.ErrInvalidPercent)

	assert.NoError(t, safemath.ValidateDuration(1))
	assert.ErrorIs(t, safemath.ValidateDuration(0), safemath.ErrInvalidDuration)

	assert.NoError(t, safemath.RequirePositive(safemath.New(1)))
	assert.ErrorIs(t, safemath.RequirePositive(safemath.Zero()), safemath.ErrNonPositive)
	assert.ErrorIs(t, safemath.RequirePositive(safemath.New(-5)), safemath.ErrNonPositive)
}

func TestInt_TextRoundTrip(t *testing.T) {
	v := safemath.MustParse("123456789012345678901234567890")
	text, err := v.MarshalText()
	require.NoError(t, err)

	var back safemath.Int
	require.NoError(t, back.UnmarshalText(text))
	assert.Zero(t, v.Cmp(back))
}
