// Package safemath — checked 128-bit integer arithmetic and rule validation.
//
// Every arithmetic operation is bounds-checked against the signed 128-bit
// range and returns an error instead of wrapping. Division truncates toward
// zero, matching the host ledger's integer semantics.
package safemath

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrOverflow     = errors.New("safemath: overflow")
	ErrDivideByZero = errors.New("safemath: division by zero")
)

// i128 bounds.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Int is an immutable signed integer bounded to the 128-bit range.
// The zero value is usable and equals 0.
type Int struct {
	v *big.Int
}

// New returns an Int holding the given value.
func New(v int64) Int {
	return Int{v: big.NewInt(v)}
}

// Zero returns the zero Int.
func Zero() Int {
	return Int{}
}

// Parse parses a base-10 integer string, rejecting values outside the
// 128-bit range.
func Parse(s string) (Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, fmt.Errorf("safemath: invalid integer %q", s)
	}
	if !inRange(v) {
		return Int{}, ErrOverflow
	}
	return Int{v: v}, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(s string) Int {
	i, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return i
}

func inRange(v *big.Int) bool {
	return v.Cmp(minInt128) >= 0 && v.Cmp(maxInt128) <= 0
}

func (i Int) big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return i.v
}

// Add returns i+o, erroring on 128-bit overflow.
func (i Int) Add(o Int) (Int, error) {
	r := new(big.Int).Add(i.big(), o.big())
	if !inRange(r) {
		return Int{}, ErrOverflow
	}
	return Int{v: r}, nil
}

// Sub returns i-o, erroring on 128-bit overflow.
func (i Int) Sub(o Int) (Int, error) {
	r := new(big.Int).Sub(i.big(), o.big())
	if !inRange(r) {
		return Int{}, ErrOverflow
	}
	return Int{v: r}, nil
}

// Mul returns i*o, erroring on 128-bit overflow.
func (i Int) Mul(o Int) (Int, error) {
	r := new(big.Int).Mul(i.big(), o.big())
	if !inRange(r) {
		return Int{}, ErrOverflow
	}
	return Int{v: r}, nil
}

// Div returns i/o truncated toward zero. Division by zero is an error.
func (i Int) Div(o Int) (Int, error) {
	if o.big().Sign() == 0 {
		return Int{}, ErrDivideByZero
	}
	r := new(big.Int).Quo(i.big(), o.big())
	return Int{v: r}, nil
}

// Cmp compares i and o: -1 if i<o, 0 if equal, +1 if i>o.
func (i Int) Cmp(o Int) int {
	return i.big().Cmp(o.big())
}

// Sign reports the sign of i: -1, 0 or +1.
func (i Int) Sign() int {
	return i.big().Sign()
}

// IsZero reports whether i == 0.
func (i Int) IsZero() bool {
	return i.big().Sign() == 0
}

// IsPositive reports whether i > 0.
func (i Int) IsPositive() bool {
	return i.big().Sign() > 0
}

// IsNegative reports whether i < 0.
func (i Int) IsNegative() bool {
	return i.big().Sign() < 0
}

// Int64 returns the value as int64 when it fits.
func (i Int) Int64() (int64, bool) {
	if !i.big().IsInt64() {
		return 0, false
	}
	return i.big().Int64(), true
}

// String renders the value in base 10.
func (i Int) String() string {
	return i.big().String()
}

// MarshalText implements encoding.TextMarshaler (base-10 string).
func (i Int) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Int) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// LossPercent computes floor((initial-current)*100/initial).
// Negative results are possible when current exceeds initial (a gain).
// Callers must guard initial == 0 themselves; this errors to be safe.
func LossPercent(initial, current Int) (Int, error) {
	diff, err := initial.Sub(current)
	if err != nil {
		return Int{}, err
	}
	scaled, err := diff.Mul(New(100))
	if err != nil {
		return Int{}, err
	}
	return scaled.Div(initial)
}

// PenaltyAmount computes floor(value*percent/100).
func PenaltyAmount(value Int, percent uint32) (Int, error) {
	scaled, err := value.Mul(New(int64(percent)))
	if err != nil {
		return Int{}, err
	}
	return scaled.Div(New(100))
}
