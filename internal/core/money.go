// Package core holds the domain model: pools, periods, members,
// invitations, transactions and the recurrence arithmetic between them.
package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in integer cents. Arithmetic on stored values stays
// in cents; decimal is used only at the parsing and division edges.
// It marshals as the bare cent count.
type Money struct {
	Cents int64
}

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string to Money with half-up rounding on
// the third decimal place. Accepts both dot and comma separators. Only
// strictly positive amounts are valid.
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0).IntPart()
	if cents <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents}, nil
}

// SplitEven divides a total into n equal shares, rounded to the cent.
// No remainder redistribution: every share is identical, so the shares may
// sum to slightly more or less than the total.
func SplitEven(total Money, n int) Money {
	if n < 1 {
		return Money{}
	}
	share := decimal.NewFromInt(total.Cents).
		DivRound(decimal.NewFromInt(int64(n)), 0)
	return Money{Cents: share.IntPart()}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// String renders the amount with two decimals, e.g. "4000000.00".
func (m Money) String() string {
	return decimal.NewFromInt(m.Cents).Div(hundred).StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(m.Cents, 10)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	cents, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return ErrInvalidAmount
	}
	m.Cents = cents
	return nil
}
