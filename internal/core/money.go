// Package core provides the domain model shared by every layer of the client.
//
// This file contains the Money type used for every currency value exchanged
// with the budget backend.
package core

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a currency value. It is encoded as a plain JSON number because
// both backends model amounts as doubles.
type Money struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{decimal.Zero}

// NewMoney converts a float to Money.
func NewMoney(f float64) Money {
	return Money{decimal.NewFromFloat(f)}
}

// MoneyFromString parses a decimal string such as "12.34" or "-5".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d}, nil
}

// MustMoney is MoneyFromString for literals; it panics on malformed input.
func MustMoney(s string) Money {
	return Money{decimal.RequireFromString(s)}
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{m.Decimal.Add(o.Decimal)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{m.Decimal.Sub(o.Decimal)}
}

// Equal reports whether both amounts are numerically equal.
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// Validate rejects zero and negative amounts.
func (m Money) Validate() error {
	if !m.Decimal.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// MarshalJSON encodes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// UnmarshalJSON accepts a JSON number, a quoted number, or null.
func (m *Money) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		m.Decimal = decimal.Zero
		return nil
	}
	return m.Decimal.UnmarshalJSON(b)
}
