/*
Package generic provides the domain-agnostic building blocks of the job-work
ledger.

PURPOSE:
  Vouchers, events and payments live in their own packages. This package holds
  what they share: money, identifiers, business dates, financial-year periods,
  the error taxonomy and the voucher-number allocator.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount (prices, totals, payments)
  - Identifiers: Type-safe IDs so voucher, event, user and payment IDs never mix

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Type Safety: Distinct ID types for each kind of reference
  3. Purity: Nothing in this package performs I/O except through interfaces

SEE ALSO:
  - period.go: Financial-year windows used for voucher numbering
  - sequence.go: Voucher number allocation
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a currency-less decimal amount. The application runs in a single
// currency, so no unit is carried.
type Money struct {
	decimal.Decimal
}

func NewMoney(value float64) Money             { return Money{decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money        { return Money{decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{d} }

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{d}, nil
}

// MustParseMoney parses s and returns zero on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{decimal.Zero}
	}
	return m
}

func ZeroMoney() Money                      { return Money{decimal.Zero} }
func (m Money) Add(o Money) Money           { return Money{m.Decimal.Add(o.Decimal)} }
func (m Money) Sub(o Money) Money           { return Money{m.Decimal.Sub(o.Decimal)} }
func (m Money) MulInt(n int) Money          { return Money{m.Decimal.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) GreaterThan(o Money) bool    { return m.Decimal.GreaterThan(o.Decimal) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Decimal.GreaterThanOrEqual(o.Decimal) }
func (m Money) Equal(o Money) bool          { return m.Decimal.Equal(o.Decimal) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type VoucherID string
type EventID string
type UserID string
type PaymentID string

func (id UserID) String() string { return string(id) }

// Unknown is the placeholder shown when a reference cannot be resolved.
const Unknown = "Unknown"
