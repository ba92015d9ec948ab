/*
sequence.go - Voucher number allocation per financial year

PURPOSE:
  Every voucher gets a human-readable number unique within its financial
  year (April 1 - March 31), e.g. "JW-2526-0007".

TWO OPERATIONS:
  NextNumber (pure):
    Given the numbers already issued in a financial year, returns max+1.
    Gaps from deleted vouchers are tolerated, never filled. Used to preview
    the next number in the UI; it does NOT reserve anything.

  NumberAllocator.Allocate (atomic):
    Issues a number through a Counter. Two admins creating vouchers at the
    same instant always get different numbers. Read-then-compute is racy and
    is only used to seed the counter once per scope.

SEEDING:
  On the first allocation of a scope in this process the allocator loads
  existing numbers via ExistingNumbers and calls Counter.Seed(max). Seed is
  monotonic, so concurrent seeders and seeding after other processes have
  allocated are both safe.
*/
package generic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultNumberPrefix is used when no prefix is configured.
const DefaultNumberPrefix = "JW"

// NumberFormat renders and parses voucher numbers.
type NumberFormat struct {
	Prefix string // e.g. "JW"; empty means no prefix segment
	Width  int    // zero-padded width of the sequence, default 4
}

func (f NumberFormat) width() int {
	if f.Width <= 0 {
		return 4
	}
	return f.Width
}

func (f NumberFormat) scopePrefix(fy FinancialYear) string {
	if f.Prefix == "" {
		return fy.Code() + "-"
	}
	return f.Prefix + "-" + fy.Code() + "-"
}

// Format renders seq within fy.
func (f NumberFormat) Format(fy FinancialYear, seq int64) string {
	return fmt.Sprintf("%s%0*d", f.scopePrefix(fy), f.width(), seq)
}

// Parse extracts the sequence from a number issued in fy. ok is false for
// numbers of another year or another prefix.
func (f NumberFormat) Parse(fy FinancialYear, number string) (seq int64, ok bool) {
	rest, found := strings.CutPrefix(number, f.scopePrefix(fy))
	if !found || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// MaxSequence returns the highest sequence among numbers issued in fy.
func (f NumberFormat) MaxSequence(fy FinancialYear, existing []string) int64 {
	var maxSeq int64
	for _, n := range existing {
		if seq, ok := f.Parse(fy, n); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq
}

// NextNumber returns the next unused number in fy. It is a preview only.
func NextNumber(existing []string, fy FinancialYear, format NumberFormat) string {
	return format.Format(fy, format.MaxSequence(fy, existing)+1)
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// ExistingNumbersFunc lists numbers already issued in a financial year.
type ExistingNumbersFunc func(ctx context.Context, fy FinancialYear) ([]string, error)

// NumberAllocator issues voucher numbers through an atomic Counter.
type NumberAllocator struct {
	Counter         Counter
	Format          NumberFormat
	ExistingNumbers ExistingNumbersFunc // optional; seeds legacy data
	Now             func() time.Time    // defaults to time.Now

	mu     sync.Mutex
	seeded map[string]bool
}

// NewNumberAllocator creates an allocator over counter.
func NewNumberAllocator(counter Counter, format NumberFormat, existing ExistingNumbersFunc) *NumberAllocator {
	return &NumberAllocator{
		Counter:         counter,
		Format:          format,
		ExistingNumbers: existing,
		seeded:          make(map[string]bool),
	}
}

// CurrentFinancialYear is the financial year containing today.
func (a *NumberAllocator) CurrentFinancialYear() FinancialYear {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return FinancialYearFor(DateOf(now()))
}

// Allocate issues the next number in the current financial year.
func (a *NumberAllocator) Allocate(ctx context.Context) (string, FinancialYear, error) {
	fy := a.CurrentFinancialYear()
	if err := a.ensureSeeded(ctx, fy); err != nil {
		return "", fy, err
	}
	seq, err := a.Counter.Next(ctx, fy.Scope())
	if err != nil {
		return "", fy, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}
	return a.Format.Format(fy, seq), fy, nil
}

func (a *NumberAllocator) ensureSeeded(ctx context.Context, fy FinancialYear) error {
	if a.ExistingNumbers == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seeded == nil {
		a.seeded = make(map[string]bool)
	}
	scope := fy.Scope()
	if a.seeded[scope] {
		return nil
	}
	existing, err := a.ExistingNumbers(ctx, fy)
	if err != nil {
		return fmt.Errorf("%w: loading existing numbers: %v", ErrAllocationFailed, err)
	}
	if floor := a.Format.MaxSequence(fy, existing); floor > 0 {
		if err := a.Counter.Seed(ctx, scope, floor); err != nil {
			return fmt.Errorf("%w: seeding %s: %v", ErrAllocationFailed, scope, err)
		}
	}
	a.seeded[scope] = true
	return nil
}
