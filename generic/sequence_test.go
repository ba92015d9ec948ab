package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/store/memory"
)

var fy2526 = generic.FinancialYear{StartYear: 2025}

func TestNextNumber(t *testing.T) {
	format := generic.NumberFormat{Prefix: "JW"}

	t.Run("empty year starts at one", func(t *testing.T) {
		assert.Equal(t, "JW-2526-0001", generic.NextNumber(nil, fy2526, format))
	})

	t.Run("gaps are not filled", func(t *testing.T) {
		existing := []string{"JW-2526-0001", "JW-2526-0007", "JW-2526-0003"}
		assert.Equal(t, "JW-2526-0008", generic.NextNumber(existing, fy2526, format))
	})

	t.Run("other years and malformed numbers are ignored", func(t *testing.T) {
		existing := []string{"JW-2425-0099", "JW-2526-00x2", "XX-2526-0050", "JW-2526-0002"}
		assert.Equal(t, "JW-2526-0003", generic.NextNumber(existing, fy2526, format))
	})

	t.Run("sequence wider than the padding", func(t *testing.T) {
		assert.Equal(t, "JW-2526-10000", generic.NextNumber([]string{"JW-2526-9999"}, fy2526, format))
	})

	t.Run("no prefix", func(t *testing.T) {
		assert.Equal(t, "2526-0001", generic.NextNumber(nil, fy2526, generic.NumberFormat{}))
	})
}

func TestNumberFormat_Parse(t *testing.T) {
	format := generic.NumberFormat{Prefix: "JW", Width: 3}

	seq, ok := format.Parse(fy2526, "JW-2526-042")
	assert.True(t, ok)
	assert.EqualValues(t, 42, seq)

	_, ok = format.Parse(fy2526, "JW-2526-")
	assert.False(t, ok)
	_, ok = format.Parse(fy2526, "JW-2526-000")
	assert.False(t, ok)
	assert.Equal(t, "JW-2526-007", format.Format(fy2526, 7))
}

func newAllocator(c generic.Counter, now time.Time, existing generic.ExistingNumbersFunc) *generic.NumberAllocator {
	a := generic.NewNumberAllocator(c, generic.NumberFormat{Prefix: "JW"}, existing)
	a.Now = func() time.Time { return now }
	return a
}

func TestAllocate_Sequential(t *testing.T) {
	// GIVEN: A fresh counter in June 2025
	a := newAllocator(memory.NewMemory(), time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	// WHEN: Allocating three numbers
	var got []string
	for i := 0; i < 3; i++ {
		n, fy, err := a.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, fy2526, fy)
		got = append(got, n)
	}

	// THEN: They are consecutive
	assert.Equal(t, []string{"JW-2526-0001", "JW-2526-0002", "JW-2526-0003"}, got)
}

func TestAllocate_ConcurrentCallersGetDistinctNumbers(t *testing.T) {
	// GIVEN: Two allocators sharing one counter, as two server instances would
	counter := memory.NewMemory()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	allocators := []*generic.NumberAllocator{newAllocator(counter, now, nil), newAllocator(counter, now, nil)}

	// WHEN: 50 creations race
	const n = 50
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(a *generic.NumberAllocator) {
			defer wg.Done()
			num, _, err := a.Allocate(context.Background())
			assert.NoError(t, err)
			results <- num
		}(allocators[i%2])
	}
	wg.Wait()
	close(results)

	// THEN: Every number is unique
	seen := make(map[string]bool)
	for num := range results {
		assert.False(t, seen[num], "duplicate %s", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestAllocate_SeedsFromExistingNumbers(t *testing.T) {
	// GIVEN: Numbers issued before the counter existed
	calls := 0
	existing := func(_ context.Context, fy generic.FinancialYear) ([]string, error) {
		calls++
		return []string{"JW-2526-0001", "JW-2526-0012"}, nil
	}
	a := newAllocator(memory.NewMemory(), time.Date(2025, time.November, 3, 0, 0, 0, 0, time.UTC), existing)

	// WHEN: Allocating twice
	first, _, err := a.Allocate(context.Background())
	require.NoError(t, err)
	second, _, err := a.Allocate(context.Background())
	require.NoError(t, err)

	// THEN: Allocation continues after the legacy maximum, seeding only once
	assert.Equal(t, "JW-2526-0013", first)
	assert.Equal(t, "JW-2526-0014", second)
	assert.Equal(t, 1, calls)
}

func TestAllocate_SeedNeverLowersCounter(t *testing.T) {
	// GIVEN: Another process already advanced the counter past the stored max
	counter := memory.NewMemory()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := counter.Next(ctx, fy2526.Scope())
		require.NoError(t, err)
	}
	existing := func(context.Context, generic.FinancialYear) ([]string, error) {
		return []string{"JW-2526-0005"}, nil
	}
	a := newAllocator(counter, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), existing)

	// WHEN: This allocator seeds and allocates
	n, _, err := a.Allocate(ctx)

	// THEN: It continues from the counter, not the stale max
	require.NoError(t, err)
	assert.Equal(t, "JW-2526-0021", n)
}

func TestAllocate_FinancialYearRollover(t *testing.T) {
	// GIVEN: An allocator whose clock crosses April 1
	counter := memory.NewMemory()
	now := time.Date(2026, time.March, 31, 23, 0, 0, 0, time.UTC)
	a := generic.NewNumberAllocator(counter, generic.NumberFormat{Prefix: "JW"}, nil)
	a.Now = func() time.Time { return now }
	ctx := context.Background()

	last, fy, err := a.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "JW-2526-0001", last)
	assert.Equal(t, "2025-26", fy.Label())

	// WHEN: The next voucher is created on April 1
	now = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	first, fy, err := a.Allocate(ctx)

	// THEN: Numbering restarts in the new year
	require.NoError(t, err)
	assert.Equal(t, "JW-2627-0001", first)
	assert.Equal(t, "2026-27", fy.Label())
}

type failingCounter struct{}

func (failingCounter) Next(context.Context, string) (int64, error) { return 0, errors.New("unreachable") }
func (failingCounter) Seed(context.Context, string, int64) error   { return errors.New("unreachable") }

func TestAllocate_CounterFailure(t *testing.T) {
	a := newAllocator(failingCounter{}, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), nil)

	_, _, err := a.Allocate(context.Background())

	assert.ErrorIs(t, err, generic.ErrAllocationFailed)
}
