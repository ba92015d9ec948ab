package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/jobwork-ledger/generic"
)

var _ generic.Counter = (*Store)(nil)

// =============================================================================
// COUNTER (generic.Counter interface)
// =============================================================================

// Next increments scope and returns the new value in one statement.
func (s *Store) Next(ctx context.Context, scope string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO voucher_counters (scope, last) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET last = last + 1
		RETURNING last
	`, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", scope, err)
	}
	return n, nil
}

// Seed raises scope to at least floor. It never lowers a counter.
func (s *Store) Seed(ctx context.Context, scope string, floor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voucher_counters (scope, last) VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET last = MAX(last, excluded.last)
	`, scope, floor)
	if err != nil {
		return fmt.Errorf("failed to seed counter %s: %w", scope, err)
	}
	return nil
}
