/*
store.go - Persistence contracts shared across packages

PURPOSE:
  The voucher and payment repositories are defined next to their consumer
  (jobwork/service.go). This file holds the one contract that belongs to the
  generic layer: the atomic counter behind voucher numbering.

COUNTER CONTRACT:
  Next() must be atomic: two callers asking for the same scope at the same
  time always receive different values. Implementations do this with a
  database UPSERT ... RETURNING (sqlite), INCR (redis), or a mutex (memory).
  Reading the current maximum and adding one in application code is NOT an
  implementation of this contract.

  Seed() raises the counter to at least floor and never lowers it. It is used
  once per scope to absorb numbers issued before the counter existed.

IMPLEMENTATIONS:
  - store/sqlite/counter.go: voucher_counters table
  - store/redis/counter.go: one key per scope
  - store/memory/memory.go: in-process, for tests and dev

SEE ALSO:
  - sequence.go: NumberAllocator built on Counter
*/
package generic

import "context"

// Counter issues strictly increasing sequence values per scope.
type Counter interface {
	// Next atomically increments the scope's counter and returns the new value.
	// The first call for an unseen scope returns 1 (or floor+1 after Seed).
	Next(ctx context.Context, scope string) (int64, error)

	// Seed raises the scope's counter to at least floor. Never lowers it.
	Seed(ctx context.Context, scope string, floor int64) error
}
