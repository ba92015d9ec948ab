// Package memory provides in-memory stores for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/voucher"
)

// =============================================================================
// MEMORY STORE - vouchers, payments and number counters
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	vouchers map[generic.VoucherID]*voucher.Voucher
	numbers  map[string]generic.VoucherID
	payments []payment.Payment
	counters map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		vouchers: make(map[generic.VoucherID]*voucher.Voucher),
		numbers:  make(map[string]generic.VoucherID),
		counters: make(map[string]int64),
	}
}

var (
	_ jobwork.VoucherStore = (*Memory)(nil)
	_ jobwork.PaymentStore = (*Memory)(nil)
	_ generic.Counter      = (*Memory)(nil)
)

// CreateVoucher stores v with Version 1.
func (m *Memory) CreateVoucher(_ context.Context, v *voucher.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[v.ID]; ok {
		return fmt.Errorf("voucher %s already exists", v.ID)
	}
	if _, ok := m.numbers[v.VoucherNo]; ok {
		return fmt.Errorf("%s: %w", v.VoucherNo, generic.ErrDuplicateVoucherNumber)
	}
	v.Version = 1
	m.vouchers[v.ID] = v.Clone()
	m.numbers[v.VoucherNo] = v.ID
	return nil
}

func (m *Memory) GetVoucher(_ context.Context, id generic.VoucherID) (*voucher.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vouchers[id]
	if !ok {
		return nil, fmt.Errorf("voucher %s: %w", id, generic.ErrNotFound)
	}
	return v.Clone(), nil
}

// ListVouchers returns matching vouchers, newest number first.
func (m *Memory) ListVouchers(_ context.Context, filter jobwork.VoucherFilter) ([]*voucher.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*voucher.Voucher
	for _, v := range m.vouchers {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.FinancialYear != "" && v.FinancialYear != filter.FinancialYear {
			continue
		}
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoucherNo > out[j].VoucherNo })
	return out, nil
}

// UpdateVoucher replaces the stored voucher if v.Version is current.
func (m *Memory) UpdateVoucher(_ context.Context, v *voucher.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.vouchers[v.ID]
	if !ok {
		return fmt.Errorf("voucher %s: %w", v.ID, generic.ErrNotFound)
	}
	if cur.Version != v.Version {
		return fmt.Errorf("voucher %s at version %d, have %d: %w",
			v.VoucherNo, cur.Version, v.Version, generic.ErrConcurrentModification)
	}
	v.Version++
	m.vouchers[v.ID] = v.Clone()
	return nil
}

// DeleteVoucher removes the voucher and its payments. The number stays
// reserved.
func (m *Memory) DeleteVoucher(_ context.Context, id generic.VoucherID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[id]; !ok {
		return fmt.Errorf("voucher %s: %w", id, generic.ErrNotFound)
	}
	delete(m.vouchers, id)
	kept := m.payments[:0]
	for _, p := range m.payments {
		if p.VoucherID != id {
			kept = append(kept, p)
		}
	}
	m.payments = kept
	return nil
}

func (m *Memory) VoucherNumbers(_ context.Context, fy generic.FinancialYear) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, v := range m.vouchers {
		if v.FinancialYear == fy.Label() {
			out = append(out, v.VoucherNo)
		}
	}
	sort.Strings(out)
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, p payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[p.VoucherID]; !ok {
		return fmt.Errorf("voucher %s: %w", p.VoucherID, generic.ErrNotFound)
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) PaymentsByVoucher(_ context.Context, id generic.VoucherID) ([]payment.Payment, error) {
	return m.filterPayments(func(p payment.Payment) bool { return p.VoucherID == id }), nil
}

func (m *Memory) PaymentsByVendor(_ context.Context, vendorID generic.UserID) ([]payment.Payment, error) {
	return m.filterPayments(func(p payment.Payment) bool { return p.VendorID == vendorID }), nil
}

func (m *Memory) filterPayments(keep func(payment.Payment) bool) []payment.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []payment.Payment
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// COUNTER
// =============================================================================

func (m *Memory) Next(_ context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[scope]++
	return m.counters[scope], nil
}

func (m *Memory) Seed(_ context.Context, scope string, floor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[scope] < floor {
		m.counters[scope] = floor
	}
	return nil
}
