package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/store/sqlite"
	"github.com/warp/jobwork-ledger/voucher"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", sqlite.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testVoucher(id, number string) *voucher.Voucher {
	price := generic.MustParseMoney("12.75")
	v := &voucher.Voucher{
		ID:            generic.VoucherID(id),
		VoucherNo:     number,
		FinancialYear: "2025-26",
		CreatedAt:     generic.NewTimePoint(2025, time.June, 10),
		CreatedBy:     "admin",
		Item: voucher.ItemDetails{
			ItemName:              "Cotton shirt",
			Images:                []string{"front.jpg"},
			InitialQuantity:       100,
			SupplierName:          "Mill A",
			SupplierPricePerPiece: generic.MustParseMoney("40"),
		},
		Events: []voucher.Event{
			{
				ID: generic.EventID(number + "-E1"), Type: voucher.EventDispatch, Timestamp: t0, UserID: "admin",
				Details: voucher.DispatchDetails{
					SenderID: "admin", ReceiverID: "v1", QuantityDispatched: 100, JobWork: "Dyeing",
					Transport: voucher.Transport{LRNo: "LR-9", LRDate: generic.NewTimePoint(2025, time.June, 9)},
				},
			},
			{
				ID: generic.EventID(number + "-E2"), Type: voucher.EventReceive, Timestamp: t0.Add(time.Hour), UserID: "v1",
				Details: voucher.ReceiveDetails{
					ReceiverID: "v1", QuantityReceived: 98,
					Discrepancies: voucher.ReceiveDiscrepancies{Missing: 2, DamagedOnArrival: 1, DamageReason: "torn"},
				},
			},
			{
				ID: generic.EventID(number + "-E3"), Type: voucher.EventForward, Timestamp: t0.Add(2 * time.Hour), UserID: "v1",
				Details: voucher.ForwardDetails{
					SenderID: "v1", ReceiverID: "v2", QuantityForwarded: 95, JobWork: "Dyeing", PricePerPiece: &price,
					Discrepancies: voucher.ForwardDiscrepancies{DamagedAfterJob: 2},
				},
			},
		},
		UpdatedAt: t0,
	}
	voucher.SyncCache(v)
	return v
}

// =============================================================================
// VOUCHERS
// =============================================================================

func TestStore_VoucherRoundTrip(t *testing.T) {
	// GIVEN: A stored voucher with all three event types
	store := newTestStore(t)
	ctx := context.Background()
	v := testVoucher("v-1", "JW-2526-0001")
	require.NoError(t, store.CreateVoucher(ctx, v))
	assert.Equal(t, int64(1), v.Version)

	// WHEN: Loading it back
	got, err := store.GetVoucher(ctx, "v-1")
	require.NoError(t, err)

	// THEN: Header, cache and events survive
	assert.Equal(t, v.VoucherNo, got.VoucherNo)
	assert.Equal(t, "2025-06-10", got.CreatedAt.String())
	assert.Equal(t, []string{"front.jpg"}, got.Item.Images)
	assert.True(t, got.Item.SupplierPricePerPiece.Equal(generic.MustParseMoney("40")))
	assert.Equal(t, voucher.StatusForwarded, got.Status)
	assert.Equal(t, v.Totals, got.Totals)
	assert.Nil(t, got.Completion)
	require.Len(t, got.Events, 3)
	assert.Empty(t, voucher.CheckCache(got))

	d, ok := got.Events[0].Dispatch()
	require.True(t, ok)
	assert.Equal(t, "2025-06-09", d.Transport.LRDate.String())
	r, ok := got.Events[1].Receive()
	require.True(t, ok)
	assert.Equal(t, "torn", r.Discrepancies.DamageReason)
	f, ok := got.Events[2].Forward()
	require.True(t, ok)
	assert.True(t, f.Price().Equal(generic.MustParseMoney("12.75")))
	assert.Equal(t, voucher.Summarize(v), voucher.Summarize(got))
}

func TestStore_GetVoucher_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetVoucher(context.Background(), "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_DuplicateVoucherNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateVoucher(ctx, testVoucher("v-1", "JW-2526-0001")))

	err := store.CreateVoucher(ctx, testVoucher("v-2", "JW-2526-0001"))

	assert.ErrorIs(t, err, generic.ErrDuplicateVoucherNumber)
}

func TestStore_UpdateVoucher_Optimistic(t *testing.T) {
	// GIVEN: Two readers of the same voucher
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateVoucher(ctx, testVoucher("v-1", "JW-2526-0001")))
	a, err := store.GetVoucher(ctx, "v-1")
	require.NoError(t, err)
	b, err := store.GetVoucher(ctx, "v-1")
	require.NoError(t, err)

	// WHEN: Both write, first a then b
	a.Completion = &voucher.Completion{At: t0.Add(3 * time.Hour), By: "admin", AdminReceivedQuantity: 90}
	voucher.SyncCache(a)
	require.NoError(t, store.UpdateVoucher(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Item.ItemName = "Renamed"
	err = store.UpdateVoucher(ctx, b)

	// THEN: The stale write is rejected and a's write stands
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	got, err := store.GetVoucher(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "Cotton shirt", got.Item.ItemName)
	assert.Equal(t, voucher.StatusCompleted, got.Status)
	require.NotNil(t, got.Completion)
	assert.Equal(t, 90, got.Completion.AdminReceivedQuantity)
	assert.Equal(t, 90, got.Totals.AdminReceived)

	// AND: Updating a deleted voucher is not found, not a conflict
	require.NoError(t, store.DeleteVoucher(ctx, "v-1"))
	assert.ErrorIs(t, store.UpdateVoucher(ctx, got), generic.ErrNotFound)
}

func TestStore_ListVouchers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := testVoucher("v-1", "JW-2526-0001")
	second := testVoucher("v-2", "JW-2526-0002")
	second.Events = second.Events[:1]
	voucher.SyncCache(second)
	older := testVoucher("v-3", "JW-2425-0100")
	older.FinancialYear = "2024-25"
	for _, v := range []*voucher.Voucher{first, second, older} {
		require.NoError(t, store.CreateVoucher(ctx, v))
	}

	all, err := store.ListVouchers(ctx, jobwork.VoucherFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "JW-2526-0002", all[0].VoucherNo)

	dispatched, err := store.ListVouchers(ctx, jobwork.VoucherFilter{Status: voucher.StatusDispatched})
	require.NoError(t, err)
	require.Len(t, dispatched, 1)
	assert.Equal(t, "v-2", string(dispatched[0].ID))

	fy, err := store.ListVouchers(ctx, jobwork.VoucherFilter{FinancialYear: "2024-25"})
	require.NoError(t, err)
	require.Len(t, fy, 1)

	numbers, err := store.VoucherNumbers(ctx, generic.FinancialYear{StartYear: 2025})
	require.NoError(t, err)
	assert.Equal(t, []string{"JW-2526-0001", "JW-2526-0002"}, numbers)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestStore_Payments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateVoucher(ctx, testVoucher("v-1", "JW-2526-0001")))

	keyed := payment.Payment{
		ID: "p-1", VoucherID: "v-1", VendorID: "v1", VendorName: "Dyers", VendorCode: "D01",
		JobWorkDone: "Dyeing", PricePerPiece: generic.MustParseMoney("12.75"), NetQty: 95,
		TotalAmount: generic.MustParseMoney("1211.25"), AmountPaid: generic.MustParseMoney("600.10"),
		PaymentDate: generic.NewTimePoint(2025, time.June, 12), ForwardEventID: "JW-2526-0001-E3",
		CreatedBy: "admin", CreatedAt: t0,
	}
	legacy := payment.Payment{
		ID: "p-2", VoucherID: "v-1", VendorID: "v1", PricePerPiece: generic.ZeroMoney(),
		TotalAmount: generic.ZeroMoney(), AmountPaid: generic.MustParseMoney("50"),
		PaymentDate: generic.NewTimePoint(2025, time.June, 13), CreatedAt: t0.Add(time.Hour),
	}
	require.NoError(t, store.CreatePayment(ctx, keyed))
	require.NoError(t, store.CreatePayment(ctx, legacy))

	byVoucher, err := store.PaymentsByVoucher(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, byVoucher, 2)
	assert.Equal(t, generic.PaymentID("p-1"), byVoucher[0].ID)
	assert.True(t, byVoucher[0].AmountPaid.Equal(keyed.AmountPaid))
	assert.Equal(t, keyed.ForwardEventID, byVoucher[0].ForwardEventID)
	assert.Equal(t, "2025-06-12", byVoucher[0].PaymentDate.String())
	assert.True(t, byVoucher[1].IsLegacy())
	assert.Empty(t, byVoucher[1].VendorName)

	byVendor, err := store.PaymentsByVendor(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, byVendor, 2)

	// Reconciling stored records gives the same answer as in-memory ones.
	v, err := store.GetVoucher(ctx, "v-1")
	require.NoError(t, err)
	r := payment.Reconcile(v.ID, voucher.ForwardEvents(v), byVoucher)
	require.Len(t, r.Needed, 1)
	assert.True(t, r.Needed[0].PendingAmount.Equal(generic.MustParseMoney("611.15")))
	require.Len(t, r.Unattributed, 1)
}

func TestStore_Payment_UnknownVoucher(t *testing.T) {
	store := newTestStore(t)
	err := store.CreatePayment(context.Background(), payment.Payment{
		ID: "p-1", VoucherID: "missing", VendorID: "v1", AmountPaid: generic.MustParseMoney("1"),
		PaymentDate: generic.NewTimePoint(2025, time.June, 12), CreatedAt: t0,
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_DeleteVoucher_CascadesPayments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateVoucher(ctx, testVoucher("v-1", "JW-2526-0001")))
	require.NoError(t, store.CreatePayment(ctx, payment.Payment{
		ID: "p-1", VoucherID: "v-1", VendorID: "v1", AmountPaid: generic.MustParseMoney("1"),
		PaymentDate: generic.NewTimePoint(2025, time.June, 12), CreatedAt: t0,
	}))

	require.NoError(t, store.DeleteVoucher(ctx, "v-1"))

	payments, err := store.PaymentsByVendor(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.ErrorIs(t, store.DeleteVoucher(ctx, "v-1"), generic.ErrNotFound)
}

// =============================================================================
// COUNTER
// =============================================================================

func TestStore_Counter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Next(ctx, "fy2025-26")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, store.Seed(ctx, "fy2025-26", 10))
	n, err = store.Next(ctx, "fy2025-26")
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	require.NoError(t, store.Seed(ctx, "fy2025-26", 3))
	n, err = store.Next(ctx, "fy2025-26")
	require.NoError(t, err)
	assert.EqualValues(t, 12, n, "seed never lowers")

	n, err = store.Next(ctx, "fy2026-27")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "scopes are independent")
}

func TestStore_Counter_SharedFileIsAtomic(t *testing.T) {
	// GIVEN: Two stores on one database file, as two server processes would be
	path := filepath.Join(t.TempDir(), "jobwork.db")
	a, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	// WHEN: Both allocate concurrently
	const perStore = 25
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for _, s := range []*sqlite.Store{a, b} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *sqlite.Store) {
				defer wg.Done()
				n, err := s.Next(context.Background(), "fy2025-26")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				assert.False(t, seen[n], "duplicate sequence %d", n)
				seen[n] = true
			}(s)
		}
	}
	wg.Wait()

	// THEN: Every value was issued exactly once
	assert.Len(t, seen, 2*perStore)
}

// =============================================================================
// SERVICE OVER SQLITE
// =============================================================================

func TestStore_ServiceLifecycle(t *testing.T) {
	// GIVEN: The service wired to SQLite for vouchers, payments and numbering
	store := newTestStore(t)
	ctx := context.Background()
	allocator := generic.NewNumberAllocator(store, generic.NumberFormat{Prefix: "JW"}, nil)
	allocator.Now = func() time.Time { return t0 }
	svc := jobwork.NewService(store, store, allocator, jobwork.WithClock(func() time.Time { return t0 }))

	// WHEN: Running a voucher through dispatch, receive, forward and payment
	v, err := svc.CreateVoucher(ctx, jobwork.CreateVoucherInput{
		CreatedBy: "admin", ReceiverID: "v1",
		Item: voucher.ItemDetails{ItemName: "Denim", InitialQuantity: 50},
	})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, v.ID, jobwork.ReceiveInput{UserID: "v1", SenderID: "admin", QuantityReceived: 50, Timestamp: t0.Add(time.Hour)})
	require.NoError(t, err)
	price := generic.MustParseMoney("3")
	v, err = svc.Forward(ctx, v.ID, jobwork.ForwardInput{
		UserID: "v1", ReceiverID: "admin", QuantityForwarded: 50, JobWork: "Washing", PricePerPiece: &price,
		Timestamp: t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, jobwork.PaymentInput{VoucherID: v.ID, ForwardEventID: v.Events[2].ID, AmountPaid: generic.MustParseMoney("150")})
	require.NoError(t, err)

	// THEN: The stored document and payments reconcile
	view, err := svc.View(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "JW-2526-0001", view.Voucher.VoucherNo)
	assert.Equal(t, int64(3), view.Voucher.Version)
	assert.Equal(t, voucher.StatusForwarded, view.Summary.Status)
	require.Len(t, view.Payments.Completed, 1)
	assert.Equal(t, payment.StatusPaid, view.Payments.Completed[0].Status)

	report, err := svc.AuditCache(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Diverged)
}
