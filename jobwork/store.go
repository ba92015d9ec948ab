package jobwork

import (
	"context"

	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/voucher"
)

// VoucherStore persists voucher documents.
//
// UpdateVoucher is optimistic: it succeeds only if the stored Version equals
// v.Version, then increments both. A stale write returns
// generic.ErrConcurrentModification.
type VoucherStore interface {
	CreateVoucher(ctx context.Context, v *voucher.Voucher) error
	GetVoucher(ctx context.Context, id generic.VoucherID) (*voucher.Voucher, error)
	ListVouchers(ctx context.Context, filter VoucherFilter) ([]*voucher.Voucher, error)
	UpdateVoucher(ctx context.Context, v *voucher.Voucher) error
	DeleteVoucher(ctx context.Context, id generic.VoucherID) error

	// VoucherNumbers lists numbers issued in a financial year, including
	// those of vouchers created by other processes.
	VoucherNumbers(ctx context.Context, fy generic.FinancialYear) ([]string, error)
}

// VoucherFilter narrows ListVouchers. Zero values match everything. Status
// filters on the cached status.
type VoucherFilter struct {
	Status        voucher.Status
	FinancialYear string
}

// PaymentStore persists payment records. Payments are never updated.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) error
	PaymentsByVoucher(ctx context.Context, id generic.VoucherID) ([]payment.Payment, error)
	PaymentsByVendor(ctx context.Context, vendorID generic.UserID) ([]payment.Payment, error)
}

// Recorder receives operational counters. telemetry.Metrics implements it.
type Recorder interface {
	VoucherCreated()
	EventAppended(t voucher.EventType)
	PaymentRecorded()
	CacheDivergence(field string)
	Unattributed(kind payment.UnattributedKind)
	SenderHeuristic(rule voucher.SenderRule)
}

type nopRecorder struct{}

func (nopRecorder) VoucherCreated()                       {}
func (nopRecorder) EventAppended(voucher.EventType)       {}
func (nopRecorder) PaymentRecorded()                      {}
func (nopRecorder) CacheDivergence(string)                {}
func (nopRecorder) Unattributed(payment.UnattributedKind) {}
func (nopRecorder) SenderHeuristic(voucher.SenderRule)    {}
