/*
Package payment reconciles vendor payments against forwarded work.

PURPOSE:
  A vendor who forwards worked goods at an agreed price_per_piece is owed
  price x quantity for that forward event. Payments are recorded against
  the work, possibly in several instalments. This package answers, per
  forward event: how much is owed, how much was paid, what is pending.

CORRELATION:
  New payments carry forwardEventId. Older records do not and are matched
  by (voucher, vendor, job work), and failing that by (voucher, vendor).
  Every result records which tier matched so a reviewer can tell an exact
  match from a guess. See reconcile.go.

LIFECYCLE:
  A Payment is written once and never edited. Partial payments are separate
  records whose amounts are summed.
*/
package payment

import (
	"time"

	"github.com/warp/jobwork-ledger/generic"
)

// Payment is money paid to a vendor for forwarded work.
type Payment struct {
	ID             generic.PaymentID `json:"id"`
	VoucherID      generic.VoucherID `json:"voucherId"`
	VendorID       generic.UserID    `json:"vendorId"`
	VendorName     string            `json:"vendorName"`
	VendorCode     string            `json:"vendorCode"`
	JobWorkDone    string            `json:"jobWorkDone"`
	PricePerPiece  generic.Money     `json:"pricePerPiece"`
	NetQty         int               `json:"netQty"`
	TotalAmount    generic.Money     `json:"totalAmount"`
	AmountPaid     generic.Money     `json:"amountPaid"`
	PaymentDate    generic.TimePoint `json:"paymentDate"`
	ForwardEventID generic.EventID   `json:"forwardEventId,omitempty"`
	CreatedBy      generic.UserID    `json:"createdBy,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// IsLegacy reports whether the payment predates forward-event correlation.
func (p Payment) IsLegacy() bool { return p.ForwardEventID == "" }

// Validate rejects structurally invalid payments.
func (p Payment) Validate() error {
	if p.VoucherID == "" {
		return generic.InvalidPayment("voucherId", "is required")
	}
	if p.VendorID == "" {
		return generic.InvalidPayment("vendorId", "is required")
	}
	if !p.AmountPaid.IsPositive() {
		return generic.InvalidPayment("amountPaid", "must be positive, got %s", p.AmountPaid.String())
	}
	if p.PricePerPiece.IsNegative() {
		return generic.InvalidPayment("pricePerPiece", "must not be negative")
	}
	if p.NetQty < 0 {
		return generic.InvalidPayment("netQty", "must not be negative")
	}
	return nil
}

// Status of a unit of forwarded work.
type Status string

const (
	StatusUnpaid        Status = "Unpaid"
	StatusPartiallyPaid Status = "Partially Paid"
	StatusPaid          Status = "Paid"
)

// MatchTier records which correlation rule produced AmountPaid.
type MatchTier string

const (
	TierForwardEvent  MatchTier = "forward_event"
	TierVendorJobWork MatchTier = "vendor_job_work"
	TierVendor        MatchTier = "vendor"
	TierNone          MatchTier = "none"
)

// PaymentStatus is the reconciliation of one billable forward event.
type PaymentStatus struct {
	VoucherID      generic.VoucherID   `json:"voucherId"`
	ForwardEventID generic.EventID     `json:"forwardEventId"`
	VendorID       generic.UserID      `json:"vendorId"`
	JobWork        string              `json:"jobWork"`
	ForwardedAt    time.Time           `json:"forwardedAt"`
	PricePerPiece  generic.Money       `json:"pricePerPiece"`
	Quantity       int                 `json:"quantity"`
	TotalAmount    generic.Money       `json:"totalAmount"`
	AmountPaid     generic.Money       `json:"amountPaid"`
	PendingAmount  generic.Money       `json:"pendingAmount"`
	Status         Status              `json:"status"`
	MatchedBy      MatchTier           `json:"matchedBy"`
	PaymentIDs     []generic.PaymentID `json:"paymentIds,omitempty"`
}

// NeedsPayment reports whether anything is still owed.
func (s PaymentStatus) NeedsPayment() bool { return s.PendingAmount.IsPositive() }

// UnattributedKind distinguishes events from payments in the warning list.
type UnattributedKind string

const (
	UnattributedEvent   UnattributedKind = "event"
	UnattributedPayment UnattributedKind = "payment"
)

// Unattributed is a record that could not be tied to vendor work.
type Unattributed struct {
	Kind      UnattributedKind  `json:"kind"`
	VoucherID generic.VoucherID `json:"voucherId"`
	ID        string            `json:"id"`
	Reason    string            `json:"reason"`
}

// Result is the reconciliation of one voucher.
type Result struct {
	Statuses     []PaymentStatus `json:"statuses"`
	Needed       []PaymentStatus `json:"paymentsNeeded"`
	Completed    []PaymentStatus `json:"paymentsCompleted"`
	Unattributed []Unattributed  `json:"unattributed,omitempty"`
	TotalBilled  generic.Money   `json:"totalBilled"`
	TotalPaid    generic.Money   `json:"totalPaid"`
	TotalPending generic.Money   `json:"totalPending"`
}
