/*
reconcile.go - Matching payments to forwarded work

ALGORITHM (per forward event with price_per_piece > 0):
  1. totalAmount = price_per_piece x quantity_forwarded
  2. amountPaid  = sum of payments matched by the first tier that finds any:
       forward_event:    payment.forwardEventId == event.event_id
       vendor_job_work:  same voucher, vendorId == sender,
                         jobWorkDone == event jobWork
       vendor:           same voucher, vendorId == sender
  3. pendingAmount = totalAmount - amountPaid
  4. status = Unpaid (paid == 0) | Paid (paid >= total) | Partially Paid

  The fallback tiers sum every payment of the vendor on the voucher,
  including payments keyed to a sibling forward event. An event that has no
  keyed payment of its own can therefore show money paid for another stage.
  The fallback is kept for old data; MatchedBy tells a reviewer the figure
  is a guess rather than an exact match.

SKIPPED RECORDS:
  price_per_piece <= 0       not billable, silently skipped
  no sender or no job work   cannot be attributed, reported in Unattributed
  payment matched by nothing reported in Unattributed

PARTITION:
  Needed    = pendingAmount > 0
  Completed = pendingAmount <= 0

  The voucher view and the vendor account both call Reconcile with the same
  inputs, so they always show the same figures.
*/
package payment

import (
	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/voucher"
)

// Reconcile matches payments against the voucher's forward events.
// Events of other types in forwardEvents are ignored. Payments for other
// vouchers are ignored.
func Reconcile(voucherID generic.VoucherID, forwardEvents []voucher.Event, payments []Payment) Result {
	result := Result{
		TotalBilled:  generic.ZeroMoney(),
		TotalPaid:    generic.ZeroMoney(),
		TotalPending: generic.ZeroMoney(),
	}

	var own []Payment
	for _, p := range payments {
		if p.VoucherID == voucherID {
			own = append(own, p)
		}
	}
	used := make(map[generic.PaymentID]bool)

	for _, e := range forwardEvents {
		fwd, ok := e.Forward()
		if !ok {
			continue
		}
		price := fwd.Price()
		if !price.IsPositive() {
			continue
		}
		if fwd.SenderID == "" || fwd.JobWork == "" {
			result.Unattributed = append(result.Unattributed, Unattributed{
				Kind:      UnattributedEvent,
				VoucherID: voucherID,
				ID:        string(e.ID),
				Reason:    missingAttribution(fwd),
			})
			continue
		}

		matched, tier := match(e.ID, fwd, own)
		paid := generic.ZeroMoney()
		ids := make([]generic.PaymentID, 0, len(matched))
		for _, p := range matched {
			paid = paid.Add(p.AmountPaid)
			ids = append(ids, p.ID)
			used[p.ID] = true
		}

		total := price.MulInt(fwd.QuantityForwarded)
		status := PaymentStatus{
			VoucherID:      voucherID,
			ForwardEventID: e.ID,
			VendorID:       fwd.SenderID,
			JobWork:        fwd.JobWork,
			ForwardedAt:    e.Timestamp,
			PricePerPiece:  price,
			Quantity:       fwd.QuantityForwarded,
			TotalAmount:    total,
			AmountPaid:     paid,
			PendingAmount:  total.Sub(paid),
			Status:         statusFor(total, paid),
			MatchedBy:      tier,
			PaymentIDs:     ids,
		}
		result.add(status)
	}

	for _, p := range own {
		if !used[p.ID] {
			result.Unattributed = append(result.Unattributed, Unattributed{
				Kind:      UnattributedPayment,
				VoucherID: voucherID,
				ID:        string(p.ID),
				Reason:    "no billable forward event matches this payment",
			})
		}
	}
	return result
}

func (r *Result) add(s PaymentStatus) {
	r.Statuses = append(r.Statuses, s)
	if s.NeedsPayment() {
		r.Needed = append(r.Needed, s)
	} else {
		r.Completed = append(r.Completed, s)
	}
	r.TotalBilled = r.TotalBilled.Add(s.TotalAmount)
	r.TotalPaid = r.TotalPaid.Add(s.AmountPaid)
	r.TotalPending = r.TotalPending.Add(s.PendingAmount)
}

// match returns the payments for one forward event and the tier that found them.
func match(eventID generic.EventID, fwd voucher.ForwardDetails, payments []Payment) ([]Payment, MatchTier) {
	var byEvent, byJobWork, byVendor []Payment
	for _, p := range payments {
		switch {
		case p.ForwardEventID == eventID:
			byEvent = append(byEvent, p)
		case p.VendorID == fwd.SenderID && p.JobWorkDone == fwd.JobWork:
			byJobWork = append(byJobWork, p)
			byVendor = append(byVendor, p)
		case p.VendorID == fwd.SenderID:
			byVendor = append(byVendor, p)
		}
	}
	switch {
	case len(byEvent) > 0:
		return byEvent, TierForwardEvent
	case len(byJobWork) > 0:
		return byJobWork, TierVendorJobWork
	case len(byVendor) > 0:
		return byVendor, TierVendor
	default:
		return nil, TierNone
	}
}

func statusFor(total, paid generic.Money) Status {
	switch {
	case paid.IsZero():
		return StatusUnpaid
	case paid.GreaterOrEqual(total):
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

func missingAttribution(fwd voucher.ForwardDetails) string {
	switch {
	case fwd.SenderID == "" && fwd.JobWork == "":
		return "forward event has no sender and no job work"
	case fwd.SenderID == "":
		return "forward event has no sender"
	default:
		return "forward event has no job work"
	}
}

// =============================================================================
// VENDOR ACCOUNT
// =============================================================================

// Account is one vendor's position across vouchers.
type Account struct {
	VendorID     generic.UserID  `json:"vendorId"`
	Needed       []PaymentStatus `json:"paymentsNeeded"`
	Completed    []PaymentStatus `json:"paymentsCompleted"`
	TotalBilled  generic.Money   `json:"totalBilled"`
	TotalPaid    generic.Money   `json:"totalPaid"`
	TotalPending generic.Money   `json:"totalPending"`
}

// AccountFor selects vendorID's entries from per-voucher results. It does
// not re-match anything, so figures equal those of each voucher view.
func AccountFor(vendorID generic.UserID, results []Result) Account {
	acc := Account{
		VendorID:     vendorID,
		TotalBilled:  generic.ZeroMoney(),
		TotalPaid:    generic.ZeroMoney(),
		TotalPending: generic.ZeroMoney(),
	}
	for _, r := range results {
		for _, s := range r.Statuses {
			if s.VendorID != vendorID {
				continue
			}
			if s.NeedsPayment() {
				acc.Needed = append(acc.Needed, s)
			} else {
				acc.Completed = append(acc.Completed, s)
			}
			acc.TotalBilled = acc.TotalBilled.Add(s.TotalAmount)
			acc.TotalPaid = acc.TotalPaid.Add(s.AmountPaid)
			acc.TotalPending = acc.TotalPending.Add(s.PendingAmount)
		}
	}
	return acc
}
