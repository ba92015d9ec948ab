package voucher

import (
	"fmt"

	"github.com/warp/jobwork-ledger/generic"
)

// Validate rejects structurally invalid events. Missing optional fields
// (sender on a receive, job work, price, transport) are not errors.
func (e Event) Validate() error {
	if e.Timestamp.IsZero() {
		return generic.InvalidEvent("timestamp", "is required")
	}
	switch e.Type {
	case EventDispatch, EventReceive, EventForward:
	case EventCompleted:
		return generic.InvalidEvent("event_type", "completed is derived and cannot be stored")
	default:
		return fmt.Errorf("%w: %q", generic.ErrUnknownEventType, e.Type)
	}
	if e.Details == nil {
		return generic.InvalidEvent("details", "missing for %s event", e.Type)
	}
	if e.Details.EventType() != e.Type {
		return generic.InvalidEvent("details", "%s payload on %s event", e.Details.EventType(), e.Type)
	}
	return e.Details.validate()
}

func (d DispatchDetails) validate() error {
	if d.ReceiverID == "" {
		return generic.InvalidEvent("receiver_id", "is required")
	}
	if d.QuantityDispatched <= 0 {
		return generic.InvalidEvent("quantity_dispatched", "must be positive, got %d", d.QuantityDispatched)
	}
	return nil
}

func (d ReceiveDetails) validate() error {
	if d.ReceiverID == "" {
		return generic.InvalidEvent("receiver_id", "is required")
	}
	if d.QuantityReceived < 0 {
		return generic.InvalidEvent("quantity_received", "must not be negative, got %d", d.QuantityReceived)
	}
	if d.QuantityExpected != nil && *d.QuantityExpected < 0 {
		return generic.InvalidEvent("quantity_expected", "must not be negative")
	}
	if d.Discrepancies.Missing < 0 {
		return generic.InvalidEvent("discrepancies.missing", "must not be negative")
	}
	if d.Discrepancies.DamagedOnArrival < 0 {
		return generic.InvalidEvent("discrepancies.damaged_on_arrival", "must not be negative")
	}
	if d.Discrepancies.DamagedOnArrival > d.QuantityReceived {
		return generic.InvalidEvent("discrepancies.damaged_on_arrival",
			"%d damaged exceeds %d received", d.Discrepancies.DamagedOnArrival, d.QuantityReceived)
	}
	return nil
}

func (d ForwardDetails) validate() error {
	if d.QuantityForwarded < 0 {
		return generic.InvalidEvent("quantity_forwarded", "must not be negative, got %d", d.QuantityForwarded)
	}
	if d.QuantityBeforeJob != nil && *d.QuantityBeforeJob < 0 {
		return generic.InvalidEvent("quantity_before_job", "must not be negative")
	}
	if d.Discrepancies.DamagedAfterJob < 0 {
		return generic.InvalidEvent("discrepancies.damaged_after_job", "must not be negative")
	}
	if d.PricePerPiece != nil && d.PricePerPiece.IsNegative() {
		return generic.InvalidEvent("price_per_piece", "must not be negative")
	}
	return nil
}

// Validate checks the voucher's immutable header.
func (v *Voucher) Validate() error {
	if v.Item.ItemName == "" {
		return generic.InvalidVoucher("item_details.item_name", "is required")
	}
	if v.Item.InitialQuantity <= 0 {
		return generic.InvalidVoucher("item_details.initial_quantity", "must be positive, got %d", v.Item.InitialQuantity)
	}
	if v.Item.SupplierPricePerPiece.IsNegative() {
		return generic.InvalidVoucher("item_details.supplier_price_per_piece", "must not be negative")
	}
	for i, e := range v.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, e.ID, err)
		}
	}
	return nil
}
