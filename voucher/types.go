/*
Package voucher models a job-work batch and the events it accumulates.

PURPOSE:
  A Voucher is one batch of goods sent out for processing (dyeing,
  stitching, ...). Its life is an ordered list of Events:

    dispatch ──▶ receive ──▶ forward ──▶ receive ──▶ forward ──▶ (completed)
    admin→V1     V1 ack      V1→V2       V2 ack      V2→admin     admin closes

  Everything downstream code needs (status, available pieces, damage, who
  sent what) is derived by folding over the events. See ledger.go.

EVENT DETAILS:
  Each event type carries its own payload: DispatchDetails, ReceiveDetails
  or ForwardDetails. Event.Details holds exactly one of them and must match
  Event.Type. The "completed" event is synthetic: it is produced by
  Timeline() from the voucher's Completion marker and never stored.

CACHED FIELDS:
  Status and Totals are stored on the voucher for cheap list views. They
  are a cache of the fold, never a source of truth. See cache.go.
*/
package voucher

import (
	"time"

	"github.com/warp/jobwork-ledger/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDispatched Status = "Dispatched"
	StatusReceived   Status = "Received"
	StatusForwarded  Status = "Forwarded"
	StatusCompleted  Status = "Completed"
)

// Rank orders statuses along the canonical pipeline
// Dispatched < Received < Forwarded < Completed.
func (s Status) Rank() int {
	switch s {
	case StatusDispatched:
		return 1
	case StatusReceived:
		return 2
	case StatusForwarded:
		return 3
	case StatusCompleted:
		return 4
	default:
		return 0
	}
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventDispatch EventType = "dispatch"
	EventReceive  EventType = "receive"
	EventForward  EventType = "forward"

	// EventCompleted is synthetic; see Timeline.
	EventCompleted EventType = "completed"
)

// Transport describes the consignment a batch travelled with.
type Transport struct {
	LRNo            string            `json:"lr_no"`
	LRDate          generic.TimePoint `json:"lr_date"`
	TransporterName string            `json:"transporter_name"`
}

// Details is the type-specific payload of an Event.
type Details interface {
	EventType() EventType
	validate() error
}

// DispatchDetails: admin sends the batch to the first vendor.
type DispatchDetails struct {
	SenderID           generic.UserID `json:"sender_id"`
	ReceiverID         generic.UserID `json:"receiver_id"`
	QuantityDispatched int            `json:"quantity_dispatched"`
	JobWork            string         `json:"jobWork"`
	Transport          Transport      `json:"transport"`
}

func (DispatchDetails) EventType() EventType { return EventDispatch }

type ReceiveDiscrepancies struct {
	Missing          int    `json:"missing"`
	DamagedOnArrival int    `json:"damaged_on_arrival"`
	DamageReason     string `json:"damage_reason,omitempty"`
}

// ReceiveDetails: a vendor acknowledges incoming goods. QuantityReceived
// includes the pieces that arrived damaged; Missing pieces never arrived.
type ReceiveDetails struct {
	ReceiverID       generic.UserID       `json:"receiver_id"`
	SenderID         generic.UserID       `json:"sender_id,omitempty"`
	QuantityReceived int                  `json:"quantity_received"`
	QuantityExpected *int                 `json:"quantity_expected,omitempty"`
	Discrepancies    ReceiveDiscrepancies `json:"discrepancies"`
}

func (ReceiveDetails) EventType() EventType { return EventReceive }

type ForwardDiscrepancies struct {
	DamagedAfterJob int `json:"damaged_after_job"`
}

// ForwardDetails: a vendor sends worked goods onward. PricePerPiece is the
// agreed rate for the JobWork done; nil or zero means nothing is billable.
type ForwardDetails struct {
	SenderID          generic.UserID       `json:"sender_id"`
	ReceiverID        generic.UserID       `json:"receiver_id"`
	QuantityForwarded int                  `json:"quantity_forwarded"`
	QuantityBeforeJob *int                 `json:"quantity_before_job,omitempty"`
	JobWork           string               `json:"jobWork"`
	PricePerPiece     *generic.Money       `json:"price_per_piece,omitempty"`
	Discrepancies     ForwardDiscrepancies `json:"discrepancies"`
	Transport         *Transport           `json:"transport,omitempty"`
}

func (ForwardDetails) EventType() EventType { return EventForward }

// Price returns the per-piece rate, zero when unset.
func (d ForwardDetails) Price() generic.Money {
	if d.PricePerPiece == nil {
		return generic.ZeroMoney()
	}
	return *d.PricePerPiece
}

// Event is one immutable state transition of a voucher.
type Event struct {
	ID            generic.EventID
	Type          EventType
	Timestamp     time.Time
	UserID        generic.UserID
	Comment       string
	ParentEventID generic.EventID
	Details       Details
}

func (e Event) Dispatch() (DispatchDetails, bool) {
	d, ok := e.Details.(DispatchDetails)
	return d, ok
}

func (e Event) Receive() (ReceiveDetails, bool) {
	d, ok := e.Details.(ReceiveDetails)
	return d, ok
}

func (e Event) Forward() (ForwardDetails, bool) {
	d, ok := e.Details.(ForwardDetails)
	return d, ok
}

// =============================================================================
// VOUCHER
// =============================================================================

type ItemDetails struct {
	ItemName              string        `json:"item_name"`
	Images                []string      `json:"images"`
	InitialQuantity       int           `json:"initial_quantity"`
	SupplierName          string        `json:"supplier_name"`
	SupplierPricePerPiece generic.Money `json:"supplier_price_per_piece"`
}

// Completion is the admin's explicit close of a voucher after receiving the
// final forwarded goods back.
type Completion struct {
	At                    time.Time      `json:"completed_at"`
	By                    generic.UserID `json:"completed_by"`
	AdminReceivedQuantity int            `json:"admin_received_quantity"`
}

// Totals are the running figures cached on the voucher.
type Totals struct {
	Dispatched       int `json:"total_dispatched"`
	Received         int `json:"total_received"`
	Forwarded        int `json:"total_forwarded"`
	MissingOnArrival int `json:"total_missing_on_arrival"`
	DamagedOnArrival int `json:"total_damaged_on_arrival"`
	DamagedAfterWork int `json:"total_damaged_after_work"`
	AdminReceived    int `json:"admin_received_quantity"`
}

type Voucher struct {
	ID            generic.VoucherID `json:"id"`
	VoucherNo     string            `json:"voucher_no"`
	FinancialYear string            `json:"financial_year"`
	CreatedAt     generic.TimePoint `json:"created_at"`
	CreatedBy     generic.UserID    `json:"created_by_user_id"`
	Item          ItemDetails       `json:"item_details"`
	Events        []Event           `json:"events"`
	Completion    *Completion       `json:"completion,omitempty"`

	// Cache of the fold; see cache.go.
	Status Status `json:"voucher_status"`
	Totals

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCompleted reports whether the admin has closed the voucher.
func (v *Voucher) IsCompleted() bool { return v != nil && v.Completion != nil }

// FindEvent returns the event with the given id.
func (v *Voucher) FindEvent(id generic.EventID) (Event, bool) {
	for _, e := range v.Events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// Clone returns a copy that shares no mutable state with v. Event details are
// values and are treated as immutable once appended.
func (v *Voucher) Clone() *Voucher {
	c := *v
	c.Item.Images = append([]string(nil), v.Item.Images...)
	c.Events = append([]Event(nil), v.Events...)
	if v.Completion != nil {
		done := *v.Completion
		c.Completion = &done
	}
	return &c
}
