/*
ledger.go - Derivations over a voucher's event list

PURPOSE:
  The event list is the source of truth. Status, totals, damage, available
  pieces and sender identity are all computed here by folding over events
  ordered by timestamp. Nothing in this file mutates its input, performs
  I/O, or returns an error for missing optional data.

ORDERING:
  Events are ordered by Timestamp, not by slice position. SortEvents is a
  stable sort, so events sharing a timestamp keep their stored order. Every
  derivation that depends on order takes the sorted list.

STATUS RULE (first match wins):
  1. Completion marker set      -> Completed
  2. Latest event is a forward  -> Forwarded
  3. Latest event is a receive  -> Received
  4. Otherwise                  -> Dispatched

  This is "latest meaningful event", not a guarded state machine. The
  service layer decides which next actions are legal.

AVAILABLE QUANTITY:
  initial - forwarded - damaged_on_arrival - damaged_after_work - missing,
  floored at 0. The ledger reports the figure; it never rejects events.

SENDER RESOLUTION:
  Receives recorded without sender_id are resolved in order:
    1. sender_id on the event itself
    2. parent_event_id pointing at a forward -> that forward's sender
    3. nearest preceding forward to the same receiver -> its sender
    4. unresolved ("Unknown")
  Rule 3 is a heuristic. With two forwards to the same receiver before the
  receive is recorded it attributes the receive to the later one, which can
  be wrong. Results carry the rule used so callers can tell.
*/
package voucher

import (
	"sort"
	"strconv"
	"time"

	"github.com/warp/jobwork-ledger/generic"
)

// SortEvents returns a copy of events ordered by timestamp ascending.
// Events with equal timestamps keep their relative order.
func SortEvents(events []Event) []Event {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

// DeriveStatus computes the voucher status from its completion marker and the
// latest event in ordered.
func DeriveStatus(v *Voucher, ordered []Event) Status {
	if v.IsCompleted() {
		return StatusCompleted
	}
	if len(ordered) == 0 {
		return StatusDispatched
	}
	switch ordered[len(ordered)-1].Type {
	case EventForward:
		return StatusForwarded
	case EventReceive:
		return StatusReceived
	default:
		return StatusDispatched
	}
}

// TotalQuantityReceived sums usable received pieces: quantity_received minus
// damaged_on_arrival, over receive events.
func TotalQuantityReceived(ordered []Event) int {
	total := 0
	for _, e := range ordered {
		if d, ok := e.Receive(); ok {
			total += d.QuantityReceived - d.Discrepancies.DamagedOnArrival
		}
	}
	return total
}

// TotalQuantityForwarded sums quantity_forwarded over forward events.
func TotalQuantityForwarded(ordered []Event) int {
	total := 0
	for _, e := range ordered {
		if d, ok := e.Forward(); ok {
			total += d.QuantityForwarded
		}
	}
	return total
}

// Damage aggregates write-offs across the voucher.
type Damage struct {
	OnArrival int `json:"onArrival"`
	AfterWork int `json:"afterWork"`
	Missing   int `json:"missing"`
}

// Total is the number of pieces written off.
func (d Damage) Total() int { return d.OnArrival + d.AfterWork + d.Missing }

// TotalDamage sums damage and shortfall discrepancies.
func TotalDamage(ordered []Event) Damage {
	var dmg Damage
	for _, e := range ordered {
		switch d := e.Details.(type) {
		case ReceiveDetails:
			dmg.OnArrival += d.Discrepancies.DamagedOnArrival
			dmg.Missing += d.Discrepancies.Missing
		case ForwardDetails:
			dmg.AfterWork += d.Discrepancies.DamagedAfterJob
		}
	}
	return dmg
}

// TotalQuantityDispatched sums quantity_dispatched over dispatch events.
func TotalQuantityDispatched(ordered []Event) int {
	total := 0
	for _, e := range ordered {
		if d, ok := e.Dispatch(); ok {
			total += d.QuantityDispatched
		}
	}
	return total
}

// CurrentAvailableQuantity is the number of pieces still in the pipeline,
// neither forwarded onward nor written off. Never negative.
func CurrentAvailableQuantity(v *Voucher) int {
	return availableFrom(v.Item.InitialQuantity, v.Events)
}

func availableFrom(initial int, events []Event) int {
	available := initial - TotalQuantityForwarded(events) - TotalDamage(events).Total()
	if available < 0 {
		return 0
	}
	return available
}

// AvailableForSender is what sender holds at the end of ordered: usable
// pieces it received, minus what it forwarded, minus what it damaged during
// work. The result may be negative when the stored history already violates
// the invariant; callers use it to validate a new forward before appending.
func AvailableForSender(ordered []Event, sender generic.UserID) int {
	held := 0
	for _, e := range ordered {
		switch d := e.Details.(type) {
		case ReceiveDetails:
			if d.ReceiverID == sender {
				held += d.QuantityReceived - d.Discrepancies.DamagedOnArrival
			}
		case ForwardDetails:
			if d.SenderID == sender {
				held -= d.QuantityForwarded + d.Discrepancies.DamagedAfterJob
			}
		}
	}
	return held
}

// PendingReceipt is the number of pieces sent to receiver that it has not yet
// accounted for. A receive accounts for the pieces it received and the pieces
// it reported missing, so a shortfall cannot be received again later.
func PendingReceipt(ordered []Event, receiver generic.UserID) int {
	pending := 0
	for _, e := range ordered {
		switch d := e.Details.(type) {
		case DispatchDetails:
			if d.ReceiverID == receiver {
				pending += d.QuantityDispatched
			}
		case ForwardDetails:
			if d.ReceiverID == receiver {
				pending += d.QuantityForwarded
			}
		case ReceiveDetails:
			if d.ReceiverID == receiver {
				pending -= d.QuantityReceived + d.Discrepancies.Missing
			}
		}
	}
	return pending
}

// =============================================================================
// SENDER RESOLUTION
// =============================================================================

// SenderRule records how a sender was determined.
type SenderRule string

const (
	SenderExplicit     SenderRule = "explicit"
	SenderParentEvent  SenderRule = "parent_event"
	SenderNearestPrior SenderRule = "nearest_prior_forward"
	SenderUnresolved   SenderRule = "unresolved"
)

// SenderResolution is the outcome of ResolveSenderID.
type SenderResolution struct {
	SenderID generic.UserID
	Rule     SenderRule
}

// Resolved reports whether a sender was found.
func (r SenderResolution) Resolved() bool { return r.Rule != SenderUnresolved }

// Display returns the sender id, or "Unknown".
func (r SenderResolution) Display() string {
	if !r.Resolved() {
		return generic.Unknown
	}
	return string(r.SenderID)
}

// ResolveSenderID determines who sent the goods acknowledged by event.
// Events other than receive report their own sender.
func ResolveSenderID(event Event, ordered []Event) SenderResolution {
	switch d := event.Details.(type) {
	case DispatchDetails:
		return explicitOrUnresolved(d.SenderID)
	case ForwardDetails:
		return explicitOrUnresolved(d.SenderID)
	case ReceiveDetails:
		if d.SenderID != "" {
			return SenderResolution{SenderID: d.SenderID, Rule: SenderExplicit}
		}
		if event.ParentEventID != "" {
			for _, p := range ordered {
				if p.ID != event.ParentEventID {
					continue
				}
				if fwd, ok := p.Forward(); ok && fwd.SenderID != "" {
					return SenderResolution{SenderID: fwd.SenderID, Rule: SenderParentEvent}
				}
				break
			}
		}
		for i := positionOf(event, ordered) - 1; i >= 0; i-- {
			fwd, ok := ordered[i].Forward()
			if ok && fwd.ReceiverID == d.ReceiverID && fwd.SenderID != "" {
				return SenderResolution{SenderID: fwd.SenderID, Rule: SenderNearestPrior}
			}
		}
	}
	return SenderResolution{Rule: SenderUnresolved}
}

func explicitOrUnresolved(id generic.UserID) SenderResolution {
	if id == "" {
		return SenderResolution{Rule: SenderUnresolved}
	}
	return SenderResolution{SenderID: id, Rule: SenderExplicit}
}

// positionOf finds event in ordered by id. An event not in the list (e.g.
// one about to be appended) is placed after every event at or before its
// timestamp.
func positionOf(event Event, ordered []Event) int {
	if event.ID != "" {
		for i, e := range ordered {
			if e.ID == event.ID {
				return i
			}
		}
	}
	return sort.Search(len(ordered), func(i int) bool {
		return ordered[i].Timestamp.After(event.Timestamp)
	})
}

// =============================================================================
// FOLD - everything at once
// =============================================================================

// Fold computes the running totals the voucher caches.
func Fold(v *Voucher) Totals {
	dmg := TotalDamage(v.Events)
	t := Totals{
		Dispatched:       TotalQuantityDispatched(v.Events),
		Received:         TotalQuantityReceived(v.Events),
		Forwarded:        TotalQuantityForwarded(v.Events),
		MissingOnArrival: dmg.Missing,
		DamagedOnArrival: dmg.OnArrival,
		DamagedAfterWork: dmg.AfterWork,
	}
	if v.Completion != nil {
		t.AdminReceived = v.Completion.AdminReceivedQuantity
	}
	return t
}

// Summary is the ledger half of the derived view.
type Summary struct {
	Status            Status `json:"status"`
	AvailableQuantity int    `json:"availableQuantity"`
	TotalReceived     int    `json:"totalReceived"`
	TotalForwarded    int    `json:"totalForwarded"`
	Damage            Damage `json:"damage"`
}

// Summarize derives status, available quantity, totals and damage.
func Summarize(v *Voucher) Summary {
	ordered := SortEvents(v.Events)
	return Summary{
		Status:            DeriveStatus(v, ordered),
		AvailableQuantity: availableFrom(v.Item.InitialQuantity, ordered),
		TotalReceived:     TotalQuantityReceived(ordered),
		TotalForwarded:    TotalQuantityForwarded(ordered),
		Damage:            TotalDamage(ordered),
	}
}

// Timeline returns the ordered events followed by the synthetic completed
// event when the voucher is closed.
func Timeline(v *Voucher) []Event {
	ordered := SortEvents(v.Events)
	if v.Completion == nil {
		return ordered
	}
	at := v.Completion.At
	if n := len(ordered); n > 0 && at.Before(ordered[n-1].Timestamp) {
		at = ordered[n-1].Timestamp
	}
	return append(ordered, Event{
		ID:        generic.EventID(v.VoucherNo + "-completed"),
		Type:      EventCompleted,
		Timestamp: at,
		UserID:    v.Completion.By,
	})
}

// ForwardEvents returns the forward events of the voucher in time order.
func ForwardEvents(v *Voucher) []Event {
	var out []Event
	for _, e := range SortEvents(v.Events) {
		if e.Type == EventForward {
			out = append(out, e)
		}
	}
	return out
}

// NextEventID returns the id for the event appended after the current ones.
func NextEventID(v *Voucher) generic.EventID {
	return EventIDFor(v.VoucherNo, len(v.Events)+1)
}

// EventIDFor builds "<voucher_no>-E<seq>".
func EventIDFor(voucherNo string, seq int) generic.EventID {
	return generic.EventID(voucherNo + "-E" + strconv.Itoa(seq))
}

// LatestTimestamp is the timestamp of the most recent event, zero if none.
func LatestTimestamp(v *Voucher) time.Time {
	var latest time.Time
	for _, e := range v.Events {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest
}
