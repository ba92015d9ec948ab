package voucher

import "strconv"

// =============================================================================
// CACHED TOTALS - Read-through cache of the fold
// =============================================================================
//
// Status and Totals are stored on the voucher so list views can filter and
// sort without folding every document. The fold is authoritative:
//   - SyncCache runs on every append, so a voucher written by this service
//     never leaves with a stale cache.
//   - CheckCache finds divergence in documents written elsewhere (imports,
//     older clients, manual edits). The audit job logs and corrects them.
// Trust the cache only for coarse list display. Anything that decides
// quantities or money goes through Summarize/Fold.

// Divergence is one cached field that disagrees with the fold.
type Divergence struct {
	Field   string `json:"field"`
	Cached  string `json:"cached"`
	Derived string `json:"derived"`
}

// CheckCache compares the cached status and totals with the fold.
func CheckCache(v *Voucher) []Divergence {
	var out []Divergence
	if derived := DeriveStatus(v, SortEvents(v.Events)); v.Status != derived {
		out = append(out, Divergence{Field: "voucher_status", Cached: string(v.Status), Derived: string(derived)})
	}

	want := Fold(v)
	fields := []struct {
		name           string
		cached, folded int
	}{
		{"total_dispatched", v.Totals.Dispatched, want.Dispatched},
		{"total_received", v.Totals.Received, want.Received},
		{"total_forwarded", v.Totals.Forwarded, want.Forwarded},
		{"total_missing_on_arrival", v.Totals.MissingOnArrival, want.MissingOnArrival},
		{"total_damaged_on_arrival", v.Totals.DamagedOnArrival, want.DamagedOnArrival},
		{"total_damaged_after_work", v.Totals.DamagedAfterWork, want.DamagedAfterWork},
		{"admin_received_quantity", v.Totals.AdminReceived, want.AdminReceived},
	}
	for _, f := range fields {
		if f.cached != f.folded {
			out = append(out, Divergence{Field: f.name, Cached: strconv.Itoa(f.cached), Derived: strconv.Itoa(f.folded)})
		}
	}
	return out
}

// SyncCache overwrites the cached status and totals with the fold. It reports
// whether anything changed.
func SyncCache(v *Voucher) bool {
	status := DeriveStatus(v, SortEvents(v.Events))
	totals := Fold(v)
	changed := v.Status != status || v.Totals != totals
	v.Status = status
	v.Totals = totals
	return changed
}
