package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Date window, used for financial-year scoping
// =============================================================================

// Period is an inclusive date range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// FINANCIAL YEAR - April 1 to March 31
// =============================================================================

// FinancialYearStartMonth is the month a financial year begins.
const FinancialYearStartMonth = time.April

// FinancialYear identifies the window April 1 StartYear .. March 31 StartYear+1.
type FinancialYear struct {
	StartYear int
}

// FinancialYearFor returns the financial year containing date.
func FinancialYearFor(date TimePoint) FinancialYear {
	year := date.Year()
	if date.Month() < FinancialYearStartMonth {
		year--
	}
	return FinancialYear{StartYear: year}
}

// Period returns the inclusive date range of the financial year.
func (fy FinancialYear) Period() Period {
	start := NewTimePoint(fy.StartYear, FinancialYearStartMonth, 1)
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}

// Contains reports whether date falls in this financial year.
func (fy FinancialYear) Contains(date TimePoint) bool {
	return fy.Period().Contains(date)
}

// Label is the long form, e.g. "2025-26".
func (fy FinancialYear) Label() string {
	return fmt.Sprintf("%d-%02d", fy.StartYear, (fy.StartYear+1)%100)
}

// Code is the short form used inside voucher numbers, e.g. "2526".
func (fy FinancialYear) Code() string {
	return fmt.Sprintf("%02d%02d", fy.StartYear%100, (fy.StartYear+1)%100)
}

// Scope is the counter key for this financial year.
func (fy FinancialYear) Scope() string {
	return "fy" + fy.Label()
}

func (fy FinancialYear) Next() FinancialYear     { return FinancialYear{StartYear: fy.StartYear + 1} }
func (fy FinancialYear) Previous() FinancialYear { return FinancialYear{StartYear: fy.StartYear - 1} }
