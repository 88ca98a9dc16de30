// Package period handles contract-month parsing, tenor computation, and
// month arithmetic for the valuation engine. A contract month is carried
// as a typed (year, month) pair from the moment it crosses the storage or
// API boundary — tokens are parsed once, never re-parsed downstream.
package period

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// contractMonthRegex matches the stored contract-month token: {YYYY}-M{MM}
// Example: 2026-M03
var contractMonthRegex = regexp.MustCompile(`^(\d{4})-M(\d{2})$`)

// yearMonthRegex matches the valuation-record label: {YYYY}-{MM}
// Example: 2026-03
var yearMonthRegex = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

var ErrMalformedContractMonth = errors.New("period: malformed contract month")

// Month is a calendar month, the delivery period of a physical or futures
// trade. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

// ParseContractMonth parses a stored contract-month token.
// Format: {YYYY}-M{MM}, e.g. "2026-M03".
func ParseContractMonth(token string) (Month, error) {
	matches := contractMonthRegex.FindStringSubmatch(token)
	if matches == nil {
		return Month{}, fmt.Errorf("%w: %q (expected YYYY-MMM, e.g. 2026-M03)",
			ErrMalformedContractMonth, token)
	}
	return monthFromParts(token, matches[1], matches[2])
}

// ParseYearMonth parses a valuation-record label.
// Format: {YYYY}-{MM}, e.g. "2026-03".
func ParseYearMonth(label string) (Month, error) {
	matches := yearMonthRegex.FindStringSubmatch(label)
	if matches == nil {
		return Month{}, fmt.Errorf("%w: %q (expected YYYY-MM, e.g. 2026-03)",
			ErrMalformedContractMonth, label)
	}
	return monthFromParts(label, matches[1], matches[2])
}

func monthFromParts(token, yearStr, monthStr string) (Month, error) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	if month < 1 || month > 12 {
		return Month{}, fmt.Errorf("%w: %q (month out of range)",
			ErrMalformedContractMonth, token)
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// MonthOf returns the calendar month containing a date.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// String renders the year-month label, e.g. "2026-03".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Token renders the contract-month token, e.g. "2026-M03".
func (m Month) Token() string {
	return fmt.Sprintf("%04d-M%02d", m.Year, int(m.Month))
}

// FirstDay returns the first calendar day of the month at UTC midnight.
func (m Month) FirstDay() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Prev returns the immediately preceding month, wrapping year boundaries
// (Prev of 2026-01 is 2025-12).
func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// ParseMonth accepts either the contract-month token ("2026-M03") or the
// year-month label ("2026-03").
func ParseMonth(s string) (Month, error) {
	if m, err := ParseContractMonth(s); err == nil {
		return m, nil
	}
	return ParseYearMonth(s)
}

// MarshalJSON renders the month as its year-month label.
func (m Month) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either the contract-month token or the year-month
// label, so request bodies can carry the same form the storage layer does.
func (m *Month) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMonth(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TenorFrom returns the number of whole calendar months between a valuation
// date and this delivery month, floored at 0. A contract month at or before
// the valuation month is priced at spot, never at a negative tenor.
func (m Month) TenorFrom(valuationDate time.Time) int {
	tenor := (m.Year-valuationDate.Year())*12 + int(m.Month) - int(valuationDate.Month())
	if tenor < 0 {
		return 0
	}
	return tenor
}
