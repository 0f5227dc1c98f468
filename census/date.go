package census

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar date without time of day
// =============================================================================

// Date is a calendar date. The zero value means "absent".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// invalidDateText is what upstream spreadsheets and clients send for a
// date they failed to parse. Treated as absent.
const invalidDateText = "Invalid Date"

// Layouts accepted by ParseDate, tried in order. Single-digit month/day
// layouts also accept zero-padded input.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"1-2-2006",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

// NewDate builds a Date. It does not normalize overflowing days.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Today returns the current date in UTC.
func Today() Date {
	return DateOf(time.Now().UTC())
}

// ParseDate parses loosely formatted date text. Empty, "Invalid Date" and
// unparseable input return ok=false; callers must not substitute a default.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == invalidDateText {
		return Date{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := DateOf(t)
		if !d.valid() {
			return Date{}, false
		}
		return d, true
	}
	return Date{}, false
}

// MustParseDate is ParseDate for fixtures. It panics on input ParseDate
// rejects.
func MustParseDate(s string) Date {
	d, ok := ParseDate(s)
	if !ok {
		panic(fmt.Sprintf("census: invalid date %q", s))
	}
	return d
}

func (d Date) valid() bool {
	if d.Year < 1 || d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return DateOf(d.Time()) == d
}

// IsZero reports whether the date is absent.
func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before compares (year, month, day) tuples.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String formats the date as YYYY-MM-DD, or "" when absent.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts any ParseDate format. Malformed input decodes to
// the zero Date rather than failing the whole payload.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*d = Date{}
		return nil
	}
	parsed, _ := ParseDate(s)
	*d = parsed
	return nil
}

// =============================================================================
// AGE CALCULATOR
// =============================================================================

// AgeAt returns completed years between birth and asOf. It compares
// (month, day) tuples, so a Feb 29 birthday is reached on Mar 1 in common
// years. ok is false when birth is absent.
func AgeAt(birth, asOf Date) (age int, ok bool) {
	if birth.IsZero() || asOf.IsZero() {
		return 0, false
	}
	age = asOf.Year - birth.Year
	if asOf.Month < birth.Month || (asOf.Month == birth.Month && asOf.Day < birth.Day) {
		age--
	}
	return age, true
}

// AgeFromText parses both dates loosely and computes the age.
func AgeFromText(birth, asOf string) (int, bool) {
	b, ok := ParseDate(birth)
	if !ok {
		return 0, false
	}
	e, ok := ParseDate(asOf)
	if !ok {
		return 0, false
	}
	return AgeAt(b, e)
}

// EffectiveDateInPast reports whether the effective date is today or
// earlier. Quotes with a past effective date need re-dating downstream.
func EffectiveDateInPast(effective, today Date) bool {
	return !today.Before(effective)
}

// =============================================================================
// IMPORT DATE NORMALIZATION
// =============================================================================

// importDayShift is added to imported timestamps before taking the date.
// Spreadsheet exports encode local midnight as the previous evening in UTC.
const importDayShift = 10 * time.Hour

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// NormalizeImportDate converts a raw spreadsheet date to YYYY-MM-DD.
// ok is false for input that is not a date.
func NormalizeImportDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == invalidDateText {
		return "", false
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial <= 0 || serial > 2958465 {
			return "", false
		}
		t := excelEpoch.Add(time.Duration(serial * float64(24*time.Hour)))
		return t.Add(importDayShift).UTC().Format("2006-01-02"), true
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return t.Add(importDayShift).UTC().Format("2006-01-02"), true
	}
	return "", false
}
