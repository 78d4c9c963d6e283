package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout is the ISO-8601 calendar date format, e.g. "1990-01-01".
const dateLayout = "2006-01-02"

// Date is a calendar date without a time of day or a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{Year: year, Month: month, Day: day}
}

// Today returns the current date in the local time zone.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses an ISO-8601 calendar date like "1990-01-01".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as "YYYY-MM-DD".
func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// Valid reports whether d is a real calendar day with a four digit year, i.e. whether it survives
// formatting and parsing unchanged.
func (d Date) Valid() bool {
	return d.Year >= 0 && d.Year <= 9999 && DateOf(d.Time()) == d
}

// IsZero reports whether d is the zero value.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d lies before other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d lies after other.
func (d Date) After(other Date) bool {
	return d.Time().After(other.Time())
}

// MarshalJSON encodes the date as a "YYYY-MM-DD" string. Dates that are not Valid are rejected
// since they could not be read back.
func (d Date) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid date %d-%02d-%02d", d.Year, int(d.Month), d.Day)
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
