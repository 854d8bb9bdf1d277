// Package core holds the domain types of the expense tracker.
//
// This file contains the calendar value types. Months and dates are plain
// year/month/day triples in ISO form; all arithmetic (month length, leap
// years, day clamping) lives here so the services never touch time zones.
package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMonth is returned when a month identifier is not of the form YYYY-MM.
var ErrInvalidMonth = errors.New("invalid month format, expected YYYY-MM")

// Month identifies a calendar month (year + month number).
type Month struct {
	Year  int
	Month int // 1-12
}

// ParseMonth parses a YYYY-MM identifier. Both fields must be fully
// numeric and zero-padded; trailing or embedded garbage is rejected.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	m := Month{Year: t.Year(), Month: int(t.Month())}
	if err := m.Validate(); err != nil {
		return Month{}, fmt.Errorf("%w: %q", err, s)
	}
	return m, nil
}

// MonthOf returns the month containing the given date.
func MonthOf(d Date) Month {
	return Month{Year: d.Year, Month: d.Month}
}

func (m Month) Validate() error {
	if m.Month < 1 || m.Month > 12 {
		return ErrInvalidMonth
	}
	if m.Year < 1 {
		return ErrInvalidMonth
	}
	return nil
}

// String returns the YYYY-MM form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Days returns the number of days in the month, accounting for leap years.
func (m Month) Days() int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(m.Year, time.Month(m.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// First returns the first calendar day of the month.
func (m Month) First() Date {
	return Date{Year: m.Year, Month: m.Month, Day: 1}
}

// Last returns the last calendar day of the month.
func (m Month) Last() Date {
	return Date{Year: m.Year, Month: m.Month, Day: m.Days()}
}

// AddMonths returns the month n months after (or before, for negative n) this one.
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, time.Month(m.Month+n), 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: int(t.Month())}
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// ClampDay limits a day-of-month to the month's actual length.
// A day_of_month of 31 in a 30-day month clamps to 30.
func (m Month) ClampDay(day int) int {
	if day < 1 {
		return 1
	}
	if n := m.Days(); day > n {
		return n
	}
	return day
}

// Date is a calendar day without time-of-day or zone.
type Date struct {
	Year  int
	Month int // 1-12
	Day   int // 1-31
}

// NewDate builds a date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates a time.Time to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// ParseDate parses a YYYY-MM-DD identifier.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.Month < 1 || d.Month > 12 {
		return ErrInvalidMonth
	}
	if d.Day < 1 || d.Day > (Month{Year: d.Year, Month: d.Month}).Days() {
		return ErrInvalidDay
	}
	return nil
}

// String returns the ISO YYYY-MM-DD form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time returns the date as a UTC midnight time.Time.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether the date is the zero value.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// DaysUntil returns the whole days from d to other (negative if other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}
