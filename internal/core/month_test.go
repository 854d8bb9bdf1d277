package core

import (
	"errors"
	"testing"
)

func TestParseMonth(t *testing.T) {
	cases := []struct {
		in   string
		want Month
		ok   bool
	}{
		{"2024-01", Month{2024, 1}, true},
		{"2024-12", Month{2024, 12}, true},
		{"1999-06", Month{1999, 6}, true},
		{"2024-13", Month{}, false},
		{"2024-00", Month{}, false},
		{"2024-1", Month{}, false},
		{"2024-1x", Month{}, false},
		{"2024-9!", Month{}, false},
		{"2024-011", Month{}, false},
		{"x024-01", Month{}, false},
		{"202403", Month{}, false},
		{"2024/03", Month{}, false},
		{"march", Month{}, false},
		{"", Month{}, false},
	}
	for _, tc := range cases {
		got, err := ParseMonth(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Errorf("ParseMonth(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
			}
		} else if !errors.Is(err, ErrInvalidMonth) {
			t.Errorf("ParseMonth(%q) error = %v, want ErrInvalidMonth", tc.in, err)
		}
	}
}

func TestMonth_Days(t *testing.T) {
	cases := []struct {
		month Month
		want  int
	}{
		{Month{2024, 1}, 31},
		{Month{2024, 2}, 29}, // leap year
		{Month{2025, 2}, 28},
		{Month{2000, 2}, 29}, // divisible by 400
		{Month{1900, 2}, 28}, // divisible by 100 but not 400
		{Month{2024, 4}, 30},
		{Month{2024, 12}, 31},
	}
	for _, tc := range cases {
		if got := tc.month.Days(); got != tc.want {
			t.Errorf("%s.Days() = %d, want %d", tc.month, got, tc.want)
		}
	}
}

func TestMonth_ClampDay(t *testing.T) {
	cases := []struct {
		month Month
		day   int
		want  int
	}{
		{Month{2024, 4}, 31, 30},
		{Month{2024, 2}, 31, 29},
		{Month{2025, 2}, 30, 28},
		{Month{2024, 1}, 31, 31},
		{Month{2024, 6}, 15, 15},
		{Month{2024, 6}, 0, 1},
	}
	for _, tc := range cases {
		if got := tc.month.ClampDay(tc.day); got != tc.want {
			t.Errorf("%s.ClampDay(%d) = %d, want %d", tc.month, tc.day, got, tc.want)
		}
	}
}

func TestMonth_AddMonths(t *testing.T) {
	cases := []struct {
		month Month
		n     int
		want  Month
	}{
		{Month{2024, 6}, 1, Month{2024, 7}},
		{Month{2024, 12}, 1, Month{2025, 1}},
		{Month{2024, 1}, -1, Month{2023, 12}},
		{Month{2024, 6}, -3, Month{2024, 3}},
		{Month{2024, 6}, 0, Month{2024, 6}},
		{Month{2024, 6}, 12, Month{2025, 6}},
	}
	for _, tc := range cases {
		if got := tc.month.AddMonths(tc.n); got != tc.want {
			t.Errorf("%s.AddMonths(%d) = %s, want %s", tc.month, tc.n, got, tc.want)
		}
	}
}

func TestMonth_Bounds(t *testing.T) {
	m := Month{2024, 2}
	if got := m.First(); got != NewDate(2024, 2, 1) {
		t.Errorf("First() = %s", got)
	}
	if got := m.Last(); got != NewDate(2024, 2, 29) {
		t.Errorf("Last() = %s", got)
	}
	if m.String() != "2024-02" {
		t.Errorf("String() = %s", m.String())
	}
}

func TestDate_ParseAndString(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d != NewDate(2024, 2, 29) {
		t.Errorf("parsed = %v", d)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("String() = %s", d.String())
	}

	if _, err := ParseDate("2025-02-29"); err == nil {
		t.Error("expected error for non-leap February 29th")
	}
	if _, err := ParseDate("2024-6-1"); err == nil {
		t.Error("expected error for unpadded date")
	}
}

func TestDate_DaysUntil(t *testing.T) {
	cases := []struct {
		from, to Date
		want     int
	}{
		{NewDate(2024, 6, 10), NewDate(2024, 6, 12), 2},
		{NewDate(2024, 6, 10), NewDate(2024, 7, 1), 21},
		{NewDate(2024, 2, 28), NewDate(2024, 3, 1), 2}, // across leap day
		{NewDate(2024, 6, 10), NewDate(2024, 6, 10), 0},
		{NewDate(2024, 6, 10), NewDate(2024, 6, 8), -2},
	}
	for _, tc := range cases {
		if got := tc.from.DaysUntil(tc.to); got != tc.want {
			t.Errorf("%s.DaysUntil(%s) = %d, want %d", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDate_Validate(t *testing.T) {
	if err := NewDate(2024, 2, 29).Validate(); err != nil {
		t.Errorf("leap day invalid: %v", err)
	}
	if err := NewDate(2025, 2, 29).Validate(); err == nil {
		t.Error("2025-02-29 should be invalid")
	}
	if err := NewDate(2024, 13, 1).Validate(); err == nil {
		t.Error("month 13 should be invalid")
	}
	if err := NewDate(2024, 4, 31).Validate(); err == nil {
		t.Error("April 31st should be invalid")
	}
}
