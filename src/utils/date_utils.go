package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ValueDateFormat is the layout of ValueDate and OrigTxDate fields.
const ValueDateFormat = "060102"

// FormatValueDate renders t as YYMMDD.
func FormatValueDate(t time.Time) string {
	return t.Format(ValueDateFormat)
}

// FormatJulian renders t as the 5-character file date YYDDD.
func FormatJulian(t time.Time) string {
	return fmt.Sprintf("%02d%03d", t.Year()%100, t.YearDay())
}

// ParseJulian parses a YYDDD file date. Two-digit years follow time.Parse's 1969/2068 pivot.
func ParseJulian(s string) (time.Time, error) {
	if len(s) != 5 {
		return time.Time{}, fmt.Errorf("invalid julian date %q: want 5 digits", s)
	}
	year, err := time.Parse("06", s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid julian date %q: %w", s, err)
	}
	day, err := strconv.Atoi(s[2:])
	if err != nil || day < 1 || day > 366 {
		return time.Time{}, fmt.Errorf("invalid julian date %q: day out of range", s)
	}
	t := year.AddDate(0, 0, day-1)
	if t.Year() != year.Year() {
		return time.Time{}, fmt.Errorf("invalid julian date %q: day out of range", s)
	}
	return t, nil
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
