package models

import "time"

// Polarity is the credit/debit direction of a transaction code.
type Polarity string

const (
	Credit Polarity = "credit"
	Debit  Polarity = "debit"
)

// CodeMaster maps a transaction code to its polarity.
type CodeMaster map[string]Polarity

// CodeMapping maps a legacy or invalid code to its replacement.
type CodeMapping map[string]string

const holidayKeyLayout = "2006-01-02"

// HolidayCalendar is a set of calendar dates that are not business days.
type HolidayCalendar struct {
	dates map[string]struct{}
}

// NewHolidayCalendar builds a calendar from the given dates; the time-of-day is ignored.
func NewHolidayCalendar(dates []time.Time) HolidayCalendar {
	c := HolidayCalendar{dates: make(map[string]struct{}, len(dates))}
	for _, d := range dates {
		c.dates[d.Format(holidayKeyLayout)] = struct{}{}
	}
	return c
}

// IsHoliday reports whether t's calendar day is in the calendar.
func (c HolidayCalendar) IsHoliday(t time.Time) bool {
	_, ok := c.dates[t.Format(holidayKeyLayout)]
	return ok
}

// Len returns the number of holidays.
func (c HolidayCalendar) Len() int { return len(c.dates) }

// ReferenceData is the read-only snapshot of reference tables used for one run.
// Pipeline stages receive it explicitly and never modify it.
type ReferenceData struct {
	Master   CodeMaster
	Mappings CodeMapping
	Holidays HolidayCalendar
	LoadedAt time.Time
}

// NewReferenceData copies the given tables into a new snapshot.
func NewReferenceData(master CodeMaster, mappings CodeMapping, holidays []time.Time) *ReferenceData {
	m := make(CodeMaster, len(master))
	for k, v := range master {
		m[k] = v
	}
	mp := make(CodeMapping, len(mappings))
	for k, v := range mappings {
		mp[k] = v
	}
	return &ReferenceData{
		Master:   m,
		Mappings: mp,
		Holidays: NewHolidayCalendar(holidays),
		LoadedAt: time.Now(),
	}
}
