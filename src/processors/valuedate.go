package processors

import (
	"time"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/utils"
)

// ValueDatePolicy is one value-dating rule set.
type ValueDatePolicy struct {
	Name string
	// Cutoff is the local clock time, as an offset from 00:00, at or after which
	// same-day value is no longer offered.
	Cutoff time.Duration
	// LeadBusinessDays pushes the suggestion further out by whole business days.
	LeadBusinessDays int
}

// DefaultCutoff is the same-day cutoff for normal batches.
const DefaultCutoff = 15 * time.Hour

type valueDateAdvisorImpl struct {
	normal ValueDatePolicy
	salary ValueDatePolicy
}

func NewValueDateAdvisor(normal, salary ValueDatePolicy) ValueDateAdvisor {
	return &valueDateAdvisorImpl{normal: normal, salary: salary}
}

func (a *valueDateAdvisorImpl) Suggest(now time.Time, batch models.BatchType, holidays models.HolidayCalendar) time.Time {
	if batch == models.BatchSalary {
		return SuggestValueDate(now, a.salary, holidays)
	}
	return SuggestValueDate(now, a.normal, holidays)
}

// SuggestValueDate returns today when now is a business day before the cutoff,
// otherwise the next business day; then skips LeadBusinessDays more business days.
// The result is never earlier than now's calendar day and never a weekend or holiday.
func SuggestValueDate(now time.Time, policy ValueDatePolicy, holidays models.HolidayCalendar) time.Time {
	day := utils.DateOnly(now)
	var suggested time.Time
	if IsBusinessDay(day, holidays) && clockTime(now) < policy.Cutoff {
		suggested = day
	} else {
		suggested = NextBusinessDay(day, holidays)
	}
	for i := 0; i < policy.LeadBusinessDays; i++ {
		suggested = NextBusinessDay(suggested, holidays)
	}
	return suggested
}

// clockTime is the wall-clock reading of t as an offset from 00:00. Unlike
// t.Sub(midnight) it is unaffected by a DST shift earlier that day.
func clockTime(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

// IsBusinessDay reports whether day is a weekday absent from the holiday calendar.
func IsBusinessDay(day time.Time, holidays models.HolidayCalendar) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays.IsHoliday(day)
}

// NextBusinessDay returns the first business day strictly after day.
func NextBusinessDay(day time.Time, holidays models.HolidayCalendar) time.Time {
	next := utils.DateOnly(day).AddDate(0, 0, 1)
	for !IsBusinessDay(next, holidays) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
