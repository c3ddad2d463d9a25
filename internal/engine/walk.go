package engine

import (
	"iter"
	"time"

	"pcal/internal/model"
)

const (
	// MaxWalkSteps caps the number of dates a single recurrence walk visits.
	MaxWalkSteps = 1000
	// HorizonYears is how far past the window end a walk may go.
	HorizonYears = 5
)

// Walk returns the lazy sequence of dates visited when walking ev's
// recurrence forward from ev.Start. Each yielded time keeps ev.Start's clock.
//
// The sequence is finite: it ends after MaxWalkSteps dates or once a date
// reaches windowEnd plus HorizonYears. Non-recurring events yield nothing.
// Whether a visited date actually produces an occurrence is decided by the
// expander, not by the walk.
func Walk(ev model.Event, windowEnd time.Time) iter.Seq[time.Time] {
	rule := ev.Recurrence
	horizon := windowEnd.AddDate(HorizonYears, 0, 0)
	return func(yield func(time.Time) bool) {
		if !rule.IsRecurring() {
			return
		}
		current := ev.Start
		for steps := 0; steps < MaxWalkSteps && current.Before(horizon); steps++ {
			if !yield(current) {
				return
			}
			current = advance(rule, current)
		}
	}
}

// advance moves one walk step. DAILY and CUSTOM honour Interval; WEEKLY and
// MONTHLY visit every day. A step always moves forward by at least a day.
func advance(rule *model.RecurrenceRule, current time.Time) time.Time {
	var next time.Time
	switch rule.Frequency {
	case model.FrequencyDaily:
		next = current.AddDate(0, 0, rule.Interval)
	case model.FrequencyCustom:
		switch rule.CustomUnit {
		case model.FrequencyDaily:
			next = current.AddDate(0, 0, rule.Interval)
		case model.FrequencyWeekly:
			next = current.AddDate(0, 0, 7*rule.Interval)
		case model.FrequencyMonthly:
			next = addMonths(current, rule.Interval)
		default:
			next = current.AddDate(0, 0, 1)
		}
	default:
		next = current.AddDate(0, 0, 1)
	}
	if !next.After(current) {
		next = current.AddDate(0, 0, 1)
	}
	return next
}

// qualifies reports whether a visited date is an occurrence date of rule.
// origin is the series' original start.
func qualifies(rule *model.RecurrenceRule, origin, date time.Time) bool {
	switch rule.Frequency {
	case model.FrequencyDaily:
		return true
	case model.FrequencyWeekly:
		return rule.HasWeekday(date.Weekday())
	case model.FrequencyMonthly:
		return rule.ByMonthDay != 0 && date.Day() == rule.ByMonthDay
	case model.FrequencyCustom:
		switch rule.CustomUnit {
		case model.FrequencyDaily:
			return true
		case model.FrequencyWeekly:
			return date.Weekday() == origin.Weekday()
		case model.FrequencyMonthly:
			return date.Day() == origin.Day()
		}
	}
	return false
}

// addMonths adds n calendar months, clamping the day to the end of the
// target month (Jan 31 + 1 month = Feb 28/29) instead of overflowing.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
