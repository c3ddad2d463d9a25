package model

import (
	"slices"
	"time"
)

type Frequency string

const (
	FrequencyNone    Frequency = "NONE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	default:
		return false
	}
}

// IsCustomUnit reports whether f may be used as RecurrenceRule.CustomUnit.
func (f Frequency) IsCustomUnit() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// RecurrenceRule describes how a series repeats.
//
// Interval is honoured by DAILY and by CUSTOM (in units of CustomUnit). WEEKLY
// and MONTHLY select days by ByWeekday / ByMonthDay and ignore Interval.
type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency" yaml:"frequency"`
	Interval   int            `json:"interval" yaml:"interval"`
	ByWeekday  []time.Weekday `json:"byweekday,omitempty" yaml:"byweekday,omitempty"`
	ByMonthDay int            `json:"bymonthday,omitempty" yaml:"bymonthday,omitempty"`
	Until      *Date          `json:"until,omitempty" yaml:"until,omitempty"`
	CustomUnit Frequency      `json:"customUnit,omitempty" yaml:"custom_unit,omitempty"`
}

// IsRecurring is false for a nil rule, an empty frequency and NONE.
func (r *RecurrenceRule) IsRecurring() bool {
	return r != nil && r.Frequency != "" && r.Frequency != FrequencyNone
}

func (r *RecurrenceRule) HasWeekday(w time.Weekday) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.ByWeekday, w)
}

func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	out.ByWeekday = slices.Clone(r.ByWeekday)
	if r.Until != nil {
		until := *r.Until
		out.Until = &until
	}
	return &out
}

func (r RecurrenceRule) Validate() error {
	if !r.Frequency.IsValid() {
		return invalid("recurrenceRule.frequency", ErrInvalidFrequency, "%q", r.Frequency)
	}
	if r.Frequency == FrequencyNone {
		return nil
	}
	if r.Interval < 1 {
		return invalid("recurrenceRule.interval", ErrInvalidInterval, "%d", r.Interval)
	}
	seen := make(map[time.Weekday]bool, len(r.ByWeekday))
	for _, w := range r.ByWeekday {
		if w < time.Sunday || w > time.Saturday {
			return invalid("recurrenceRule.byweekday", ErrInvalidWeekday, "%d", int(w))
		}
		if seen[w] {
			return invalid("recurrenceRule.byweekday", ErrInvalidWeekday, "duplicate %s", w)
		}
		seen[w] = true
	}
	switch r.Frequency {
	case FrequencyMonthly:
		if r.ByMonthDay < 1 || r.ByMonthDay > 31 {
			return invalid("recurrenceRule.bymonthday", ErrInvalidMonthDay, "%d", r.ByMonthDay)
		}
	case FrequencyCustom:
		if !r.CustomUnit.IsCustomUnit() {
			return invalid("recurrenceRule.customUnit", ErrInvalidCustomUnit, "%q", r.CustomUnit)
		}
	}
	if r.ByMonthDay < 0 || r.ByMonthDay > 31 {
		return invalid("recurrenceRule.bymonthday", ErrInvalidMonthDay, "%d", r.ByMonthDay)
	}
	return nil
}
