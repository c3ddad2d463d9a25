package ics

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"pcal/internal/model"
)

// ErrUnsupportedRule marks an RRULE (or a model rule) that has no exact
// counterpart on the other side.
var ErrUnsupportedRule = errors.New("ics: unsupported recurrence rule")

// maxCountExpansion bounds how many instances are enumerated to turn a
// COUNT into an UNTIL date.
const maxCountExpansion = 5000

var rruleDays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RuleToRRule renders rule as RRULE text ("FREQ=WEEKLY;BYDAY=MO"). start is
// the series start; it anchors UNTIL to the end of the until date in the
// series' location. A nil or NONE rule renders as "".
func RuleToRRule(rule *model.RecurrenceRule, start time.Time) (string, error) {
	if !rule.IsRecurring() {
		return "", nil
	}
	opt := rrule.ROption{Interval: max(rule.Interval, 1)}
	switch rule.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		if len(rule.ByWeekday) == 0 {
			return "", fmt.Errorf("%w: weekly rule without weekdays", ErrUnsupportedRule)
		}
		opt.Freq = rrule.WEEKLY
		opt.Interval = 1
		for _, d := range rule.ByWeekday {
			if d < time.Sunday || d > time.Saturday {
				return "", fmt.Errorf("%w: weekday %d", ErrUnsupportedRule, int(d))
			}
			opt.Byweekday = append(opt.Byweekday, rruleDays[d])
		}
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = 1
		opt.Bymonthday = []int{rule.ByMonthDay}
	case model.FrequencyCustom:
		switch rule.CustomUnit {
		case model.FrequencyDaily:
			opt.Freq = rrule.DAILY
		case model.FrequencyWeekly:
			opt.Freq = rrule.WEEKLY
		case model.FrequencyMonthly:
			opt.Freq = rrule.MONTHLY
		default:
			return "", fmt.Errorf("%w: custom unit %q", ErrUnsupportedRule, rule.CustomUnit)
		}
	default:
		return "", fmt.Errorf("%w: frequency %q", ErrUnsupportedRule, rule.Frequency)
	}
	if rule.Until != nil {
		opt.Until = model.EndOfDay(rule.Until.In(start.Location())).Truncate(time.Second)
	}
	return opt.RRuleString(), nil
}

// RuleFromRRule maps RRULE text onto a RecurrenceRule for a series starting
// at start. Rules the model cannot express exactly (BYSETPOS, YEARLY, nth
// weekdays, several month days, ...) return ErrUnsupportedRule.
func RuleFromRRule(text string, start time.Time) (*model.RecurrenceRule, error) {
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, fmt.Errorf("ics: parse RRULE %q: %w", text, err)
	}
	unsupported := func(why string) error {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedRule, why, text)
	}
	if len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Byyearday)+len(opt.Byweekno)+
		len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return nil, unsupported("BY* part")
	}

	interval := max(opt.Interval, 1)
	weekdays := make([]time.Weekday, 0, len(opt.Byweekday))
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return nil, unsupported("nth weekday")
		}
		d := fromRRuleDay(wd.Day())
		if !slices.Contains(weekdays, d) {
			weekdays = append(weekdays, d)
		}
	}
	slices.Sort(weekdays)

	var rule model.RecurrenceRule
	switch opt.Freq {
	case rrule.DAILY:
		switch {
		case len(opt.Bymonthday) > 0:
			return nil, unsupported("daily by month day")
		case len(weekdays) == 0:
			rule = model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: interval}
		case interval == 1:
			rule = model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, ByWeekday: weekdays}
		default:
			return nil, unsupported("daily interval with weekdays")
		}
	case rrule.WEEKLY:
		switch {
		case len(opt.Bymonthday) > 0:
			return nil, unsupported("weekly by month day")
		case interval == 1 && len(weekdays) == 0:
			rule = model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, ByWeekday: []time.Weekday{start.Weekday()}}
		case interval == 1:
			rule = model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, ByWeekday: weekdays}
		case len(weekdays) == 0 || (len(weekdays) == 1 && weekdays[0] == start.Weekday()):
			rule = model.RecurrenceRule{Frequency: model.FrequencyCustom, Interval: interval, CustomUnit: model.FrequencyWeekly}
		default:
			return nil, unsupported("weekly interval with several weekdays")
		}
	case rrule.MONTHLY:
		switch {
		case len(weekdays) > 0:
			return nil, unsupported("monthly by weekday")
		case len(opt.Bymonthday) > 1:
			return nil, unsupported("several month days")
		case len(opt.Bymonthday) == 1 && (opt.Bymonthday[0] < 1 || opt.Bymonthday[0] > 31):
			return nil, unsupported("negative month day")
		case interval == 1 && len(opt.Bymonthday) == 1:
			rule = model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, ByMonthDay: opt.Bymonthday[0]}
		case interval == 1:
			rule = model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, ByMonthDay: start.Day()}
		case len(opt.Bymonthday) == 0 || opt.Bymonthday[0] == start.Day():
			rule = model.RecurrenceRule{Frequency: model.FrequencyCustom, Interval: interval, CustomUnit: model.FrequencyMonthly}
		default:
			return nil, unsupported("monthly interval on another day")
		}
	default:
		return nil, unsupported("frequency " + opt.Freq.String())
	}

	switch {
	case !opt.Until.IsZero() && dateOnlyUntil(text):
		until := model.DateOf(opt.Until)
		rule.Until = &until
	case !opt.Until.IsZero():
		until := model.DateOf(opt.Until.In(start.Location()))
		rule.Until = &until
	case opt.Count > 0:
		until, err := untilFromCount(*opt, start)
		if err != nil {
			return nil, err
		}
		rule.Until = &until
	}
	return &rule, nil
}

// untilFromCount enumerates a COUNT-limited rule and returns the date of its
// last instance.
func untilFromCount(opt rrule.ROption, start time.Time) (model.Date, error) {
	if opt.Count > maxCountExpansion {
		return model.Date{}, fmt.Errorf("%w: COUNT=%d", ErrUnsupportedRule, opt.Count)
	}
	opt.Dtstart = start
	opt.Interval = max(opt.Interval, 1)
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return model.Date{}, fmt.Errorf("ics: build RRULE: %w", err)
	}
	all := r.All()
	if len(all) == 0 {
		return model.DateOf(start), nil
	}
	return model.DateOf(all[len(all)-1].In(start.Location())), nil
}

// dateOnlyUntil reports whether the UNTIL part is a bare DATE, which must
// not be shifted into the series' location.
func dateOnlyUntil(text string) bool {
	for _, part := range strings.Split(strings.TrimPrefix(strings.ToUpper(text), "RRULE:"), ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok {
			return !strings.Contains(v, "T")
		}
	}
	return false
}

func fromRRuleDay(d int) time.Weekday {
	// rrule-go numbers Monday as 0.
	return time.Weekday((d + 1) % 7)
}
