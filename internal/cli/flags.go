package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pcal/internal/model"
)

// eventFlags are the flags add and check share to describe an event.
type eventFlags struct {
	title       string
	description string
	start       string
	end         string
	repeat      string
	interval    int
	weekdays    []string
	monthDay    int
	until       string
	unit        string
	color       string
	category    string
}

func (f *eventFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.title, "title", "", "event title")
	fl.StringVar(&f.description, "description", "", "event description")
	fl.StringVar(&f.start, "start", "", `start time, RFC 3339 or "2006-01-02T15:04" in the configured timezone`)
	fl.StringVar(&f.end, "end", "", "end time, same formats as --start")
	fl.StringVar(&f.repeat, "repeat", "none", "recurrence (none|daily|weekly|monthly|custom)")
	fl.IntVar(&f.interval, "interval", 1, "recurrence interval (weekly and custom)")
	fl.StringSliceVar(&f.weekdays, "weekdays", nil, "weekdays for weekly rules, e.g. mon,wed")
	fl.IntVar(&f.monthDay, "month-day", 0, "day of month for monthly rules (1-31)")
	fl.StringVar(&f.until, "until", "", "last date of the series (YYYY-MM-DD, inclusive)")
	fl.StringVar(&f.unit, "unit", "", "unit for custom rules (daily|weekly|monthly)")
	fl.StringVar(&f.color, "color", "", "palette colour")
	fl.StringVar(&f.category, "category", "", "category (Work|Personal|Holiday|Other)")
}

// event builds and validates the described event. Wall-clock times are read
// in loc.
func (f *eventFlags) event(loc *time.Location) (model.Event, error) {
	if f.start == "" || f.end == "" {
		return model.Event{}, NewExitError(ExitCommandError, "--start and --end are required")
	}
	start, err := model.ParseWallClock(f.start, loc)
	if err != nil {
		return model.Event{}, WrapExitError(ExitCommandError, "invalid --start", err)
	}
	end, err := model.ParseWallClock(f.end, loc)
	if err != nil {
		return model.Event{}, WrapExitError(ExitCommandError, "invalid --end", err)
	}
	rule, err := f.rule()
	if err != nil {
		return model.Event{}, WrapExitError(ExitCommandError, "invalid recurrence", err)
	}
	ev := model.Event{
		Title:       f.title,
		Description: f.description,
		Color:       f.color,
		Start:       start,
		End:         end,
		Recurrence:  rule,
		Category:    parseCategory(f.category),
	}
	// The id is assigned on create; validate everything else.
	probe := ev
	probe.ID = "new"
	if err := probe.Validate(); err != nil {
		return model.Event{}, WrapExitError(ExitCommandError, "invalid event", err)
	}
	return ev, nil
}

func (f *eventFlags) rule() (*model.RecurrenceRule, error) {
	freq := model.Frequency(strings.ToUpper(strings.TrimSpace(f.repeat)))
	if freq == "" || freq == model.FrequencyNone {
		return nil, nil
	}
	rule := &model.RecurrenceRule{
		Frequency:  freq,
		Interval:   f.interval,
		ByMonthDay: f.monthDay,
	}
	for _, w := range f.weekdays {
		day, err := parseWeekday(w)
		if err != nil {
			return nil, err
		}
		rule.ByWeekday = append(rule.ByWeekday, day)
	}
	if f.until != "" {
		until, err := model.ParseDate(f.until)
		if err != nil {
			return nil, err
		}
		rule.Until = &until
	}
	if f.unit != "" {
		rule.CustomUnit = model.Frequency(strings.ToUpper(strings.TrimSpace(f.unit)))
	}
	return rule, nil
}

var weekdayNames = map[string]time.Weekday{
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
	"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
	"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
	"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	if day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return day, nil
	}
	return 0, fmt.Errorf("%w: %q", model.ErrInvalidWeekday, s)
}

// parseCategory matches case-insensitively; unknown names are passed through
// so validation reports them.
func parseCategory(s string) model.Category {
	s = strings.TrimSpace(s)
	for _, c := range model.Categories {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return model.Category(s)
}

// windowFlags is a [--from, --to] range.
type windowFlags struct {
	from string
	to   string
}

func (w *windowFlags) bind(cmd *cobra.Command, fromHelp, toHelp string) {
	cmd.Flags().StringVar(&w.from, "from", "", fromHelp)
	cmd.Flags().StringVar(&w.to, "to", "", toHelp)
}

func (w *windowFlags) set() bool { return w.from != "" || w.to != "" }

// resolve parses the range. A missing --from is start; a missing --to is
// --from plus span. A bare date for --to covers that whole day.
func (w *windowFlags) resolve(loc *time.Location, start time.Time, span time.Duration) (time.Time, time.Time, error) {
	from := start
	if w.from != "" {
		t, err := model.ParseWallClock(w.from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, WrapExitError(ExitCommandError, "invalid --from", err)
		}
		from = t
	}
	to := from.Add(span)
	if w.to != "" {
		t, err := model.ParseWallClock(w.to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, WrapExitError(ExitCommandError, "invalid --to", err)
		}
		to = t
		if _, dateErr := model.ParseDate(w.to); dateErr == nil {
			to = model.EndOfDay(t)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--to is before --from")
	}
	return from, to, nil
}
