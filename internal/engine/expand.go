package engine

import (
	"slices"
	"time"

	"pcal/internal/model"
)

// Result is the outcome of ExpandReport.
type Result struct {
	// Occurrences are sorted by start and unique per (event id, start).
	Occurrences []model.DisplayEvent
	// Truncated lists series whose walk hit MaxWalkSteps before leaving the
	// window, so some in-window occurrences may be missing. This is a
	// report, not an error.
	Truncated []string
}

// Expand returns every occurrence of events that intersects the window
// [windowStart, windowEnd]. The window is widened to whole days: it runs from
// the start of windowStart's day to the end of windowEnd's day.
//
// Non-recurring events yield themselves (IsInstance false). Recurring events
// yield one occurrence per qualifying date that is neither an exception date
// nor after the rule's Until date, at the series' clock time and duration.
func Expand(events []model.Event, windowStart, windowEnd time.Time) []model.DisplayEvent {
	return ExpandReport(events, windowStart, windowEnd).Occurrences
}

// ExpandReport is Expand plus the list of series truncated by the step cap.
func ExpandReport(events []model.Event, windowStart, windowEnd time.Time) Result {
	w := newWindow(windowStart, windowEnd)
	acc := newAccumulator(len(events))
	var truncated []string

	for _, ev := range events {
		if !ev.IsRecurring() {
			if w.intersects(ev.Start, ev.End) {
				acc.add(ev.Occurrence())
			}
			continue
		}
		if expandSeries(ev, w, acc) {
			truncated = append(truncated, ev.ID)
		}
	}

	return Result{Occurrences: acc.sorted(), Truncated: truncated}
}

// expandSeries adds the in-window occurrences of a recurring event and
// reports whether the walk was cut off by the step cap.
func expandSeries(ev model.Event, w window, acc *accumulator) bool {
	rule := ev.Recurrence
	duration := ev.Duration()
	exceptions := make(map[model.Date]bool, len(ev.ExceptionDates))
	for _, d := range ev.ExceptionDates {
		exceptions[d] = true
	}

	steps := 0
	for current := range Walk(ev, w.end) {
		steps++
		date := model.DateOf(current)
		if rule.Until != nil && date.After(*rule.Until) {
			return false
		}
		start := date.At(ev.Start)
		if start.After(w.hi) {
			// Later steps only move forward; nothing else can intersect.
			return false
		}
		if !qualifies(rule, ev.Start, current) || exceptions[date] {
			continue
		}
		end := start.Add(duration)
		if w.intersects(start, end) {
			acc.add(instance(ev, start, end, date))
		}
	}
	return steps >= MaxWalkSteps
}

func instance(ev model.Event, start, end time.Time, date model.Date) model.DisplayEvent {
	out := ev.Clone()
	out.Start = start
	out.End = end
	return model.DisplayEvent{Event: out, InstanceDate: date, IsInstance: true}
}

// window holds the caller's bounds (start, end) and the whole-day bounds
// (lo, hi) derived from them.
type window struct {
	start, end time.Time
	lo, hi     time.Time
}

func newWindow(start, end time.Time) window {
	return window{
		start: start,
		end:   end,
		lo:    model.StartOfDay(start),
		hi:    model.EndOfDay(end),
	}
}

// intersects reports whether an occurrence [s, e) is visible: it starts or
// ends inside the whole-day window, or it spans the caller's window.
func (w window) intersects(s, e time.Time) bool {
	return w.contains(s) || w.contains(e) || (s.Before(w.start) && e.After(w.end))
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.lo) && !t.After(w.hi)
}

type occurrenceKey struct {
	id    string
	start int64
}

// accumulator collects occurrences unique per (id, start). A repeated key
// replaces the earlier occurrence in place, keeping first-seen order.
type accumulator struct {
	index map[occurrenceKey]int
	items []model.DisplayEvent
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		index: make(map[occurrenceKey]int, capacity),
		items: make([]model.DisplayEvent, 0, capacity),
	}
}

func (a *accumulator) add(o model.DisplayEvent) {
	key := occurrenceKey{id: o.ID, start: o.Start.UnixNano()}
	if i, ok := a.index[key]; ok {
		a.items[i] = o
		return
	}
	a.index[key] = len(a.items)
	a.items = append(a.items, o)
}

func (a *accumulator) sorted() []model.DisplayEvent {
	slices.SortStableFunc(a.items, func(x, y model.DisplayEvent) int {
		return x.Start.Compare(y.Start)
	})
	return a.items
}
