package ics

import (
	"github.com/teambition/rrule-go"

	appLog "pcal/internal/log"
	"pcal/internal/model"
)

// maxInstancesPerSeries caps how many instances of one unsupported series
// are materialized.
const maxInstancesPerSeries = 1000

// expandUnsupported materializes a series whose RRULE the event model cannot
// represent into standalone events over [ExpandFrom, ExpandTo], honouring
// EXDATEs. Each instance points back at the series UID. Without an expansion
// window only the first instance is kept.
func expandUnsupported(pe parsedEvent, opts ParseOptions) []model.Event {
	base := pe.event
	if opts.ExpandTo.IsZero() {
		return []model.Event{base}
	}

	r, err := rrule.StrToRRule(pe.rawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", base.ID, "rrule", pe.rawRRule)
		return []model.Event{base}
	}
	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range pe.exDates {
		set.ExDate(ex.In(base.Start.Location()))
	}

	starts := set.Between(opts.ExpandFrom.In(base.Start.Location()), opts.ExpandTo.In(base.Start.Location()), true)
	if len(starts) > maxInstancesPerSeries {
		appLog.Warn("ics: truncated unsupported series", "uid", base.ID, "cap", maxInstancesPerSeries, "instances", len(starts))
		starts = starts[:maxInstancesPerSeries]
	}

	duration := base.Duration()
	out := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		ev := base.Clone()
		ev.ID = instanceID(base.ID, start)
		ev.OriginalSeriesID = base.ID
		ev.Start = start
		ev.End = start.Add(duration)
		out = append(out, ev)
	}
	return out
}
