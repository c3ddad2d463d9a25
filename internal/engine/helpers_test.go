package engine

import (
	"time"

	"pcal/internal/model"
)

func ts(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func event(id, start, end string) model.Event {
	return model.Event{ID: id, Title: id, Start: ts(start), End: ts(end)}
}

func recurring(id, start, end string, rule model.RecurrenceRule) model.Event {
	ev := event(id, start, end)
	ev.Recurrence = &rule
	return ev
}

func instanceDates(occs []model.DisplayEvent) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.InstanceDate.String())
	}
	return out
}

type key struct {
	id    string
	start time.Time
}

func keys(occs []model.DisplayEvent) map[key]bool {
	out := make(map[key]bool, len(occs))
	for _, o := range occs {
		out[key{id: o.ID, start: o.Start}] = true
	}
	return out
}
