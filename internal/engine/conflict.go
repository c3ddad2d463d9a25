package engine

import (
	"time"

	"pcal/internal/model"
)

// Conflict is one overlapping pair found by Conflicts.
type Conflict struct {
	Candidate model.DisplayEvent `json:"candidate"`
	Existing  model.DisplayEvent `json:"existing"`
}

// HasConflict reports whether any occurrence of candidate inside the window
// overlaps an occurrence of another event. Events sharing candidate's id are
// skipped, so an event never conflicts with its own stored version.
//
// Intervals are half-open: an occurrence ending at 11:00 does not conflict
// with one starting at 11:00.
func HasConflict(candidate model.Event, existing []model.Event, windowStart, windowEnd time.Time) bool {
	return anyOverlap(candidateOccurrences(candidate, windowStart, windowEnd), others(existing, candidate.ID, windowStart, windowEnd))
}

// HasOccurrenceConflict is HasConflict for a single already materialized
// occurrence, such as one occurrence being edited on its own. The occurrence
// is checked as-is.
func HasOccurrenceConflict(occ model.DisplayEvent, existing []model.Event, windowStart, windowEnd time.Time) bool {
	return anyOverlap([]model.DisplayEvent{occ}, others(existing, occ.ID, windowStart, windowEnd))
}

// Conflicts returns every overlapping (candidate, existing) pair, ordered by
// candidate occurrence and then existing occurrence start.
func Conflicts(candidate model.Event, existing []model.Event, windowStart, windowEnd time.Time) []Conflict {
	mine := candidateOccurrences(candidate, windowStart, windowEnd)
	theirs := others(existing, candidate.ID, windowStart, windowEnd)

	var out []Conflict
	for _, c := range mine {
		for _, e := range theirs {
			if c.Overlaps(e) {
				out = append(out, Conflict{Candidate: c, Existing: e})
			}
		}
	}
	return out
}

func candidateOccurrences(candidate model.Event, windowStart, windowEnd time.Time) []model.DisplayEvent {
	if candidate.IsRecurring() {
		return Expand([]model.Event{candidate}, windowStart, windowEnd)
	}
	return []model.DisplayEvent{candidate.Occurrence()}
}

func others(existing []model.Event, skipID string, windowStart, windowEnd time.Time) []model.DisplayEvent {
	kept := make([]model.Event, 0, len(existing))
	for _, ev := range existing {
		if ev.ID != skipID {
			kept = append(kept, ev)
		}
	}
	return Expand(kept, windowStart, windowEnd)
}

func anyOverlap(mine, theirs []model.DisplayEvent) bool {
	for _, c := range mine {
		for _, e := range theirs {
			if c.Overlaps(e) {
				return true
			}
		}
	}
	return false
}
