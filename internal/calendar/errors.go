package calendar

import (
	"errors"
	"fmt"
	"strings"

	"pcal/internal/engine"
	"pcal/internal/store"
)

var (
	// ErrNotFound wraps store.ErrNotFound, so either can be matched.
	ErrNotFound     = fmt.Errorf("calendar: event not found: %w", store.ErrNotFound)
	ErrNotRecurring = errors.New("calendar: event is not recurring")
	ErrNoOccurrence = errors.New("calendar: series has no occurrence on that date")
	ErrReadOnly     = errors.New("calendar: subscribed events are read-only")
	ErrInvalidScope = errors.New("calendar: invalid delete scope")
)

// ConflictError is returned by Create, Update and EditOccurrence when
// conflicts are rejected and the event overlaps others.
type ConflictError struct {
	Conflicts []engine.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "calendar: conflict"
	}
	titles := make([]string, 0, len(e.Conflicts))
	seen := make(map[string]bool, len(e.Conflicts))
	for _, c := range e.Conflicts {
		if seen[c.Existing.ID] {
			continue
		}
		seen[c.Existing.ID] = true
		titles = append(titles, fmt.Sprintf("%q", c.Existing.Title))
	}
	first := e.Conflicts[0]
	return fmt.Sprintf("calendar: %d overlapping occurrence(s) with %s, first on %s",
		len(e.Conflicts), strings.Join(titles, ", "), first.Candidate.InstanceDate)
}

func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return err
}
