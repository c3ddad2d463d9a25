package model

import (
	"slices"
	"strings"
	"time"
)

type Category string

const (
	CategoryNone     Category = ""
	CategoryWork     Category = "Work"
	CategoryPersonal Category = "Personal"
	CategoryHoliday  Category = "Holiday"
	CategoryOther    Category = "Other"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryNone, CategoryWork, CategoryPersonal, CategoryHoliday, CategoryOther:
		return true
	default:
		return false
	}
}

// Categories lists the selectable categories in display order.
var Categories = []Category{CategoryWork, CategoryPersonal, CategoryHoliday, CategoryOther}

// Event is a stored, possibly recurring, calendar entry. Start and End are the
// first occurrence; they are naive wall-clock times interpreted in their own
// location.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	Recurrence     *RecurrenceRule `json:"recurrenceRule,omitempty"`
	ExceptionDates []Date          `json:"exceptionDates,omitempty"`

	// OriginalSeriesID links an occurrence that was edited on its own back to
	// the series it was split from. Expansion ignores it.
	OriginalSeriesID string   `json:"originalSeriesId,omitempty"`
	Category         Category `json:"category,omitempty"`

	// Source is the subscription id for imported events, empty for local ones.
	Source string `json:"source,omitempty"`
}

func (e Event) IsRecurring() bool {
	return e.Recurrence.IsRecurring()
}

func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsDetached reports whether e was split off a series.
func (e Event) IsDetached() bool {
	return e.OriginalSeriesID != "" && e.OriginalSeriesID != e.ID
}

func (e Event) IsException(d Date) bool {
	return slices.Contains(e.ExceptionDates, d)
}

// Clone returns a deep copy of e that shares no slices or pointers with it.
func (e Event) Clone() Event {
	out := e
	out.Recurrence = e.Recurrence.Clone()
	out.ExceptionDates = slices.Clone(e.ExceptionDates)
	return out
}

// WithException returns a copy of e with d added to its exception dates,
// kept sorted and free of duplicates.
func (e Event) WithException(d Date) Event {
	out := e.Clone()
	if out.IsException(d) {
		return out
	}
	out.ExceptionDates = append(out.ExceptionDates, d)
	slices.SortFunc(out.ExceptionDates, Date.Compare)
	return out
}

// Occurrence returns e as its own single occurrence.
func (e Event) Occurrence() DisplayEvent {
	return DisplayEvent{Event: e.Clone(), InstanceDate: DateOf(e.Start), IsInstance: false}
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return invalid("id", ErrMissingField, "event id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title", ErrMissingField, "event title is required")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return invalid("start", ErrMissingField, "start and end are required")
	}
	if !e.End.After(e.Start) {
		return invalid("end", ErrInvalidRange, "%s is not after %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if !e.Category.IsValid() {
		return invalid("category", ErrInvalidCategory, "%q", e.Category)
	}
	if e.Recurrence != nil {
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DisplayEvent is one materialized occurrence. Start and End are the
// occurrence's own times; InstanceDate is its date key.
type DisplayEvent struct {
	Event
	InstanceDate Date `json:"instanceDate"`
	IsInstance   bool `json:"isInstance"`
}

// Overlaps reports whether the half-open intervals of d and o intersect.
// Touching endpoints do not overlap.
func (d DisplayEvent) Overlaps(o DisplayEvent) bool {
	return d.Start.Before(o.End) && d.End.After(o.Start)
}
