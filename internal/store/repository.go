package store

import (
	"context"
	"errors"

	"pcal/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Source   string
	Category model.Category
	// SeriesID selects occurrences detached from the given series.
	SeriesID string
	// LocalOnly selects events that did not come from a subscription.
	LocalOnly bool
	Limit     int
	Offset    int
}

type Repository interface {
	CreateEvent(ctx context.Context, in model.Event) error
	GetEvent(ctx context.Context, id string) (model.Event, error)
	UpdateEvent(ctx context.Context, in model.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)

	// AddExceptionDate cancels one occurrence of a series. Adding an existing
	// exception date is a no-op.
	AddExceptionDate(ctx context.Context, id string, date model.Date) error
	// DetachOccurrence adds date as an exception of seriesID and stores
	// detached in one transaction. On error neither change is kept.
	DetachOccurrence(ctx context.Context, seriesID string, date model.Date, detached model.Event) error

	// DeleteBySource removes every event imported from source and returns
	// how many were removed.
	DeleteBySource(ctx context.Context, source string) (int64, error)
	// ReplaceSource atomically swaps the events of source for events.
	ReplaceSource(ctx context.Context, source string, events []model.Event) error
}
