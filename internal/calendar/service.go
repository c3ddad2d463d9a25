// Package calendar is the application layer over the event store: it
// validates input, assigns ids, checks conflicts and turns stored series
// into occurrences for the views.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pcal/internal/engine"
	appLog "pcal/internal/log"
	"pcal/internal/model"
	"pcal/internal/store"
)

// Options configures a Service. Zero values are replaced by defaults.
type Options struct {
	// ConflictWindow is how far past an event's start conflicts are checked.
	ConflictWindow time.Duration
	// RejectConflicts turns detected conflicts into *ConflictError.
	RejectConflicts bool
	WeekStart       time.Weekday
	// Location interprets naive wall-clock input and decides "today".
	Location *time.Location
	IDs      IDGenerator
	Now      func() time.Time
}

const defaultConflictWindow = 365 * 24 * time.Hour

// Service is safe for concurrent use. Writes are serialized so a conflict
// check and the write it guards see the same stored events.
type Service struct {
	repo store.Repository
	opts Options

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func()
}

func NewService(repo store.Repository, opts Options) *Service {
	if opts.ConflictWindow <= 0 {
		opts.ConflictWindow = defaultConflictWindow
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, opts: opts}
}

// OnChange registers fn to be called after every successful write,
// including subscription imports.
func (s *Service) OnChange(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Service) notify() {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, fn := range s.listeners {
		fn()
	}
}

func (s *Service) Location() *time.Location {
	return s.opts.Location
}

func (s *Service) Get(ctx context.Context, id string) (model.Event, error) {
	ev, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return model.Event{}, notFound(id, err)
	}
	return ev, nil
}

func (s *Service) List(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
	return s.repo.ListEvents(ctx, filter)
}

// Create stores a new event. An empty id is filled in and an empty colour
// defaults to the first palette entry.
func (s *Service) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	ev = ev.Clone()
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = s.opts.IDs.NewID()
	}
	if ev.Color == "" {
		ev.Color = model.DefaultColor
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	existing, err := s.repo.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return model.Event{}, err
	}
	if err := s.checkConflicts(ev, existing); err != nil {
		return model.Event{}, err
	}
	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		return model.Event{}, fmt.Errorf("create event %s: %w", ev.ID, err)
	}
	s.notify()
	appLog.Info("event created", "id", ev.ID, "title", ev.Title, "recurring", ev.IsRecurring())
	return ev, nil
}

// Update replaces a stored event. The stored Source is kept; subscribed
// events cannot be edited.
func (s *Service) Update(ctx context.Context, ev model.Event) (model.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(ctx, ev.ID)
	if err != nil {
		return model.Event{}, err
	}
	if current.Source != "" {
		return model.Event{}, fmt.Errorf("%w: %q", ErrReadOnly, ev.ID)
	}
	ev = ev.Clone()
	ev.Source = current.Source
	if ev.Color == "" {
		ev.Color = current.Color
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	existing, err := s.repo.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return model.Event{}, err
	}
	if err := s.checkConflicts(ev, existing); err != nil {
		return model.Event{}, err
	}
	if err := s.repo.UpdateEvent(ctx, ev); err != nil {
		return model.Event{}, notFound(ev.ID, err)
	}
	s.notify()
	appLog.Info("event updated", "id", ev.ID)
	return ev, nil
}

// DeleteScope selects what Delete removes.
type DeleteScope string

const (
	// ScopeSeries deletes the event, and with it every occurrence.
	ScopeSeries DeleteScope = "series"
	// ScopeInstance cancels a single occurrence of a series.
	ScopeInstance DeleteScope = "instance"
)

type DeleteOptions struct {
	Scope DeleteScope
	// InstanceDate is the occurrence to cancel with ScopeInstance.
	InstanceDate model.Date
}

func (s *Service) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if ev.Source != "" {
		return fmt.Errorf("%w: %q", ErrReadOnly, id)
	}
	switch opts.Scope {
	case ScopeSeries, "":
		if err := s.repo.DeleteEvent(ctx, id); err != nil {
			return notFound(id, err)
		}
		s.notify()
		appLog.Info("event deleted", "id", id)
		return nil
	case ScopeInstance:
		if !ev.IsRecurring() {
			return fmt.Errorf("%w: %q", ErrNotRecurring, id)
		}
		if opts.InstanceDate.IsZero() {
			return &model.ValidationError{Field: "date", Message: "instance date is required", Err: model.ErrMissingField}
		}
		if err := s.repo.AddExceptionDate(ctx, id, opts.InstanceDate); err != nil {
			return notFound(id, err)
		}
		s.notify()
		appLog.Info("occurrence cancelled", "id", id, "date", opts.InstanceDate.String())
		return nil
	default:
		return &model.ValidationError{Field: "scope", Message: fmt.Sprintf("%q", opts.Scope), Err: ErrInvalidScope}
	}
}

// EditOccurrence detaches the occurrence of seriesID on date: the series
// gets date as an exception and patch is stored as a standalone event
// pointing back at the series. Zero fields of patch are taken from the
// occurrence.
func (s *Service) EditOccurrence(ctx context.Context, seriesID string, date model.Date, patch model.Event) (model.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return model.Event{}, err
	}
	if series.Source != "" {
		return model.Event{}, fmt.Errorf("%w: %q", ErrReadOnly, seriesID)
	}
	if !series.IsRecurring() {
		return model.Event{}, fmt.Errorf("%w: %q", ErrNotRecurring, seriesID)
	}
	occ, ok := occurrenceOn(series, date)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s on %s", ErrNoOccurrence, seriesID, date)
	}

	detached := mergeOccurrence(occ.Event, patch)
	detached.ID = s.opts.IDs.NewID()
	detached.OriginalSeriesID = seriesID
	detached.Recurrence = nil
	detached.ExceptionDates = nil
	detached.Source = ""
	if err := detached.Validate(); err != nil {
		return model.Event{}, err
	}

	existing, err := s.repo.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return model.Event{}, err
	}
	for i := range existing {
		if existing[i].ID == seriesID {
			existing[i] = existing[i].WithException(date)
		}
	}
	if err := s.checkConflicts(detached, existing); err != nil {
		return model.Event{}, err
	}

	if err := s.repo.DetachOccurrence(ctx, seriesID, date, detached); err != nil {
		return model.Event{}, fmt.Errorf("detach occurrence %s on %s: %w", seriesID, date, notFound(seriesID, err))
	}
	s.notify()
	appLog.Info("occurrence detached", "series", seriesID, "date", date.String(), "id", detached.ID)
	return detached, nil
}

func occurrenceOn(series model.Event, date model.Date) (model.DisplayEvent, bool) {
	day := date.In(series.Start.Location())
	for _, occ := range engine.Expand([]model.Event{series}, day, day) {
		if occ.ID == series.ID && occ.InstanceDate == date {
			return occ, true
		}
	}
	return model.DisplayEvent{}, false
}

func mergeOccurrence(base, patch model.Event) model.Event {
	out := base.Clone()
	if patch.Title != "" {
		out.Title = patch.Title
	}
	if patch.Description != "" {
		out.Description = patch.Description
	}
	if patch.Color != "" {
		out.Color = patch.Color
	}
	if patch.Category != "" {
		out.Category = patch.Category
	}
	if !patch.Start.IsZero() {
		out.Start = patch.Start
	}
	if !patch.End.IsZero() {
		out.End = patch.End
	}
	return out
}

// Occurrences expands every stored event over [start, end].
func (s *Service) Occurrences(ctx context.Context, start, end time.Time) ([]model.DisplayEvent, error) {
	res, err := s.Expand(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return res.Occurrences, nil
}

// Expand is Occurrences with the ids of truncated series.
func (s *Service) Expand(ctx context.Context, start, end time.Time) (engine.Result, error) {
	if end.Before(start) {
		return engine.Result{}, &model.ValidationError{Field: "end", Message: "window end is before its start", Err: model.ErrInvalidRange}
	}
	events, err := s.repo.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return engine.Result{}, err
	}
	res := engine.ExpandReport(events, start, end)
	for _, id := range res.Truncated {
		appLog.Warn("recurrence walk truncated", "id", id, "window_start", start, "window_end", end, "max_steps", engine.MaxWalkSteps)
	}
	return res, nil
}

// CheckConflict lists the overlaps candidate would have with stored events
// over [start, end]. Nothing is stored.
func (s *Service) CheckConflict(ctx context.Context, candidate model.Event, start, end time.Time) ([]engine.Conflict, error) {
	if end.Before(start) {
		return nil, &model.ValidationError{Field: "end", Message: "window end is before its start", Err: model.ErrInvalidRange}
	}
	existing, err := s.repo.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return nil, err
	}
	return engine.Conflicts(candidate, existing, start, end), nil
}

// ConflictWindowFor is the window create and update check ev over.
func (s *Service) ConflictWindowFor(ev model.Event) (time.Time, time.Time) {
	if ev.IsRecurring() {
		return ev.Start, ev.Start.Add(s.opts.ConflictWindow)
	}
	return ev.Start, ev.End
}

// checkConflicts checks ev over its conflict window: its own span for a
// single event, or ConflictWindow past its start for a series.
func (s *Service) checkConflicts(ev model.Event, existing []model.Event) error {
	start, end := s.ConflictWindowFor(ev)
	conflicts := engine.Conflicts(ev, existing, start, end)
	if len(conflicts) == 0 {
		return nil
	}
	if s.opts.RejectConflicts {
		return &ConflictError{Conflicts: conflicts}
	}
	appLog.Warn("event overlaps existing events", "id", ev.ID, "conflicts", len(conflicts), "first", conflicts[0].Existing.ID)
	return nil
}

// Import replaces every event of a subscription source. Ids are namespaced
// by source; invalid events are skipped and logged.
func (s *Service) Import(ctx context.Context, source string, events []model.Event) (int, error) {
	if strings.TrimSpace(source) == "" {
		return 0, &model.ValidationError{Field: "source", Message: "source is required", Err: model.ErrMissingField}
	}
	kept := make([]model.Event, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		ev = ev.Clone()
		ev.ID = SourceID(source, ev.ID)
		if ev.OriginalSeriesID != "" {
			ev.OriginalSeriesID = SourceID(source, ev.OriginalSeriesID)
		}
		ev.Source = source
		if ev.Color == "" {
			ev.Color = model.DefaultColor
		}
		if err := ev.Validate(); err != nil {
			appLog.Warn("skipping invalid subscribed event", "source", source, "id", ev.ID, "err", err.Error())
			continue
		}
		if seen[ev.ID] {
			appLog.Warn("skipping duplicate subscribed event", "source", source, "id", ev.ID)
			continue
		}
		seen[ev.ID] = true
		kept = append(kept, ev)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.repo.ReplaceSource(ctx, source, kept); err != nil {
		return 0, fmt.Errorf("import %s: %w", source, err)
	}
	s.notify()
	appLog.Info("subscription imported", "source", source, "events", len(kept), "skipped", len(events)-len(kept))
	return len(kept), nil
}

// SourceID namespaces an imported id by its subscription.
func SourceID(source, id string) string {
	prefix := source + ":"
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}
