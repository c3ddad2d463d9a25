package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pcal/internal/calendar"
	"pcal/internal/engine"
	appLog "pcal/internal/log"
	"pcal/internal/model"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// defaultRangeDays is the /api/events window when no end is given.
const defaultRangeDays = 7

// eventRequest is the JSON body for creating or updating an event. Start and
// End accept RFC 3339 or naive wall-clock values ("2024-01-15T09:00"), which
// are read in the configured timezone.
type eventRequest struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Color            string                `json:"color"`
	Category         model.Category        `json:"category"`
	Start            string                `json:"start"`
	End              string                `json:"end"`
	Recurrence       *model.RecurrenceRule `json:"recurrenceRule"`
	ExceptionDates   []model.Date          `json:"exceptionDates"`
	OriginalSeriesID string                `json:"originalSeriesId"`
}

// toEvent converts the request. With partial set, empty times stay zero.
func (r eventRequest) toEvent(loc *time.Location, partial bool) (model.Event, error) {
	ev := model.Event{
		ID:               strings.TrimSpace(r.ID),
		Title:            r.Title,
		Description:      r.Description,
		Color:            r.Color,
		Category:         r.Category,
		Recurrence:       r.Recurrence,
		ExceptionDates:   r.ExceptionDates,
		OriginalSeriesID: r.OriginalSeriesID,
	}
	var err error
	if r.Start != "" || !partial {
		if ev.Start, err = parseTime("start", r.Start, loc); err != nil {
			return model.Event{}, err
		}
	}
	if r.End != "" || !partial {
		if ev.End, err = parseTime("end", r.End, loc); err != nil {
			return model.Event{}, err
		}
	}
	return ev, nil
}

// parseTime is model.ParseWallClock reported against a request field.
func parseTime(field, v string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, &model.ValidationError{Field: field, Message: "time is required", Err: model.ErrMissingField}
	}
	t, err := model.ParseWallClock(v, loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: field, Message: fmt.Sprintf("cannot parse %q", v), Err: model.ErrInvalidDate}
	}
	return t, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Message: err.Error(), Err: model.ErrMissingField}
	}
	return nil
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences  []model.DisplayEvent `json:"occurrences"`
	TruncatedIDs []string             `json:"truncatedIds,omitempty"`
	RangeStart   time.Time            `json:"rangeStart"`
	RangeEnd     time.Time            `json:"rangeEnd"`
	DisplayZone  string               `json:"displayTimezone"`
}

// eventsCache holds a cached /api/events response, the window it answers
// and its timestamp.
type eventsCache struct {
	key       string
	resp      eventsResponse
	updatedAt time.Time
}

// handleListEvents returns expanded occurrences within a window.
//
// GET /api/events?start=2024-01-01&end=2024-01-31
//   - start: window start, default today
//   - end:   window end, default start + 7 days
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	loc := s.svc.Location()
	q := r.URL.Query()

	start := model.StartOfDay(s.now().In(loc))
	if v := q.Get("start"); v != "" {
		t, err := parseTime("start", v, loc)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		start = t
	}
	end := start.AddDate(0, 0, defaultRangeDays)
	if v := q.Get("end"); v != "" {
		t, err := parseTime("end", v, loc)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		end = t
	}

	key := start.Format(time.RFC3339Nano) + "|" + end.Format(time.RFC3339Nano)
	if resp, ok := s.cachedEvents(key); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.svc.Expand(r.Context(), start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	occ := res.Occurrences
	if occ == nil {
		occ = []model.DisplayEvent{}
	}
	resp := eventsResponse{
		Occurrences:  occ,
		TruncatedIDs: res.Truncated,
		RangeStart:   start,
		RangeEnd:     end,
		DisplayZone:  loc.String(),
	}
	s.storeEvents(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	ev, err := req.toEvent(s.svc.Location(), false)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	created, err := s.svc.Create(r.Context(), ev)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if req.ID != "" && req.ID != id {
		writeError(w, http.StatusBadRequest, "body id does not match path")
		return
	}
	req.ID = id
	ev, err := req.toEvent(s.svc.Location(), false)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	updated, err := s.svc.Update(r.Context(), ev)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteEvent deletes a series, or one occurrence of it with
// ?scope=instance&date=YYYY-MM-DD.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := calendar.DeleteOptions{Scope: calendar.DeleteScope(q.Get("scope"))}
	if v := q.Get("date"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		opts.InstanceDate = d
	}
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"], opts); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEditOccurrence detaches one occurrence of a series, applying the
// non-empty fields of the body to it.
func (s *Server) handleEditOccurrence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	date, err := model.ParseDate(vars["date"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	patch, err := req.toEvent(s.svc.Location(), true)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	detached, err := s.svc.EditOccurrence(r.Context(), vars["id"], date, patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detached)
}

type conflictRequest struct {
	Event eventRequest `json:"event"`
	Start string       `json:"start"`
	End   string       `json:"end"`
}

type conflictResponse struct {
	HasConflict bool              `json:"hasConflict"`
	Conflicts   []engine.Conflict `json:"conflicts"`
	RangeStart  time.Time         `json:"rangeStart"`
	RangeEnd    time.Time         `json:"rangeEnd"`
}

// handleConflicts checks a candidate event against stored events without
// saving it. The window defaults to the one used on create.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	loc := s.svc.Location()
	var req conflictRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	candidate, err := req.Event.toEvent(loc, false)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := candidate.Validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}

	start, end := s.svc.ConflictWindowFor(candidate)
	if req.Start != "" {
		if start, err = parseTime("start", req.Start, loc); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if req.End != "" {
		if end, err = parseTime("end", req.End, loc); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	conflicts, err := s.svc.CheckConflict(r.Context(), candidate, start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []engine.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflictResponse{
		HasConflict: len(conflicts) > 0,
		Conflicts:   conflicts,
		RangeStart:  start,
		RangeEnd:    end,
	})
}

// handleMonth returns the month grid. year and month default to the current
// month in the configured timezone.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	year, month, err := s.monthParams(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	view, err := s.svc.Month(r.Context(), year, month)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) monthParams(r *http.Request) (int, time.Month, error) {
	now := s.now().In(s.svc.Location())
	year, month := now.Year(), now.Month()
	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 9999 {
			return 0, 0, &model.ValidationError{Field: "year", Message: fmt.Sprintf("%q", v), Err: model.ErrInvalidDate}
		}
		year = n
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			return 0, 0, &model.ValidationError{Field: "month", Message: fmt.Sprintf("%q", v), Err: model.ErrInvalidDate}
		}
		month = time.Month(n)
	}
	return year, month, nil
}

// writeServiceError maps calendar and model errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	var cerr *calendar.ConflictError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: cerr.Error(), Conflicts: cerr.Conflicts})
	case errors.Is(err, calendar.ErrNotFound), errors.Is(err, calendar.ErrNoOccurrence):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrReadOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, calendar.ErrNotRecurring):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
