package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"time"

	"pcal/internal/calendar"
	"pcal/internal/ics"
	appLog "pcal/internal/log"
	"pcal/internal/model"
	"pcal/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"colorHex": model.ColorHex,
	"clock": func(t time.Time) string {
		return t.Format("15:04")
	},
	"weekdayName": func(d time.Weekday) string {
		return d.String()[:3]
	},
	"weekdays": func(start time.Weekday) []time.Weekday {
		out := make([]time.Weekday, 7)
		for i := range out {
			out[i] = (start + time.Weekday(i)) % 7
		}
		return out
	},
}).ParseFS(templateFS, "templates/*.html"))

type monthPage struct {
	calendar.MonthView
	Title     string
	PrevYear  int
	PrevMonth int
	NextYear  int
	NextMonth int
}

// handleCalendarPage renders the month grid as static HTML. The root element
// carries data-ready="true" once rendered, which the screenshot job waits on.
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
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

	first := model.NewDate(view.Year, view.Month, 1)
	prev, next := model.NewDate(first.Year, first.Month-1, 1), model.NewDate(first.Year, first.Month+1, 1)
	page := monthPage{
		MonthView: view,
		Title:     fmt.Sprintf("%s %d", view.Month, view.Year),
		PrevYear:  prev.Year,
		PrevMonth: int(prev.Month),
		NextYear:  next.Year,
		NextMonth: int(next.Month),
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "month.html", page); err != nil {
		appLog.Error("render month page failed", err, "year", year, "month", int(month))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleExport serves every stored event as an ICS feed. ?local=1 leaves out
// subscribed events.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter := store.EventFilter{LocalOnly: r.URL.Query().Get("local") == "1"}
	events, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := ics.Encode(&buf, events); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.Capture.Output
	if path == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}
