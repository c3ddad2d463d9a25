package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcal/internal/calendar"
	"pcal/internal/capture"
	"pcal/internal/config"
	"pcal/internal/ics"
	"pcal/internal/model"
	"pcal/internal/store"
)

var holidayFeed = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//test//EN",
	"BEGIN:VEVENT",
	"UID:ny",
	"SUMMARY:New Year",
	"DTSTART;VALUE=DATE:20240101",
	"CATEGORIES:Holiday",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:team",
	"SUMMARY:Team lunch",
	"DTSTART:20240105T120000Z",
	"DTEND:20240105T130000Z",
	"RRULE:FREQ=WEEKLY;BYDAY=FR",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

type fakeCapturer struct {
	mu    sync.Mutex
	calls []capture.Options
	err   error
}

func (f *fakeCapturer) Capture(_ context.Context, opts capture.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return f.err
}

func newRefresher(t *testing.T, feedURL string, mutate func(*config.Config)) (*Refresher, *calendar.Service, *fakeCapturer) {
	t.Helper()
	dir := t.TempDir()
	repo, err := store.OpenSQLite(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.ICS = []config.ICSConfig{{ID: "holidays", Name: "Holidays", URL: feedURL}}
	if mutate != nil {
		mutate(cfg)
	}
	svc := calendar.NewService(repo, calendar.Options{Location: time.UTC})
	fc := &fakeCapturer{}
	r := NewRefresher(cfg, svc, ics.NewFetcher(cfg.CacheDir, nil), fc)
	r.now = func() time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) }
	return r, svc, fc
}

func feedServer(t *testing.T, body string, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing != nil && failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncImportsSubscriptions(t *testing.T) {
	srv := feedServer(t, holidayFeed, nil)
	r, svc, _ := newRefresher(t, srv.URL+"/holidays.ics", nil)
	ctx := context.Background()
	var changes atomic.Int32
	svc.OnChange(func() { changes.Add(1) })

	report, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"holidays": 2}, report.Imported)
	assert.Empty(t, report.Failed)
	assert.EqualValues(t, 1, changes.Load(), "a sync notifies views such as the web events cache")

	ny, err := svc.Get(ctx, "holidays:ny")
	require.NoError(t, err)
	assert.Equal(t, "holidays", ny.Source)
	assert.Equal(t, model.CategoryHoliday, ny.Category)

	lunch, err := svc.Get(ctx, "holidays:team")
	require.NoError(t, err)
	require.True(t, lunch.IsRecurring())

	// A second sync replaces rather than duplicates.
	_, err = r.Sync(ctx)
	require.NoError(t, err)
	events, err := svc.List(ctx, store.EventFilter{Source: "holidays"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSyncKeepsEventsWhenSourceFails(t *testing.T) {
	var failing atomic.Bool
	srv := feedServer(t, holidayFeed, &failing)
	r, svc, _ := newRefresher(t, srv.URL+"/holidays.ics", func(c *config.Config) {
		c.ICS = append(c.ICS, config.ICSConfig{ID: "broken", URL: srv.URL + "/broken.ics"})
	})
	ctx := context.Background()

	_, err := r.Sync(ctx)
	require.NoError(t, err)

	failing.Store(true)
	// Both feeds fall back to their cached bodies.
	report, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported["holidays"])

	// Remove the cache: now every source fails and nothing is replaced.
	require.NoError(t, os.RemoveAll(r.cfg.CacheDir))
	report, err = r.Sync(ctx)
	require.Error(t, err)
	assert.Len(t, report.Failed, 2)

	events, err := svc.List(ctx, store.EventFilter{Source: "holidays"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSyncWithoutSources(t *testing.T) {
	r, _, _ := newRefresher(t, "", func(c *config.Config) { c.ICS = nil })
	report, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Imported)
}

func TestExportWritesICS(t *testing.T) {
	r, svc, _ := newRefresher(t, "", func(c *config.Config) { c.ICS = nil })
	ctx := context.Background()
	_, err := svc.Create(ctx, model.Event{
		Title: "Dentist",
		Start: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "pcal.ics")
	n, err := r.Export(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SUMMARY:Dentist")

	parsed, err := ics.Parse(ics.Source{ID: "check"}, data, ics.ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, parsed, 1)
}

func TestRunPerformsEveryStep(t *testing.T) {
	srv := feedServer(t, holidayFeed, nil)
	exportPath := filepath.Join(t.TempDir(), "pcal.ics")
	r, _, fc := newRefresher(t, srv.URL+"/holidays.ics", func(c *config.Config) {
		c.ExportPath = exportPath
		c.Capture.Enabled = true
		c.Listen = "0.0.0.0:9090"
		c.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "pw"}
	})

	require.NoError(t, r.Run(context.Background()))
	assert.FileExists(t, exportPath)
	require.Len(t, fc.calls, 1)
	assert.Equal(t, "http://127.0.0.1:9090/calendar", fc.calls[0].URL)
	assert.Equal(t, "me", fc.calls[0].Username)
	assert.Equal(t, r.cfg.Capture.Output, fc.calls[0].OutputPath)

	fc.err = errors.New("no chromium")
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture: no chromium")
}

func TestRunSkipsDisabledSteps(t *testing.T) {
	r, _, fc := newRefresher(t, "", func(c *config.Config) {
		c.ICS = nil
		c.ExportPath = ""
		c.Capture.Enabled = false
	})
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, fc.calls)
}

func TestParseSpec(t *testing.T) {
	for _, spec := range []string{"*/15 * * * *", "0 6 * * 1-5", "@hourly", "@every 10m"} {
		_, err := ParseSpec(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "* * *", "0 0 0 * * *", "@sometimes"} {
		_, err := ParseSpec(spec)
		assert.Error(t, err, spec)
	}
}

func TestRunner(t *testing.T) {
	_, err := NewRunner("bad", "not a spec", func(context.Context) error { return nil })
	require.Error(t, err)
	_, err = NewRunner("nil", "@hourly", nil)
	require.Error(t, err)

	var calls atomic.Int32
	runner, err := NewRunner("tick", "@every 1s", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, runner.Next().IsZero())

	require.NoError(t, runner.RunNow(context.Background()))
	assert.EqualValues(t, 1, calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, runner.Start(ctx))
	assert.False(t, runner.Next().IsZero())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	runner.Stop()
}

func TestRunNowReportsTaskError(t *testing.T) {
	boom := errors.New("boom")
	runner, err := NewRunner("failing", "@daily", func(context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, runner.RunNow(context.Background()), boom)
}
