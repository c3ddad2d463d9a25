package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pcal/internal/calendar"
	"pcal/internal/capture"
	"pcal/internal/config"
	"pcal/internal/ics"
	appLog "pcal/internal/log"
	"pcal/internal/store"
)

// Unsupported subscription rules are materialized this far around now.
const (
	importLookBack  = 90 * 24 * time.Hour
	importLookAhead = 365 * 24 * time.Hour
)

// Refresher is the periodic refresh pass: subscription sync, ICS export and
// preview capture.
type Refresher struct {
	cfg      *config.Config
	svc      *calendar.Service
	fetcher  *ics.Fetcher
	capturer capture.Capturer
	now      func() time.Time
}

// NewRefresher wires a Refresher. A nil fetcher caches under cfg.CacheDir and
// a nil capturer uses headless Chromium.
func NewRefresher(cfg *config.Config, svc *calendar.Service, fetcher *ics.Fetcher, capturer capture.Capturer) *Refresher {
	if fetcher == nil {
		fetcher = ics.NewFetcher(filepath.Join(cfg.CacheDir, "ics"), nil)
	}
	if capturer == nil {
		capturer = capture.Chromium{}
	}
	return &Refresher{cfg: cfg, svc: svc, fetcher: fetcher, capturer: capturer, now: time.Now}
}

// SyncReport is the outcome of one subscription sync.
type SyncReport struct {
	// Imported maps each synced source id to the events it now holds.
	Imported map[string]int
	// Failed maps source ids to the reason they were left untouched.
	Failed map[string]error
}

// Sources converts the configured subscriptions.
func Sources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" || c.ID == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.ID, URL: c.URL})
	}
	return out
}

// Sync fetches every subscription and replaces its events. A source that
// cannot be fetched or parsed keeps its previously imported events.
func (r *Refresher) Sync(ctx context.Context) (SyncReport, error) {
	report := SyncReport{Imported: map[string]int{}, Failed: map[string]error{}}
	sources := Sources(r.cfg)
	if len(sources) == 0 {
		return report, nil
	}

	results, _ := r.fetcher.FetchAll(ctx, sources)
	fetched := make(map[string]bool, len(results))
	now := r.now()
	opts := ics.ParseOptions{
		Location:   r.cfg.Location(),
		ExpandFrom: now.Add(-importLookBack),
		ExpandTo:   now.Add(importLookAhead),
	}
	for _, res := range results {
		fetched[res.Source.ID] = true
		events, err := ics.Parse(res.Source, res.Body, opts)
		if err != nil {
			report.Failed[res.Source.ID] = err
			continue
		}
		n, err := r.svc.Import(ctx, res.Source.ID, events)
		if err != nil {
			report.Failed[res.Source.ID] = err
			continue
		}
		report.Imported[res.Source.ID] = n
	}
	for _, src := range sources {
		if !fetched[src.ID] && report.Failed[src.ID] == nil {
			report.Failed[src.ID] = errors.New("fetch failed")
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	appLog.Info("subscriptions synced", "sources", len(sources), "imported", len(report.Imported), "failed", len(report.Failed))
	if len(report.Failed) == len(sources) {
		return report, fmt.Errorf("all %d subscriptions failed", len(sources))
	}
	return report, nil
}

// Export writes every event as ICS to path, replacing the file atomically.
func (r *Refresher) Export(ctx context.Context, path string) (int, error) {
	events, err := r.svc.List(ctx, store.EventFilter{})
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	if err := ics.Encode(&buf, events); err != nil {
		return 0, err
	}
	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write export %s: %w", path, err)
	}
	appLog.Info("calendar exported", "path", path, "events", len(events))
	return len(events), nil
}

// CaptureOptions builds screenshot options from the configuration.
func CaptureOptions(cfg *config.Config) capture.Options {
	opts := capture.Options{
		URL:        cfg.Capture.URL,
		OutputPath: cfg.Capture.Output,
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
	}
	if opts.URL == "" {
		opts.URL = capture.DefaultURL(cfg.Listen)
	}
	if cfg.BasicAuth != nil {
		opts.Username = cfg.BasicAuth.Username
		opts.Password = cfg.BasicAuth.Password
	}
	return opts
}

// Run is the scheduled task: sync, then export when export_path is set, then
// capture when enabled. Every step runs even if an earlier one failed.
func (r *Refresher) Run(ctx context.Context) error {
	var errs []error
	if _, err := r.Sync(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if r.cfg.ExportPath != "" {
		if _, err := r.Export(ctx, r.cfg.ExportPath); err != nil {
			errs = append(errs, fmt.Errorf("export: %w", err))
		}
	}
	if r.cfg.Capture.Enabled {
		if err := r.capturer.Capture(ctx, CaptureOptions(r.cfg)); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
	}
	return errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pcal-export-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
