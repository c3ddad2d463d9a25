package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pcal/internal/calendar"
	"pcal/internal/config"
	appLog "pcal/internal/log"
	"pcal/internal/store"
)

// app is the state shared by commands that touch the calendar.
type app struct {
	cfg  *config.Config
	repo *store.SQLiteRepository
	svc  *calendar.Service
	out  *OutputFormatter
}

// openApp loads the config, applies its log level (unless --verbose) and
// opens the event store.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	if !opts.Verbose {
		level, err := appLog.ParseLevel(cfg.LogLevel)
		if err != nil {
			appLog.Warn("unknown log level, keeping default", "log_level", cfg.LogLevel)
		} else {
			appLog.SetLevel(level)
		}
	}

	repo, err := store.OpenSQLite(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	appLog.Debug("database opened", "path", cfg.Database, "config", opts.ConfigPath)

	svc := calendar.NewService(repo, calendar.Options{
		ConflictWindow:  cfg.ConflictWindow(),
		RejectConflicts: cfg.RejectConflicts,
		WeekStart:       cfg.WeekStartDay(),
		Location:        cfg.Location(),
	})
	return &app{
		cfg:  cfg,
		repo: repo,
		svc:  svc,
		out:  &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		appLog.Error("close database failed", err)
	}
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

const clockLayout = "2006-01-02 15:04"

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func formatSpan(start, end time.Time) string {
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return start.Format(clockLayout) + "-" + end.Format("15:04")
	}
	return start.Format(clockLayout) + " - " + end.Format(clockLayout)
}
