package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pcal/internal/calendar"
	"pcal/internal/engine"
	"pcal/internal/model"
)

// defaultExpandSpan is the expand window when --to is not given.
const defaultExpandSpan = 7 * 24 * time.Hour

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an event or recurring series",
		Example: `  pcal add --title Standup --start 2024-01-15T09:00 --end 2024-01-15T09:15 --repeat weekly --weekdays mon,wed,fri
  pcal add --title Rent --start 2024-01-01T08:00 --end 2024-01-01T08:30 --repeat monthly --month-day 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				ev, err := flags.event(a.svc.Location())
				if err != nil {
					return err
				}
				created, err := a.svc.Create(cmd.Context(), ev)
				if err != nil {
					var conflict *calendar.ConflictError
					if errors.As(err, &conflict) {
						return a.out.Fail(ExitFailure, err, conflict.Conflicts, func(w io.Writer) {
							fprintf(w, "not created: %d conflict(s)\n", len(conflict.Conflicts))
							writeConflicts(w, conflict.Conflicts)
						})
					}
					return WrapExitError(ExitCommandError, "create event", err)
				}
				return a.out.Success(created, func(w io.Writer) {
					fprintf(w, "created %s %q %s\n", created.ID, created.Title, formatSpan(created.Start, created.End))
				})
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

// checkResult is the JSON payload of check.
type checkResult struct {
	HasConflict bool              `json:"hasConflict"`
	Conflicts   []engine.Conflict `json:"conflicts"`
	RangeStart  time.Time         `json:"rangeStart"`
	RangeEnd    time.Time         `json:"rangeEnd"`
}

// NewCheckCommand creates the check command. It exits 1 when the described
// event would conflict.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	var (
		flags  eventFlags
		window windowFlags
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an event would overlap stored events",
		Long: `Check expands the described event and every stored event over a window
and reports overlapping occurrences. Nothing is stored. Without --from/--to the
window is the event itself, or the configured conflict window for a series.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				ev, err := flags.event(a.svc.Location())
				if err != nil {
					return err
				}
				start, end := a.svc.ConflictWindowFor(ev)
				if window.set() {
					if start, end, err = window.resolve(a.svc.Location(), ev.Start, end.Sub(start)); err != nil {
						return err
					}
				}
				conflicts, err := a.svc.CheckConflict(cmd.Context(), ev, start, end)
				if err != nil {
					return WrapExitError(ExitCommandError, "check conflicts", err)
				}
				res := checkResult{
					HasConflict: len(conflicts) > 0,
					Conflicts:   conflicts,
					RangeStart:  start,
					RangeEnd:    end,
				}
				if res.Conflicts == nil {
					res.Conflicts = []engine.Conflict{}
				}
				if res.HasConflict {
					return a.out.Fail(ExitFailure, fmt.Errorf("%d conflict(s)", len(conflicts)), res, func(w io.Writer) {
						fprintf(w, "%d conflict(s) between %s and %s\n", len(conflicts), start.Format(clockLayout), end.Format(clockLayout))
						writeConflicts(w, conflicts)
					})
				}
				return a.out.Success(res, func(w io.Writer) {
					fprintf(w, "no conflicts between %s and %s\n", start.Format(clockLayout), end.Format(clockLayout))
				})
			})
		},
	}
	flags.bind(cmd)
	window.bind(cmd, "window start (default: event start)", "window end (default: event end or conflict window)")
	return cmd
}

func writeConflicts(w io.Writer, conflicts []engine.Conflict) {
	for _, c := range conflicts {
		fprintf(w, "  %s  overlaps %q (%s) %s\n",
			formatSpan(c.Candidate.Start, c.Candidate.End),
			c.Existing.Title, c.Existing.ID,
			formatSpan(c.Existing.Start, c.Existing.End))
	}
}

// expandResult is the JSON payload of expand.
type expandResult struct {
	Occurrences  []model.DisplayEvent `json:"occurrences"`
	TruncatedIDs []string             `json:"truncatedIds,omitempty"`
	RangeStart   time.Time            `json:"rangeStart"`
	RangeEnd     time.Time            `json:"rangeEnd"`
}

// NewExpandCommand creates the expand command.
func NewExpandCommand(opts *RootOptions) *cobra.Command {
	var window windowFlags

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "List event occurrences in a time range",
		Example: `  pcal expand
  pcal expand --from 2024-01-01 --to 2024-01-31 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				loc := a.svc.Location()
				from, to, err := window.resolve(loc, model.StartOfDay(time.Now().In(loc)), defaultExpandSpan)
				if err != nil {
					return err
				}
				res, err := a.svc.Expand(cmd.Context(), from, to)
				if err != nil {
					return WrapExitError(ExitCommandError, "expand", err)
				}
				out := expandResult{Occurrences: res.Occurrences, TruncatedIDs: res.Truncated, RangeStart: from, RangeEnd: to}
				if out.Occurrences == nil {
					out.Occurrences = []model.DisplayEvent{}
				}
				return a.out.Success(out, func(w io.Writer) {
					writeOccurrences(w, res.Occurrences)
					for _, id := range res.Truncated {
						fprintf(w, "warning: series %s stopped after %d steps; later occurrences omitted\n", id, engine.MaxWalkSteps)
					}
				})
			})
		},
	}
	window.bind(cmd, "range start (default: today)", "range end (default: 7 days after --from)")
	return cmd
}

func writeOccurrences(w io.Writer, occs []model.DisplayEvent) {
	if len(occs) == 0 {
		fprintf(w, "no events\n")
		return
	}
	for _, o := range occs {
		marker := " "
		if o.IsInstance {
			marker = "*"
		}
		fprintf(w, "%s %s  %s", marker, formatSpan(o.Start, o.End), o.Title)
		if o.Category != model.CategoryNone {
			fprintf(w, " [%s]", o.Category)
		}
		fprintf(w, "  (%s)\n", o.ID)
	}
}

// NewMonthCommand creates the month command.
func NewMonthCommand(opts *RootOptions) *cobra.Command {
	var year, month int

	cmd := &cobra.Command{
		Use:   "month",
		Short: "Show a month grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				now := time.Now().In(a.svc.Location())
				if year == 0 {
					year = now.Year()
				}
				if month == 0 {
					month = int(now.Month())
				}
				if month < 1 || month > 12 {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid --month %d", month))
				}
				view, err := a.svc.Month(cmd.Context(), year, time.Month(month))
				if err != nil {
					return WrapExitError(ExitCommandError, "build month", err)
				}
				return a.out.Success(view, func(w io.Writer) { writeMonth(w, view) })
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (default: current)")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12 (default: current)")
	return cmd
}

// writeMonth prints the grid, marking days with events, followed by the
// events of the month's own days.
func writeMonth(w io.Writer, view calendar.MonthView) {
	fprintf(w, "%s %d\n", view.Month, view.Year)
	var header []string
	for i := range 7 {
		header = append(header, ((view.WeekStart + time.Weekday(i)) % 7).String()[:2])
	}
	fprintf(w, " %s\n", strings.Join(header, "  "))
	for _, week := range view.Weeks {
		var b strings.Builder
		for _, day := range week {
			switch {
			case !day.InMonth:
				b.WriteString("  . ")
			case len(day.Events) > 0:
				fmt.Fprintf(&b, "%3d*", day.Date.Day)
			default:
				fmt.Fprintf(&b, "%3d ", day.Date.Day)
			}
		}
		fprintf(w, "%s\n", strings.TrimRight(b.String(), " "))
	}
	for _, week := range view.Weeks {
		for _, day := range week {
			if !day.InMonth || len(day.Events) == 0 {
				continue
			}
			fprintf(w, "\n%s\n", day.Date)
			for _, ev := range day.Events {
				fprintf(w, "  %s-%s  %s\n", ev.Start.Format("15:04"), ev.End.Format("15:04"), ev.Title)
			}
		}
	}
	for _, id := range view.Truncated {
		fprintf(w, "warning: series %s truncated\n", id)
	}
}
