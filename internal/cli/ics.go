package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pcal/internal/capture"
	"pcal/internal/ics"
	"pcal/internal/jobs"
	"pcal/internal/store"
)

// Import materializes unsupported rules this far around now, like sync.
const (
	importLookBack  = 90 * 24 * time.Hour
	importLookAhead = 365 * 24 * time.Hour
)

type exportResult struct {
	Path   string `json:"path"`
	Events int    `json:"events"`
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var (
		output string
		local  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export events as an ICS calendar",
		Example: `  pcal export > calendar.ics
  pcal export --local --output backup.ics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				events, err := a.svc.List(cmd.Context(), store.EventFilter{LocalOnly: local})
				if err != nil {
					return WrapExitError(ExitCommandError, "list events", err)
				}
				var buf bytes.Buffer
				if err := ics.Encode(&buf, events); err != nil {
					return WrapExitError(ExitCommandError, "encode ICS", err)
				}
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
					return WrapExitError(ExitCommandError, "write export", err)
				}
				res := exportResult{Path: output, Events: len(events)}
				return a.out.Success(res, func(w io.Writer) {
					fprintf(w, "exported %d event(s) to %s\n", res.Events, res.Path)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().BoolVar(&local, "local", false, "skip events from subscriptions")
	return cmd
}

type importResult struct {
	Source   string `json:"source"`
	Imported int    `json:"imported"`
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import an ICS file as a read-only source",
		Long: `Import parses an ICS file and replaces every event previously imported
under the same source. The source defaults to the file name without its
extension. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			var (
				data []byte
				err  error
			)
			if path == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(path)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "read ICS", err)
			}
			if source == "" {
				if path == "-" {
					return NewExitError(ExitCommandError, "--source is required when reading stdin")
				}
				source = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			return withApp(opts, cmd, func(a *app) error {
				now := time.Now()
				events, err := ics.Parse(ics.Source{ID: source}, data, ics.ParseOptions{
					Location:   a.svc.Location(),
					ExpandFrom: now.Add(-importLookBack),
					ExpandTo:   now.Add(importLookAhead),
				})
				if err != nil {
					return WrapExitError(ExitCommandError, "parse ICS", err)
				}
				n, err := a.svc.Import(cmd.Context(), source, events)
				if err != nil {
					return WrapExitError(ExitCommandError, "import", err)
				}
				res := importResult{Source: source, Imported: n}
				return a.out.Success(res, func(w io.Writer) {
					fprintf(w, "imported %d event(s) as %q\n", n, source)
				})
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source id for the imported events")
	return cmd
}

type syncResult struct {
	Imported map[string]int    `json:"imported"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every configured ICS subscription once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				report, syncErr := jobs.NewRefresher(a.cfg, a.svc, nil, nil).Sync(cmd.Context())
				res := syncResult{Imported: report.Imported, Failed: map[string]string{}}
				for id, err := range report.Failed {
					res.Failed[id] = err.Error()
				}
				text := func(w io.Writer) {
					if len(jobs.Sources(a.cfg)) == 0 {
						fprintf(w, "no subscriptions configured\n")
						return
					}
					for _, id := range sortedKeys(res.Imported) {
						fprintf(w, "%s: %d event(s)\n", id, res.Imported[id])
					}
					for _, id := range sortedKeys(res.Failed) {
						fprintf(w, "%s: failed: %s\n", id, res.Failed[id])
					}
				}
				if syncErr != nil {
					return a.out.Fail(ExitCommandError, syncErr, res, text)
				}
				return a.out.Success(res, text)
			})
		},
	}
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(opts *RootOptions) *cobra.Command {
	var (
		url      string
		output   string
		execPath string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Screenshot the month page with headless Chromium",
		Long: `Capture loads the month page (by default the one served by "pcal serve")
in headless Chromium and writes a PNG of it. Configured basic auth
credentials are sent with the request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				copts := jobs.CaptureOptions(a.cfg)
				if url != "" {
					copts.URL = url
				}
				if output != "" {
					copts.OutputPath = output
				}
				copts.ExecPath = execPath
				if err := capture.CalendarPNG(cmd.Context(), copts); err != nil {
					return WrapExitError(ExitCommandError, "capture", err)
				}
				return a.out.Success(copts.OutputPath, func(w io.Writer) {
					fprintf(w, "wrote %s\n", copts.OutputPath)
				})
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to capture (default: the local /calendar page)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "PNG path (default: capture.output from the config)")
	cmd.Flags().StringVar(&execPath, "chrome", "", "Chromium binary (default: found on PATH)")
	return cmd
}
