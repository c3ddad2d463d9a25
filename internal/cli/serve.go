package cli

import (
	"github.com/spf13/cobra"

	"pcal/internal/jobs"
	appLog "pcal/internal/log"
	"pcal/internal/web"
)

// NewServeCommand creates the serve command: the HTTP API and month page,
// plus the scheduled refresh job.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var (
		listen string
		noJobs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and the month page",
		Long: `Serve runs the HTTP server until interrupted. When a refresh schedule is
configured it also syncs subscriptions, writes the ICS export and captures
the preview image on that schedule, starting with one run at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				ctx := cmd.Context()
				if listen != "" {
					a.cfg.Listen = listen
				}

				if !noJobs && a.cfg.RefreshCron != "" {
					refresher := jobs.NewRefresher(a.cfg, a.svc, nil, nil)
					runner, err := jobs.NewRunner("refresh", a.cfg.RefreshCron, refresher.Run)
					if err != nil {
						return WrapExitError(ExitCommandError, "refresh schedule", err)
					}
					if err := runner.Start(ctx); err != nil {
						return WrapExitError(ExitCommandError, "start refresh job", err)
					}
					defer runner.Stop()
					go func() {
						// Failures are logged by the runner.
						_ = runner.RunNow(ctx)
					}()
				} else {
					appLog.Info("refresh job disabled")
				}

				if err := web.NewServer(a.cfg, a.svc).Run(ctx); err != nil {
					return WrapExitError(ExitCommandError, "serve", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides the config)")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not schedule the refresh job")
	return cmd
}
