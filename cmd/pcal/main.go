package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Embedded zone database for hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"pcal/internal/cli"
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}
