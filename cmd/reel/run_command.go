package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmcdole/reel/internal/app"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor sources and keep the local catalog in sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(func(a *app.App, logger *slog.Logger) error {
				signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, successStyle.Render("✓")+" reel "+Version+" running "+dimStyle.Render("(Ctrl+C to stop)"))
				if listen := a.Config().Metrics.Listen; listen != "" {
					fmt.Fprintln(out, dimStyle.Render("  metrics on http://"+listen+"/metrics"))
				}
				logger.Info("starting reel", "version", Version)
				return a.Run(signalCtx)
			})
		},
	}
}
