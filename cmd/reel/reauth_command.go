package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmcdole/reel/internal/app"
)

func newReauthCommand(ctx *commandContext) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "reauth <id>",
		Short: "Sign in to a source again, keeping its catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, logger *slog.Logger) error {
				src, err := a.Store.GetSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				credentials, err := promptCredentials(cmd.Context(), cmd, src.Kind, creds, a.Transport(), logger)
				if err != nil {
					return err
				}
				if _, err := a.Reauthenticate(cmd.Context(), src.ID, credentials); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in to %s\n", successStyle.Render("✓"), titleStyle.Render(src.Name))
				return nil
			})
		},
	}
	creds.register(cmd)
	return cmd
}
