package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mmcdole/reel/internal/app"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver"
)

func newSourceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage media server sources",
	}
	cmd.AddCommand(newSourceAddCommand(ctx))
	cmd.AddCommand(newSourceListCommand(ctx))
	cmd.AddCommand(newSourceRemoveCommand(ctx))
	return cmd
}

func newSourceAddCommand(ctx *commandContext) *cobra.Command {
	var (
		relay bool
		name  string
		creds credentialFlags
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Detect a Plex or Jellyfin server, sign in and add it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, logger *slog.Logger) error {
				out := cmd.OutOrStdout()
				det, err := detectWithSpinner(cmd.Context(), out, func(c context.Context) (mediaserver.Detection, error) {
					return a.Detect(c, args[0])
				})
				if err != nil {
					return fmt.Errorf("could not detect server type: %w", err)
				}

				credentials, err := promptCredentials(cmd.Context(), cmd, det.Kind, creds, a.Transport(), logger)
				if err != nil {
					return err
				}

				src, err := a.AddSource(cmd.Context(), det, app.NewSource{
					URL:         args[0],
					Relay:       relay,
					Name:        name,
					Credentials: credentials,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s Added %s %s\n", successStyle.Render("✓"), titleStyle.Render(src.Name), dimStyle.Render("("+src.ID+")"))
				fmt.Fprintln(out, dimStyle.Render("Run `reel sync "+src.ID+"` to fetch its catalog now."))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&relay, "relay", false, "The URL is a relayed address")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the server's name)")
	creds.register(cmd)
	return cmd
}

func newSourceListCommand(ctx *commandContext) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured sources and their connection state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(func(a *app.App, _ *slog.Logger) error {
				if check {
					sources, err := a.Store.ListSources(cmd.Context())
					if err != nil {
						return err
					}
					for _, src := range sources {
						// The resulting state is persisted and shown below
						_, _ = a.Monitor.CheckNow(cmd.Context(), src.ID)
					}
				}

				statuses, err := a.Sources(cmd.Context())
				if err != nil {
					return err
				}
				if len(statuses) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("No sources configured. Add one with `reel source add <url>`."))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSources(statuses))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Health-check every source before listing")
	return cmd
}

func newSourceRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a source with its catalog, cached images and credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ *slog.Logger) error {
				if err := a.RemoveSource(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", successStyle.Render("✓"), args[0])
				return nil
			})
		},
	}
}

func renderSources(statuses []app.SourceStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		src := st.Source
		state := src.ConnectionState
		if st.Watched {
			state = st.Record.State
		}
		rows = append(rows, []string{
			src.ID,
			string(src.Kind),
			src.Name,
			src.PrimaryURL(),
			renderAuth(src.AuthStatus),
			renderState(state),
			formatSince(src.LastSync),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "KIND", "NAME", "ENDPOINT", "AUTH", "STATE", "LAST SYNC").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func renderState(state domain.ConnectionState) string {
	switch state {
	case domain.StateConnected:
		return successStyle.Render(string(state))
	case domain.StateSyncFailed:
		return accentStyle.Render(string(state))
	default:
		return errorStyle.Render(string(state))
	}
}

func renderAuth(status domain.AuthStatus) string {
	switch status {
	case domain.AuthAuthenticated:
		return successStyle.Render("ok")
	case domain.AuthRequired:
		return errorStyle.Render("required")
	default:
		return dimStyle.Render(string(status))
	}
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return dimStyle.Render("never")
	}
	d := time.Since(t).Round(time.Minute)
	if d < time.Minute {
		return "just now"
	}
	return d.String() + " ago"
}
