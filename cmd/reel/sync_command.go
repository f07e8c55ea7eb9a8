package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmcdole/reel/internal/app"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/library"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync [id...]",
		Short: "Run a sync pass for the given sources, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ *slog.Logger) error {
				ids := args
				if len(ids) == 0 {
					sources, err := a.Store.ListSources(cmd.Context())
					if err != nil {
						return err
					}
					for _, src := range sources {
						ids = append(ids, src.ID)
					}
				}

				mode := domain.SyncIncremental
				if full {
					mode = domain.SyncFull
				}

				out := cmd.OutOrStdout()
				var errs []error
				for _, id := range ids {
					syncCtx := library.WithProgress(cmd.Context(), func(p domain.SyncProgress) {
						fmt.Fprintf(out, "%s%s %s/%s: %d items", clearLine,
							accentStyle.Render(spinnerFrames[p.Loaded/max(a.Config().Sync.PageSize, 1)%len(spinnerFrames)]),
							id, p.LibraryID, p.Loaded)
					})
					result, err := a.Library.SyncSource(syncCtx, id, mode)
					fmt.Fprint(out, clearLine)
					if err != nil {
						fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("✗"), id, err)
						if domain.Classify(err) == domain.KindAuthRequired {
							fmt.Fprintln(out, dimStyle.Render("  sign in again with `reel reauth "+id+"`"))
						}
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "%s %s: %d added, %d updated, %d removed\n",
						successStyle.Render("✓"), id, result.ItemsAdded, result.ItemsUpdated, result.ItemsRemoved)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Walk every library from the start and reconcile removals")
	return cmd
}
