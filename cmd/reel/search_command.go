package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmcdole/reel/internal/app"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/search"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		filter search.Filter
		types  []string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local catalog, offline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range types {
				it := domain.NormalizeItemType(t)
				if !it.Valid() {
					return fmt.Errorf("unknown item type %q", t)
				}
				filter.Types = append(filter.Types, it)
			}

			return ctx.withApp(func(a *app.App, _ *slog.Logger) error {
				if err := a.Search.Rebuild(cmd.Context()); err != nil {
					return err
				}
				results := a.Search.Search(strings.Join(args, " "), filter)
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, dimStyle.Render("No matches."))
					return nil
				}
				for _, r := range results {
					fmt.Fprintln(out, renderResult(r))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these item types (movie, show, season, episode, track)")
	cmd.Flags().StringVar(&filter.SourceID, "source", "", "Only this source")
	cmd.Flags().BoolVar(&filter.Unwatched, "unwatched", false, "Hide watched items")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "Maximum results")
	return cmd
}

func renderResult(r search.Result) string {
	item := r.Item
	line := highlight(item.Title, r.MatchedIndexes)
	if item.Metadata.Year > 0 {
		line += dimStyle.Render(fmt.Sprintf(" (%d)", item.Metadata.Year))
	}
	marker := dimStyle.Render("●")
	if item.Playback.Watched {
		marker = successStyle.Render("✓")
	}
	return fmt.Sprintf("%s %s %s", marker, line, dimStyle.Render(string(item.Type)+" · "+item.SourceID))
}

// highlight styles the runes of title at the matched positions
func highlight(title string, positions []int) string {
	if len(positions) == 0 {
		return title
	}
	matched := make(map[int]bool, len(positions))
	for _, p := range positions {
		matched[p] = true
	}
	var b strings.Builder
	for i, r := range []rune(title) {
		if matched[i] {
			b.WriteString(matchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
