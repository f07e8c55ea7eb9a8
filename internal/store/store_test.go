package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/store"
	"github.com/mmcdole/reel/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedSource(t, s, "src")
	s.Close()

	// Reopening must not re-run migrations or lose rows
	reopened, err := store.Open(cfg.DatabasePath(), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	src, err := reopened.GetSource(context.Background(), "src")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src.Name != "Server src" {
		t.Fatalf("unexpected source %+v", src)
	}
}

func TestSourceLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	src := domain.Source{
		ID:   "abc",
		Kind: domain.BackendJellyfin,
		Name: "Den",
		Endpoints: []domain.Endpoint{
			{URL: "http://10.0.0.2:8096", Local: true},
			{URL: "https://relay.example.net/abc", Relay: true},
		},
		CredentialRef: "cred-1",
	}
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	got, err := s.GetSource(ctx, "abc")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if got.AuthStatus != domain.AuthUnknown || got.ConnectionState != domain.StateDisconnected {
		t.Fatalf("expected default statuses, got %s/%s", got.AuthStatus, got.ConnectionState)
	}
	if len(got.Endpoints) != 2 || !got.Endpoints[1].Relay {
		t.Fatalf("endpoints not round-tripped: %+v", got.Endpoints)
	}

	now := time.Now()
	if err := s.MarkSourceAuthStatus(ctx, "abc", domain.AuthRequired, now); err != nil {
		t.Fatalf("MarkSourceAuthStatus failed: %v", err)
	}
	if err := s.MarkSourceConnectionState(ctx, "abc", domain.StateSyncFailed); err != nil {
		t.Fatalf("MarkSourceConnectionState failed: %v", err)
	}
	if err := s.MarkSourceSynced(ctx, "abc", now); err != nil {
		t.Fatalf("MarkSourceSynced failed: %v", err)
	}
	if err := s.UpdateSourceCredentials(ctx, "abc", "cred-2"); err != nil {
		t.Fatalf("UpdateSourceCredentials failed: %v", err)
	}

	got, err = s.GetSource(ctx, "abc")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if got.ID != "abc" || got.CredentialRef != "cred-2" {
		t.Fatalf("unexpected source after update: %+v", got)
	}
	if got.AuthStatus != domain.AuthRequired || got.ConnectionState != domain.StateSyncFailed {
		t.Fatalf("unexpected statuses %s/%s", got.AuthStatus, got.ConnectionState)
	}
	if !got.LastSync.Equal(now) || !got.LastAuthCheck.Equal(now) {
		t.Fatalf("timestamps not stored: %v %v", got.LastSync, got.LastAuthCheck)
	}

	sources, err := s.ListSources(ctx)
	if err != nil || len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d (%v)", len(sources), err)
	}

	if err := s.MarkSourceSynced(ctx, "missing", now); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if _, err := s.GetSource(ctx, "missing"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func showLibraryItems(libID string) []domain.MediaItem {
	return []domain.MediaItem{
		{ID: libID + "-show", Type: domain.ItemShow, Title: "The Show"},
		{ID: libID + "-s1", Type: domain.ItemSeason, Title: "Season 1", ShowID: libID + "-show", ParentID: libID + "-show"},
		{ID: libID + "-e1", Type: domain.ItemEpisode, Title: "Pilot", ShowID: libID + "-show", ParentID: libID + "-s1", Index: 1},
	}
}

func TestLibraryTypeIsCanonicalizedOnWrite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, spelling := range []string{"Shows", "shows", "SHOWS"} {
		srcID := "src-" + spelling
		testsupport.SeedSource(t, s, srcID)

		libs := []domain.Library{{ID: "tv", Name: "TV", Type: domain.LibraryType(spelling)}}
		if err := s.UpsertLibraries(ctx, srcID, libs); err != nil {
			t.Fatalf("UpsertLibraries(%s) failed: %v", spelling, err)
		}
		if _, _, err := s.UpsertMediaItemsPage(ctx, srcID, "tv", showLibraryItems("tv"), -1, 0); err != nil {
			t.Fatalf("UpsertMediaItemsPage failed: %v", err)
		}

		stored, err := s.ListLibraries(ctx, srcID)
		if err != nil {
			t.Fatalf("ListLibraries failed: %v", err)
		}
		if stored[0].Type != domain.LibraryShow {
			t.Fatalf("%s: expected canonical %q, got %q", spelling, domain.LibraryShow, stored[0].Type)
		}

		shows, err := s.ItemsByLibraryType(ctx, srcID, domain.LibraryShow)
		if err != nil {
			t.Fatalf("ItemsByLibraryType failed: %v", err)
		}
		if len(shows) != 1 || shows[0].Type != domain.ItemShow {
			t.Fatalf("%s: expected only the show, got %+v", spelling, shows)
		}

		view, err := s.LibraryView(ctx, srcID, "tv")
		if err != nil {
			t.Fatalf("LibraryView failed: %v", err)
		}
		for _, item := range view {
			if item.Type != domain.ItemShow {
				t.Fatalf("%s: shows view leaked %s item %s", spelling, item.Type, item.ID)
			}
		}
		if len(view) != 1 {
			t.Fatalf("%s: expected 1 item in view, got %d", spelling, len(view))
		}
	}
}

func TestFindByLibraryAndTypeComparesVerbatim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedSource(t, s, "src")

	if err := s.UpsertLibraries(ctx, "src", []domain.Library{{ID: "tv", Type: "TVShows"}}); err != nil {
		t.Fatalf("UpsertLibraries failed: %v", err)
	}
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "tv", showLibraryItems("tv"), -1, 0); err != nil {
		t.Fatalf("UpsertMediaItemsPage failed: %v", err)
	}

	episodes, err := s.FindByLibraryAndType(ctx, "src", "tv", domain.ItemEpisode)
	if err != nil {
		t.Fatalf("FindByLibraryAndType failed: %v", err)
	}
	if len(episodes) != 1 || episodes[0].ShowID != "tv-show" {
		t.Fatalf("expected one episode with its show, got %+v", episodes)
	}

	// Queries never re-normalize; a non-canonical value matches nothing
	none, err := s.FindByLibraryAndType(ctx, "src", "tv", domain.ItemType("Episode"))
	if err != nil {
		t.Fatalf("FindByLibraryAndType failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no match for non-canonical type, got %d", len(none))
	}
}

func seedMovieLibrary(t *testing.T, s *store.Store, srcID string) {
	t.Helper()
	testsupport.SeedSource(t, s, srcID)
	if err := s.UpsertLibraries(context.Background(), srcID, []domain.Library{{ID: "lib", Name: "Movies", Type: "movie"}}); err != nil {
		t.Fatalf("UpsertLibraries failed: %v", err)
	}
}

func TestUpsertPageCountsChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := testsupport.Movies("lib", 3)
	added, updated, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if added != 3 || updated != 0 {
		t.Fatalf("expected 3/0, got %d/%d", added, updated)
	}

	added, updated, err = s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if added != 0 || updated != 0 {
		t.Fatalf("expected unchanged page to report 0/0, got %d/%d", added, updated)
	}

	items[1].Title = "Renamed"
	added, updated, err = s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0)
	if err != nil {
		t.Fatalf("third upsert failed: %v", err)
	}
	if added != 0 || updated != 1 {
		t.Fatalf("expected 0/1, got %d/%d", added, updated)
	}

	got, err := s.GetMediaItem(ctx, "src", items[1].ID)
	if err != nil {
		t.Fatalf("GetMediaItem failed: %v", err)
	}
	if got.Title != "Renamed" || got.Metadata.Genres[0] != "Drama" {
		t.Fatalf("unexpected item %+v", got)
	}
}

func TestUpsertPageMergesPlayback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item := testsupport.Movies("lib", 1)[0]
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", []domain.MediaItem{item}, -1, 0); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	local := domain.PlaybackState{Position: 30 * time.Minute, LastWatched: t1}
	if err := s.UpdatePlaybackProgress(ctx, "src", item.ID, local); err != nil {
		t.Fatalf("UpdatePlaybackProgress failed: %v", err)
	}

	cases := []struct {
		name   string
		remote domain.PlaybackState
		want   time.Duration
	}{
		{"older remote loses", domain.PlaybackState{Position: 5 * time.Minute, LastWatched: t1.Add(-time.Hour)}, 30 * time.Minute},
		{"equal timestamp loses", domain.PlaybackState{Position: 5 * time.Minute, LastWatched: t1}, 30 * time.Minute},
		{"missing timestamp loses", domain.PlaybackState{Position: 5 * time.Minute}, 30 * time.Minute},
		{"newer remote wins", domain.PlaybackState{Position: 45 * time.Minute, LastWatched: t1.Add(time.Minute)}, 45 * time.Minute},
	}
	for _, tc := range cases {
		item.Playback = tc.remote
		if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", []domain.MediaItem{item}, -1, 0); err != nil {
			t.Fatalf("%s: upsert failed: %v", tc.name, err)
		}
		got, err := s.GetMediaItem(ctx, "src", item.ID)
		if err != nil {
			t.Fatalf("%s: GetMediaItem failed: %v", tc.name, err)
		}
		if got.Playback.Position != tc.want {
			t.Fatalf("%s: expected position %v, got %v", tc.name, tc.want, got.Playback.Position)
		}
	}
}

func TestUpsertPageRejectsEpisodeWithoutShow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := []domain.MediaItem{
		{ID: "ok", Type: domain.ItemMovie, Title: "Fine"},
		{ID: "orphan", Type: domain.ItemEpisode, Title: "Orphan"},
	}
	_, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0)
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if _, err := s.GetMediaItem(ctx, "src", "ok"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected nothing written, got %v", err)
	}
}

func TestUpsertPageIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := []domain.MediaItem{
		{ID: "first", Type: domain.ItemMovie, Title: "First"},
		{ID: "second", LibraryID: "no-such-library", Type: domain.ItemMovie, Title: "Second"},
	}
	_, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, 2, 0)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, err := s.GetMediaItem(ctx, "src", "first"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected first item rolled back, got %v", err)
	}
	cp, err := s.Checkpoint(ctx, "src", "lib")
	if err != nil || cp != 0 {
		t.Fatalf("expected no checkpoint after rollback, got %d (%v)", cp, err)
	}
}

func TestMarkRemovedExcept(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := testsupport.Movies("lib", 3)
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	removed, err := s.MarkRemovedExcept(ctx, "src", "lib", []string{items[0].ID, items[1].ID})
	if err != nil {
		t.Fatalf("MarkRemovedExcept failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	removed, err = s.MarkRemovedExcept(ctx, "src", "lib", []string{items[0].ID, items[1].ID})
	if err != nil || removed != 0 {
		t.Fatalf("expected repeat to remove nothing, got %d (%v)", removed, err)
	}

	view, err := s.LibraryView(ctx, "src", "lib")
	if err != nil {
		t.Fatalf("LibraryView failed: %v", err)
	}
	if len(view) != 2 {
		t.Fatalf("expected 2 live items, got %d", len(view))
	}

	// A removed item that shows up again counts as added
	added, updated, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0)
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if added != 1 || updated != 0 {
		t.Fatalf("expected 1/0, got %d/%d", added, updated)
	}
}

func TestReplaceHomeSections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := testsupport.Movies("lib", 3)
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, -1, 0); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	sections := []domain.HomeSectionContent{
		{
			Section: domain.HomeSection{ID: "recent", Title: "Recently Added", Type: domain.SectionRecentlyAdded, Priority: 1},
			Items:   []domain.MediaItem{items[2], {ID: "not-synced"}, items[0]},
		},
		{
			Section: domain.HomeSection{ID: "empty", Title: "Nothing", Type: domain.SectionCustom, Priority: 2},
			Items:   []domain.MediaItem{{ID: "ghost"}},
		},
		{
			Section: domain.HomeSection{ID: "continue", Title: "Continue Watching", Type: domain.SectionContinueWatching, Priority: 0},
			Items:   []domain.MediaItem{items[1]},
		},
	}
	if err := s.ReplaceHomeSections(ctx, "src", sections); err != nil {
		t.Fatalf("ReplaceHomeSections failed: %v", err)
	}

	got, err := s.HomeSections(ctx, "src")
	if err != nil {
		t.Fatalf("HomeSections failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 non-empty sections, got %d", len(got))
	}
	if got[0].Section.ID != "continue" || got[1].Section.ID != "recent" {
		t.Fatalf("unexpected order %s, %s", got[0].Section.ID, got[1].Section.ID)
	}
	recent := got[1].Items
	if len(recent) != 2 || recent[0].ID != items[2].ID || recent[1].ID != items[0].ID {
		t.Fatalf("unexpected recent items %+v", recent)
	}

	// Replacement is wholesale
	if err := s.ReplaceHomeSections(ctx, "src", sections[2:]); err != nil {
		t.Fatalf("ReplaceHomeSections failed: %v", err)
	}
	got, err = s.HomeSections(ctx, "src")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 section after replace, got %d (%v)", len(got), err)
	}
}

func TestCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")

	items := testsupport.Movies("lib", 2)
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "lib", items, 100, 0); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	cp, err := s.Checkpoint(ctx, "src", "lib")
	if err != nil || cp != 100 {
		t.Fatalf("expected checkpoint 100, got %d (%v)", cp, err)
	}
	if err := s.ClearCheckpoint(ctx, "src", "lib"); err != nil {
		t.Fatalf("ClearCheckpoint failed: %v", err)
	}
	cp, err = s.Checkpoint(ctx, "src", "lib")
	if err != nil || cp != 0 {
		t.Fatalf("expected cleared checkpoint, got %d (%v)", cp, err)
	}
}

func TestRemoveSourceCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedMovieLibrary(t, s, "src")
	seedMovieLibrary(t, s, "other")

	for _, id := range []string{"src", "other"} {
		items := testsupport.Movies("lib", 2)
		if _, _, err := s.UpsertMediaItemsPage(ctx, id, "lib", items, 1, 0); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		if err := s.ReplaceHomeSections(ctx, id, []domain.HomeSectionContent{{
			Section: domain.HomeSection{ID: "recent", Title: "Recent", Type: domain.SectionRecentlyAdded},
			Items:   items,
		}}); err != nil {
			t.Fatalf("ReplaceHomeSections failed: %v", err)
		}
	}

	if err := s.RemoveSource(ctx, "src"); err != nil {
		t.Fatalf("RemoveSource failed: %v", err)
	}
	if err := s.RemoveSource(ctx, "src"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound on second remove, got %v", err)
	}

	all, err := s.AllItems(ctx)
	if err != nil {
		t.Fatalf("AllItems failed: %v", err)
	}
	for _, item := range all {
		if item.SourceID == "src" {
			t.Fatalf("item %s survived source removal", item.ID)
		}
	}
	if len(all) != 2 {
		t.Fatalf("expected the other source's 2 items, got %d", len(all))
	}
	libs, err := s.ListLibraries(ctx, "src")
	if err != nil || len(libs) != 0 {
		t.Fatalf("expected libraries gone, got %d (%v)", len(libs), err)
	}
	sections, err := s.HomeSections(ctx, "src")
	if err != nil || len(sections) != 0 {
		t.Fatalf("expected sections gone, got %d (%v)", len(sections), err)
	}
}

func TestDeleteLibrariesExcept(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.SeedSource(t, s, "src")

	libs := []domain.Library{{ID: "a", Type: "movie"}, {ID: "b", Type: "movie"}}
	if err := s.UpsertLibraries(ctx, "src", libs); err != nil {
		t.Fatalf("UpsertLibraries failed: %v", err)
	}
	if _, _, err := s.UpsertMediaItemsPage(ctx, "src", "b", testsupport.Movies("b", 2), -1, 0); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	n, err := s.DeleteLibrariesExcept(ctx, "src", []string{"a"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 library deleted, got %d (%v)", n, err)
	}
	all, err := s.AllItems(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected items of dropped library gone, got %d (%v)", len(all), err)
	}
}

func TestUpdatePlaybackProgressMissingItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	seedMovieLibrary(t, s, "src")

	err := s.UpdatePlaybackProgress(context.Background(), "src", "nope", domain.PlaybackState{Watched: true})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}
