package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/config"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(cfg.DatabasePath(), nil)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SeedSource inserts a plex source with the given ID
func SeedSource(t testing.TB, repo domain.SourceRepository, id string) domain.Source {
	t.Helper()

	src := domain.Source{
		ID:              id,
		Kind:            domain.BackendPlex,
		Name:            "Server " + id,
		Endpoints:       []domain.Endpoint{{URL: "http://127.0.0.1:32400", Local: true}},
		CredentialRef:   "cred-" + id,
		AuthStatus:      domain.AuthAuthenticated,
		ConnectionState: domain.StateConnected,
	}
	if err := repo.UpsertSource(context.Background(), src); err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}
	return src
}

// Movies builds n movie items for a library with stable IDs and titles
func Movies(libraryID string, n int) []domain.MediaItem {
	items := make([]domain.MediaItem, n)
	for i := range items {
		items[i] = domain.MediaItem{
			ID:        fmt.Sprintf("%s-m%03d", libraryID, i),
			LibraryID: libraryID,
			Type:      domain.ItemMovie,
			Title:     fmt.Sprintf("Movie %03d", i),
			Metadata:  domain.Metadata{Year: 2000 + i%25, Genres: []string{"Drama"}},
			PosterRef: fmt.Sprintf("/library/metadata/%d/thumb", i),
			Duration:  90 * time.Minute,
		}
	}
	return items
}
