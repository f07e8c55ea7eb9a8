package domain

import (
	"context"
	"time"
)

// SourceRepository persists configured sources and their health flags
type SourceRepository interface {
	UpsertSource(ctx context.Context, src Source) error
	GetSource(ctx context.Context, id string) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)

	// RemoveSource deletes a source and cascades to everything it owns
	RemoveSource(ctx context.Context, id string) error

	MarkSourceAuthStatus(ctx context.Context, id string, status AuthStatus, at time.Time) error
	MarkSourceConnectionState(ctx context.Context, id string, state ConnectionState) error
	MarkSourceSynced(ctx context.Context, id string, at time.Time) error

	// UpdateSourceCredentials swaps the credential reference without touching the ID
	UpdateSourceCredentials(ctx context.Context, id, credentialRef string) error
}

// CatalogRepository persists libraries, items and home sections.
// Every write is atomic; a failed call leaves the previous state intact.
type CatalogRepository interface {
	// UpsertLibraries writes libraries, canonicalizing their type
	UpsertLibraries(ctx context.Context, sourceID string, libs []Library) error
	ListLibraries(ctx context.Context, sourceID string) ([]Library, error)

	// DeleteLibrariesExcept removes libraries of a source not in keep
	DeleteLibrariesExcept(ctx context.Context, sourceID string, keep []string) (int, error)

	// UpsertMediaItemsPage writes one page in a single transaction and records
	// nextOffset as the library checkpoint. Consumption state is merged with skew.
	UpsertMediaItemsPage(ctx context.Context, sourceID, libraryID string, items []MediaItem, nextOffset int, skew time.Duration) (added, updated int, err error)

	// MarkRemovedExcept flags items of a library absent from seen as removed
	// and returns how many were newly flagged.
	MarkRemovedExcept(ctx context.Context, sourceID, libraryID string, seen []string) (int, error)

	// ReplaceHomeSections swaps a source's sections wholesale
	ReplaceHomeSections(ctx context.Context, sourceID string, sections []HomeSectionContent) error
	HomeSections(ctx context.Context, sourceID string) ([]HomeSectionContent, error)

	// FindByLibraryAndType compares the stored canonical item type verbatim
	FindByLibraryAndType(ctx context.Context, sourceID, libraryID string, itemType ItemType) ([]MediaItem, error)

	// ItemsByLibraryType returns the top-level items of every library of a type
	ItemsByLibraryType(ctx context.Context, sourceID string, libType LibraryType) ([]MediaItem, error)

	// LibraryView returns what a library's browse view shows
	LibraryView(ctx context.Context, sourceID, libraryID string) ([]MediaItem, error)
	GetMediaItem(ctx context.Context, sourceID, itemID string) (MediaItem, error)
	AllItems(ctx context.Context) ([]MediaItem, error)

	UpdatePlaybackProgress(ctx context.Context, sourceID, itemID string, state PlaybackState) error

	Checkpoint(ctx context.Context, sourceID, libraryID string) (int, error)
	ClearCheckpoint(ctx context.Context, sourceID, libraryID string) error
}

// Repository is the full local store
type Repository interface {
	SourceRepository
	CatalogRepository
}
