package domain

import (
	"fmt"
	"time"
)

// BackendKind identifies the media server family behind a source
type BackendKind string

const (
	BackendPlex     BackendKind = "plex"
	BackendJellyfin BackendKind = "jellyfin"
)

// AuthStatus tracks whether a source's stored credential is still accepted
type AuthStatus string

const (
	AuthUnknown       AuthStatus = "unknown"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthRequired      AuthStatus = "auth_required"
)

// ConnectionState is the externally visible health of a source
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateSyncFailed   ConnectionState = "sync_failed"
	StateDisconnected ConnectionState = "disconnected"
)

// Endpoint is one address a source can be reached at.
// Relay addresses are first-class and handled exactly like direct ones.
type Endpoint struct {
	URL   string `json:"url"`
	Local bool   `json:"local,omitempty"` // LAN address
	Relay bool   `json:"relay,omitempty"` // Indirect/relayed address
}

// Source is one configured remote media server
type Source struct {
	ID              string     // Stable for the lifetime of the source
	Kind            BackendKind
	Name            string
	Endpoints       []Endpoint
	CredentialRef   string // Key into the credential store, never the secret itself
	AuthStatus      AuthStatus
	ConnectionState ConnectionState
	LastAuthCheck   time.Time
	LastSync        time.Time
}

// PrimaryURL returns the first configured endpoint URL
func (s Source) PrimaryURL() string {
	if len(s.Endpoints) == 0 {
		return ""
	}
	return s.Endpoints[0].URL
}

// Library represents a media server library section
type Library struct {
	SourceID string
	ID       string      // Scoped to the source
	Name     string      // Display name
	Type     LibraryType // Canonical, see NormalizeLibraryType
}

// Metadata is the sparse descriptive payload of a media item
type Metadata struct {
	Year    int      `json:"year,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Genres  []string `json:"genres,omitempty"`
	Cast    []string `json:"cast,omitempty"`
	Rating  float64  `json:"rating,omitempty"` // 0-10 audience/community rating
}

// PlaybackState is the consumption state of an item.
// Local is authoritative unless the remote reports a strictly newer LastWatched.
type PlaybackState struct {
	Position    time.Duration
	Watched     bool
	LastWatched time.Time
}

// MediaItem is a unit of content: movie, show, season, episode or track
type MediaItem struct {
	SourceID  string
	ID        string // Scoped to the source
	LibraryID string
	Type      ItemType
	Title     string
	SortTitle string

	// Hierarchy (empty for top-level items)
	ShowID   string // Parent show, required for episodes
	ParentID string // Direct parent (season for episodes, show for seasons, album for tracks)
	Index    int    // Episode/track number within parent

	Metadata    Metadata
	PosterRef   string // Remote image reference, resolved by the backend
	BackdropRef string
	Duration    time.Duration
	Playback    PlaybackState
	UpdatedAt   time.Time // Remote metadata change time when the server reports one
}

// Validate checks ingestion invariants before an item is written
func (m MediaItem) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: media item without id", ErrParse)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: item %s has unknown type %q", ErrParse, m.ID, m.Type)
	}
	if m.Type == ItemEpisode && m.ShowID == "" {
		return fmt.Errorf("%w: episode %s has no parent show", ErrParse, m.ID)
	}
	return nil
}

// CatalogEqual reports whether the remote-authoritative fields match
func (m MediaItem) CatalogEqual(o MediaItem) bool {
	if m.LibraryID != o.LibraryID || m.Type != o.Type || m.Title != o.Title ||
		m.SortTitle != o.SortTitle || m.ShowID != o.ShowID || m.ParentID != o.ParentID ||
		m.Index != o.Index || m.PosterRef != o.PosterRef || m.BackdropRef != o.BackdropRef ||
		m.Duration != o.Duration || !m.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	a, b := m.Metadata, o.Metadata
	return a.Year == b.Year && a.Summary == b.Summary && a.Rating == b.Rating &&
		equalStrings(a.Genres, b.Genres) && equalStrings(a.Cast, b.Cast)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HomeSectionType enumerates landing-page section kinds
type HomeSectionType string

const (
	SectionContinueWatching HomeSectionType = "continue_watching"
	SectionOnDeck           HomeSectionType = "on_deck"
	SectionRecentlyAdded    HomeSectionType = "recently_added"
	SectionTopRated         HomeSectionType = "top_rated"
	SectionTrending         HomeSectionType = "trending"
	SectionCustom           HomeSectionType = "custom"
)

// HomeSection is an ordered, named slice of items surfaced for a source
type HomeSection struct {
	SourceID string
	ID       string
	Title    string
	Type     HomeSectionType
	Priority int // Lower sorts first
}

// HomeSectionContent pairs a section with its ordered items as reported remotely
type HomeSectionContent struct {
	Section HomeSection
	Items   []MediaItem
}

// ItemPage is one window of a library listing
type ItemPage struct {
	Items   []MediaItem
	HasMore bool
}

// Credentials is the backend-specific secret material for a source.
// Plex uses Token; Jellyfin uses Token+UserID or Username+Password.
type Credentials struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// User is the identity returned by a successful authentication
type User struct {
	ID       string
	Name     string
	Token    string // Token to persist (may be freshly issued)
	ServerID string
}

// SyncMode selects whether removals are reconciled
type SyncMode int

const (
	SyncIncremental SyncMode = iota
	SyncFull
)

func (m SyncMode) String() string {
	if m == SyncFull {
		return "full"
	}
	return "incremental"
}

// SyncResult summarizes one reconciliation pass
type SyncResult struct {
	ItemsAdded   int
	ItemsUpdated int
	ItemsRemoved int
}

// Add accumulates another result into r
func (r *SyncResult) Add(o SyncResult) {
	r.ItemsAdded += o.ItemsAdded
	r.ItemsUpdated += o.ItemsUpdated
	r.ItemsRemoved += o.ItemsRemoved
}
