package plex

// APIResponse wraps the MediaContainer for JSON unmarshaling
type APIResponse struct {
	MediaContainer MediaContainer `json:"MediaContainer"`
}

// MediaContainer is the root container for Plex API responses
type MediaContainer struct {
	Size              int         `json:"size"`
	TotalSize         int         `json:"totalSize,omitempty"`
	Offset            int         `json:"offset,omitempty"`
	MachineIdentifier string      `json:"machineIdentifier,omitempty"`
	FriendlyName      string      `json:"friendlyName,omitempty"`
	Version           string      `json:"version,omitempty"`
	MyPlexUsername    string      `json:"myPlexUsername,omitempty"`
	LibrarySectionID  int         `json:"librarySectionID,omitempty"`
	Directory         []Directory `json:"Directory,omitempty"`
	Metadata          []Metadata  `json:"Metadata,omitempty"`
	Hub               []Hub       `json:"Hub,omitempty"`
}

// Directory represents a library section
type Directory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Tag is a named facet such as a genre or cast member
type Tag struct {
	Tag string `json:"tag"`
}

// Metadata represents a media item (movie, show, season, episode or track)
type Metadata struct {
	RatingKey            string  `json:"ratingKey"`
	ParentRatingKey      string  `json:"parentRatingKey,omitempty"`
	GrandparentRatingKey string  `json:"grandparentRatingKey,omitempty"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	TitleSort            string  `json:"titleSort,omitempty"`
	Summary              string  `json:"summary,omitempty"`
	Index                int     `json:"index,omitempty"`
	Rating               float64 `json:"rating,omitempty"`         // Critic rating
	AudienceRating       float64 `json:"audienceRating,omitempty"` // Audience rating
	ViewOffset           int64   `json:"viewOffset,omitempty"`     // Milliseconds
	ViewCount            int     `json:"viewCount,omitempty"`
	LastViewedAt         int64   `json:"lastViewedAt,omitempty"` // Unix seconds
	Year                 int     `json:"year,omitempty"`
	Thumb                string  `json:"thumb,omitempty"`
	Art                  string  `json:"art,omitempty"`
	Duration             int64   `json:"duration,omitempty"`  // Milliseconds
	UpdatedAt            int64   `json:"updatedAt,omitempty"` // Unix seconds
	LibrarySectionID     int     `json:"librarySectionID,omitempty"`
	Genre                []Tag   `json:"Genre,omitempty"`
	Role                 []Tag   `json:"Role,omitempty"`
}

// Hub is one landing-page row returned by /hubs
type Hub struct {
	HubIdentifier string     `json:"hubIdentifier"`
	Title         string     `json:"title"`
	Type          string     `json:"type"`
	Size          int        `json:"size"`
	Metadata      []Metadata `json:"Metadata,omitempty"`
}

// PINResponse represents the response from PIN generation and checks
type PINResponse struct {
	ID        int    `json:"id"`
	Code      string `json:"code"`
	AuthToken string `json:"authToken,omitempty"`
	ExpiresAt string `json:"expiresAt"`
}
