package jellyfin

// AuthRequest is the AuthenticateByName payload
type AuthRequest struct {
	Username string `json:"Username"`
	Pw       string `json:"Pw"`
}

// AuthResponse represents the response from Jellyfin's AuthenticateByName endpoint
type AuthResponse struct {
	User        User   `json:"User"`
	AccessToken string `json:"AccessToken"`
	ServerID    string `json:"ServerId"`
}

// User represents a Jellyfin user
type User struct {
	ID       string `json:"Id"`
	Name     string `json:"Name"`
	ServerID string `json:"ServerId"`
}

// SystemInfo represents the public system info from Jellyfin
type SystemInfo struct {
	ServerName  string `json:"ServerName"`
	Version     string `json:"Version"`
	ProductName string `json:"ProductName"`
	ID          string `json:"Id"`
}

// ItemsResponse represents a paginated list of items from Jellyfin
type ItemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
	StartIndex       int    `json:"StartIndex"`
}

// Item represents a media item or library view from Jellyfin
type Item struct {
	ID                string    `json:"Id"`
	Name              string    `json:"Name"`
	SortName          string    `json:"SortName,omitempty"`
	Overview          string    `json:"Overview,omitempty"`
	Type              string    `json:"Type"`
	CollectionType    string    `json:"CollectionType,omitempty"` // Views only: "movies", "tvshows", ...
	DateLastSaved     string    `json:"DateLastSaved,omitempty"`
	ProductionYear    int       `json:"ProductionYear,omitempty"`
	RunTimeTicks      int64     `json:"RunTimeTicks,omitempty"` // 100-nanosecond units
	CommunityRating   float64   `json:"CommunityRating,omitempty"`
	ImageTags         ImageTags `json:"ImageTags,omitempty"`
	BackdropImageTags []string  `json:"BackdropImageTags,omitempty"`
	ParentID          string    `json:"ParentId,omitempty"`
	SeriesID          string    `json:"SeriesId,omitempty"`
	SeasonID          string    `json:"SeasonId,omitempty"`
	AlbumID           string    `json:"AlbumId,omitempty"`
	IndexNumber       int       `json:"IndexNumber,omitempty"`
	Genres            []string  `json:"Genres,omitempty"`
	People            []Person  `json:"People,omitempty"`
	UserData          *UserData `json:"UserData,omitempty"`
}

// ImageTags contains image tag IDs for various image types
type ImageTags struct {
	Primary string `json:"Primary,omitempty"`
	Thumb   string `json:"Thumb,omitempty"`
}

// Person is a cast or crew credit
type Person struct {
	Name string `json:"Name"`
	Type string `json:"Type,omitempty"`
}

// UserData contains user-specific data for an item (watch status, progress)
type UserData struct {
	PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
	PlayCount             int    `json:"PlayCount"`
	Played                bool   `json:"Played"`
	LastPlayedDate        string `json:"LastPlayedDate,omitempty"`
}
