package domain

import "strings"

// LibraryType is the canonical lowercase library kind.
// Values are canonicalized once at ingestion; queries compare them verbatim.
type LibraryType string

const (
	LibraryMovie LibraryType = "movie"
	LibraryShow  LibraryType = "show"
	LibraryMusic LibraryType = "music"
	LibraryPhoto LibraryType = "photo"
	LibraryOther LibraryType = "other"
)

// NormalizeLibraryType maps any server spelling ("Shows", "tvshows", "MOVIES")
// onto the canonical enumeration.
func NormalizeLibraryType(raw string) LibraryType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "movie", "movies":
		return LibraryMovie
	case "show", "shows", "tvshows", "series", "tv":
		return LibraryShow
	case "music", "artist", "audio":
		return LibraryMusic
	case "photo", "photos", "homevideos":
		return LibraryPhoto
	default:
		return LibraryOther
	}
}

// ViewItemType returns the item type a library view surfaces.
// A show library lists shows only, never the seasons or episodes beneath them.
func (t LibraryType) ViewItemType() (ItemType, bool) {
	switch t {
	case LibraryMovie:
		return ItemMovie, true
	case LibraryShow:
		return ItemShow, true
	case LibraryMusic:
		return ItemTrack, true
	default:
		return "", false
	}
}

// ItemType tags a media item
type ItemType string

const (
	ItemMovie   ItemType = "movie"
	ItemShow    ItemType = "show"
	ItemSeason  ItemType = "season"
	ItemEpisode ItemType = "episode"
	ItemTrack   ItemType = "track"
)

// NormalizeItemType canonicalizes server item type names.
// Unknown types come back empty so callers can skip them.
func NormalizeItemType(raw string) ItemType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "movie":
		return ItemMovie
	case "show", "series":
		return ItemShow
	case "season":
		return ItemSeason
	case "episode":
		return ItemEpisode
	case "track", "audio":
		return ItemTrack
	default:
		return ""
	}
}

// Valid reports whether t is one of the canonical item types
func (t ItemType) Valid() bool {
	switch t {
	case ItemMovie, ItemShow, ItemSeason, ItemEpisode, ItemTrack:
		return true
	}
	return false
}
