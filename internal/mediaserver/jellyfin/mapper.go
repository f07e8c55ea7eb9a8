package jellyfin

import (
	"net/url"
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

// Jellyfin uses 100-nanosecond ticks
const ticksPerMillisecond = 10000

// segmentTypes lists the IncludeItemTypes a library is paged through, parents first
func segmentTypes(t domain.LibraryType) []string {
	switch t {
	case domain.LibraryMovie:
		return []string{"Movie"}
	case domain.LibraryShow:
		return []string{"Series", "Season", "Episode"}
	case domain.LibraryMusic:
		return []string{"Audio"}
	default:
		return nil
	}
}

func ticks(t int64) time.Duration {
	return time.Duration(t/ticksPerMillisecond) * time.Millisecond
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// MapLibraries converts user views to domain libraries
func MapLibraries(sourceID string, views []Item) []domain.Library {
	libraries := make([]domain.Library, 0, len(views))
	for _, v := range views {
		libraries = append(libraries, domain.Library{
			SourceID: sourceID,
			ID:       v.ID,
			Name:     v.Name,
			Type:     domain.NormalizeLibraryType(v.CollectionType),
		})
	}
	return libraries
}

// MapItem converts a Jellyfin item into a domain media item
func MapItem(item Item, libraryID string) domain.MediaItem {
	mi := domain.MediaItem{
		ID:        item.ID,
		LibraryID: libraryID,
		Type:      domain.NormalizeItemType(item.Type),
		Title:     item.Name,
		SortTitle: item.SortName,
		Index:     item.IndexNumber,
		Duration:  ticks(item.RunTimeTicks),
		UpdatedAt: parseTime(item.DateLastSaved),
		Metadata: domain.Metadata{
			Year:    item.ProductionYear,
			Summary: item.Overview,
			Genres:  item.Genres,
			Rating:  item.CommunityRating,
		},
	}

	for _, p := range item.People {
		if p.Type == "" || p.Type == "Actor" {
			mi.Metadata.Cast = append(mi.Metadata.Cast, p.Name)
		}
	}

	switch mi.Type {
	case domain.ItemSeason:
		mi.ShowID = item.SeriesID
		mi.ParentID = item.SeriesID
	case domain.ItemEpisode:
		mi.ShowID = item.SeriesID
		mi.ParentID = item.SeasonID
	case domain.ItemTrack:
		mi.ParentID = item.AlbumID
	}

	if item.ImageTags.Primary != "" {
		mi.PosterRef = imageRef(item.ID, "Primary", item.ImageTags.Primary)
	}
	if len(item.BackdropImageTags) > 0 {
		mi.BackdropRef = imageRef(item.ID, "Backdrop/0", item.BackdropImageTags[0])
	}

	if ud := item.UserData; ud != nil {
		mi.Playback = domain.PlaybackState{
			Position:    ticks(ud.PlaybackPositionTicks),
			Watched:     ud.Played,
			LastWatched: parseTime(ud.LastPlayedDate),
		}
	}
	return mi
}

// MapItems converts items, dropping types this client does not store
func MapItems(items []Item, libraryID string) []domain.MediaItem {
	out := make([]domain.MediaItem, 0, len(items))
	for _, item := range items {
		mi := MapItem(item, libraryID)
		if !mi.Type.Valid() {
			continue
		}
		out = append(out, mi)
	}
	return out
}

func imageRef(itemID, kind, tag string) string {
	return "/Items/" + url.PathEscape(itemID) + "/Images/" + kind + "?tag=" + url.QueryEscape(tag)
}
