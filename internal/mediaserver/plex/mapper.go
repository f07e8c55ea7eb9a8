package plex

import (
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

// Plex metadata type numbers used by the type= filter
const (
	typeMovie   = 1
	typeShow    = 2
	typeSeason  = 3
	typeEpisode = 4
	typeTrack   = 10
)

// segmentTypes lists the item types a library is paged through, in order.
// Show libraries page shows first so parents land before children.
func segmentTypes(t domain.LibraryType) []int {
	switch t {
	case domain.LibraryMovie:
		return []int{typeMovie}
	case domain.LibraryShow:
		return []int{typeShow, typeSeason, typeEpisode}
	case domain.LibraryMusic:
		return []int{typeTrack}
	default:
		return nil
	}
}

// MapLibraries converts Plex directories to domain libraries
func MapLibraries(sourceID string, dirs []Directory) []domain.Library {
	libraries := make([]domain.Library, 0, len(dirs))
	for _, d := range dirs {
		libraries = append(libraries, domain.Library{
			SourceID: sourceID,
			ID:       d.Key,
			Name:     d.Title,
			Type:     domain.NormalizeLibraryType(d.Type),
		})
	}
	return libraries
}

// MapItem converts one Plex metadata entry. libraryID overrides the
// section reported by the server when set.
func MapItem(m Metadata, libraryID string) domain.MediaItem {
	item := domain.MediaItem{
		ID:          m.RatingKey,
		LibraryID:   libraryID,
		Type:        domain.NormalizeItemType(m.Type),
		Title:       m.Title,
		SortTitle:   m.TitleSort,
		Index:       m.Index,
		PosterRef:   m.Thumb,
		BackdropRef: m.Art,
		Duration:    time.Duration(m.Duration) * time.Millisecond,
		Metadata: domain.Metadata{
			Year:    m.Year,
			Summary: m.Summary,
			Genres:  tags(m.Genre),
			Cast:    tags(m.Role),
		},
		Playback: domain.PlaybackState{
			Position: time.Duration(m.ViewOffset) * time.Millisecond,
			Watched:  m.ViewCount > 0,
		},
	}
	if item.LibraryID == "" && m.LibrarySectionID != 0 {
		item.LibraryID = strconv.Itoa(m.LibrarySectionID)
	}

	switch item.Type {
	case domain.ItemEpisode:
		item.ShowID = m.GrandparentRatingKey
		item.ParentID = m.ParentRatingKey
	case domain.ItemSeason:
		item.ShowID = m.ParentRatingKey
		item.ParentID = m.ParentRatingKey
	case domain.ItemTrack:
		item.ParentID = m.ParentRatingKey
	}

	if m.AudienceRating > 0 {
		item.Metadata.Rating = m.AudienceRating
	} else if m.Rating > 0 {
		item.Metadata.Rating = m.Rating
	}
	if m.LastViewedAt > 0 {
		item.Playback.LastWatched = time.Unix(m.LastViewedAt, 0).UTC()
	}
	if m.UpdatedAt > 0 {
		item.UpdatedAt = time.Unix(m.UpdatedAt, 0).UTC()
	}
	return item
}

// MapItems converts a page of metadata for one library
func MapItems(metadata []Metadata, libraryID string) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, len(metadata))
	for _, m := range metadata {
		items = append(items, MapItem(m, libraryID))
	}
	return items
}

// MapHubs converts /hubs rows into home sections. Entries of types this
// client does not store (clips, albums, photos) are left out.
func MapHubs(sourceID string, hubs []Hub) []domain.HomeSectionContent {
	sections := make([]domain.HomeSectionContent, 0, len(hubs))
	for i, h := range hubs {
		section := domain.HomeSectionContent{
			Section: domain.HomeSection{
				SourceID: sourceID,
				ID:       h.HubIdentifier,
				Title:    h.Title,
				Type:     hubType(h.HubIdentifier),
				Priority: i,
			},
		}
		for _, m := range h.Metadata {
			item := MapItem(m, "")
			if !item.Type.Valid() {
				continue
			}
			section.Items = append(section.Items, item)
		}
		sections = append(sections, section)
	}
	return sections
}

func hubType(identifier string) domain.HomeSectionType {
	id := strings.ToLower(identifier)
	switch {
	case strings.Contains(id, "continue"):
		return domain.SectionContinueWatching
	case strings.Contains(id, "ondeck"):
		return domain.SectionOnDeck
	case strings.Contains(id, "recentlyadded"):
		return domain.SectionRecentlyAdded
	case strings.Contains(id, "toprated"), strings.Contains(id, "highlyrated"):
		return domain.SectionTopRated
	case strings.Contains(id, "trending"), strings.Contains(id, "popular"):
		return domain.SectionTrending
	default:
		return domain.SectionCustom
	}
}

func tags(in []Tag) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t.Tag != "" {
			out = append(out, t.Tag)
		}
	}
	return out
}
