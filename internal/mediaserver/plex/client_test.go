package plex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

const testToken = "plex-token"

// fakeServer serves a small show library (section 2) and a movie library (section 1)
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()

	byType := map[int][]Metadata{
		typeMovie: {
			{RatingKey: "m1", Type: "movie", Title: "Heat", Year: 1995, Duration: 10_200_000,
				ViewOffset: 60_000, LastViewedAt: 1_700_000_000, Thumb: "/library/metadata/m1/thumb/1",
				Genre: []Tag{{Tag: "Crime"}}, AudienceRating: 8.3, UpdatedAt: 1_600_000_000},
		},
		typeShow: {
			{RatingKey: "s1", Type: "show", Title: "Alpha"},
			{RatingKey: "s2", Type: "show", Title: "Beta"},
		},
		typeSeason: {
			{RatingKey: "s1x1", Type: "season", Title: "Season 1", ParentRatingKey: "s1", Index: 1},
			{RatingKey: "s1x2", Type: "season", Title: "Season 2", ParentRatingKey: "s1", Index: 2},
			{RatingKey: "s2x1", Type: "season", Title: "Season 1", ParentRatingKey: "s2", Index: 1},
		},
		typeEpisode: {
			{RatingKey: "e1", Type: "episode", Title: "Pilot", ParentRatingKey: "s1x1", GrandparentRatingKey: "s1", Index: 1},
			{RatingKey: "e2", Type: "episode", Title: "Two", ParentRatingKey: "s1x1", GrandparentRatingKey: "s1", Index: 2},
			{RatingKey: "e3", Type: "episode", Title: "Three", ParentRatingKey: "s1x2", GrandparentRatingKey: "s1", Index: 1},
			{RatingKey: "e4", Type: "episode", Title: "Four", ParentRatingKey: "s2x1", GrandparentRatingKey: "s2", Index: 1},
			{RatingKey: "e5", Type: "episode", Title: "Five", ParentRatingKey: "s2x1", GrandparentRatingKey: "s2", Index: 2},
		},
	}

	write := func(w http.ResponseWriter, mc MediaContainer) {
		json.NewEncoder(w).Encode(APIResponse{MediaContainer: mc})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/identity", func(w http.ResponseWriter, r *http.Request) {
		write(w, MediaContainer{MachineIdentifier: "machine-1"})
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Plex-Token") != testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/{$}", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, MediaContainer{MachineIdentifier: "machine-1", FriendlyName: "Den", MyPlexUsername: "alice"})
	}))
	mux.HandleFunc("/library/sections", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, MediaContainer{Directory: []Directory{
			{Key: "1", Type: "movie", Title: "Movies"},
			{Key: "2", Type: "show", Title: "TV Shows"},
			{Key: "3", Type: "photo", Title: "Photos"},
		}})
	}))
	mux.HandleFunc("/library/sections/{id}/all", authed(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		typ, _ := strconv.Atoi(q.Get("type"))
		start, _ := strconv.Atoi(q.Get("X-Plex-Container-Start"))
		size, _ := strconv.Atoi(q.Get("X-Plex-Container-Size"))
		all := byType[typ]
		if r.PathValue("id") == "1" && typ != typeMovie {
			all = nil
		}
		end := min(start+size, len(all))
		var window []Metadata
		if start < end {
			window = all[start:end]
		}
		write(w, MediaContainer{Size: len(window), TotalSize: len(all), Offset: start, Metadata: window})
	}))
	mux.HandleFunc("/hubs", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, MediaContainer{Hub: []Hub{
			{HubIdentifier: "home.continue", Title: "Continue Watching", Metadata: []Metadata{byType[typeMovie][0]}},
			{HubIdentifier: "home.ondeck", Title: "On Deck", Metadata: []Metadata{byType[typeEpisode][0], {RatingKey: "c1", Type: "clip"}}},
			{HubIdentifier: "movie.recentlyadded.1", Title: "Recently Added Movies"},
		}})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	opts := transport.Options{Timeout: time.Second, BreakerFailures: 100}
	c := NewClient("src", []domain.Endpoint{{URL: srv.URL, Local: true}}, "", opts, nil)
	if _, err := c.Authenticate(context.Background(), domain.Credentials{Token: testToken}); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return c
}

func TestAuthenticate(t *testing.T) {
	srv := fakeServer(t)
	c := NewClient("src", []domain.Endpoint{{URL: srv.URL}}, "", transport.Options{Timeout: time.Second}, nil)

	user, err := c.Authenticate(context.Background(), domain.Credentials{Token: testToken})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ServerID != "machine-1" || user.Name != "alice" || user.Token != testToken {
		t.Fatalf("unexpected user %+v", user)
	}
	if c.ServerID() != "machine-1" {
		t.Fatalf("server id not recorded")
	}

	if _, err := c.Authenticate(context.Background(), domain.Credentials{Token: "stale"}); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired for a rejected token, got %v", err)
	}
	if _, err := c.Authenticate(context.Background(), domain.Credentials{}); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired without a token, got %v", err)
	}
}

func TestListLibrariesNormalizesTypes(t *testing.T) {
	c := newTestClient(t, fakeServer(t))

	libs, err := c.ListLibraries(context.Background())
	if err != nil {
		t.Fatalf("ListLibraries failed: %v", err)
	}
	want := []domain.LibraryType{domain.LibraryMovie, domain.LibraryShow, domain.LibraryPhoto}
	if len(libs) != len(want) {
		t.Fatalf("expected %d libraries, got %d", len(want), len(libs))
	}
	for i, lib := range libs {
		if lib.Type != want[i] || lib.SourceID != "src" {
			t.Fatalf("library %d: unexpected %+v", i, lib)
		}
	}
}

func TestShowLibraryWindowsSpanTypes(t *testing.T) {
	c := newTestClient(t, fakeServer(t))
	lib := domain.Library{SourceID: "src", ID: "2", Type: domain.LibraryShow}

	var ids []string
	start := 0
	for {
		page, err := c.ListItems(context.Background(), lib, start, 4)
		if err != nil {
			t.Fatalf("ListItems(%d) failed: %v", start, err)
		}
		for _, item := range page.Items {
			if err := item.Validate(); err != nil {
				t.Fatalf("invalid item: %v", err)
			}
			if item.LibraryID != "2" {
				t.Fatalf("item %s has library %q", item.ID, item.LibraryID)
			}
			ids = append(ids, item.ID)
		}
		if !page.HasMore {
			break
		}
		start += 4
	}

	want := "s1 s2 s1x1 s1x2 s2x1 e1 e2 e3 e4 e5"
	if got := strings.Join(ids, " "); got != want {
		t.Fatalf("unexpected order:\n got %s\nwant %s", got, want)
	}
}

func TestMovieItemMapping(t *testing.T) {
	c := newTestClient(t, fakeServer(t))

	page, err := c.ListItems(context.Background(), domain.Library{ID: "1", Type: domain.LibraryMovie}, 0, 50)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if page.HasMore || len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	m := page.Items[0]
	if m.Type != domain.ItemMovie || m.Duration != 170*time.Minute || m.Playback.Position != time.Minute {
		t.Fatalf("unexpected movie %+v", m)
	}
	if m.Playback.LastWatched.Unix() != 1_700_000_000 || m.Metadata.Rating != 8.3 {
		t.Fatalf("unexpected playback/metadata %+v %+v", m.Playback, m.Metadata)
	}
	if len(m.Metadata.Genres) != 1 || m.Metadata.Genres[0] != "Crime" {
		t.Fatalf("unexpected genres %v", m.Metadata.Genres)
	}
}

func TestUnsupportedLibraryIsEmpty(t *testing.T) {
	c := newTestClient(t, fakeServer(t))
	page, err := c.ListItems(context.Background(), domain.Library{ID: "3", Type: domain.LibraryPhoto}, 0, 50)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(page.Items) != 0 || page.HasMore {
		t.Fatalf("expected an empty page, got %+v", page)
	}
}

func TestHomeSections(t *testing.T) {
	c := newTestClient(t, fakeServer(t))

	sections, err := c.ListHomeSections(context.Background())
	if err != nil {
		t.Fatalf("ListHomeSections failed: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	want := []domain.HomeSectionType{domain.SectionContinueWatching, domain.SectionOnDeck, domain.SectionRecentlyAdded}
	for i, s := range sections {
		if s.Section.Type != want[i] || s.Section.Priority != i {
			t.Fatalf("section %d: unexpected %+v", i, s.Section)
		}
	}
	if len(sections[1].Items) != 1 || sections[1].Items[0].ID != "e1" {
		t.Fatalf("clip should be skipped, got %+v", sections[1].Items)
	}
}

func TestImageURLCarriesToken(t *testing.T) {
	srv := fakeServer(t)
	c := newTestClient(t, srv)

	got, err := c.ImageURL("/library/metadata/m1/thumb/1")
	if err != nil {
		t.Fatalf("ImageURL failed: %v", err)
	}
	want := fmt.Sprintf("%s/library/metadata/m1/thumb/1?X-Plex-Token=%s", srv.URL, testToken)
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if _, err := c.ImageURL(""); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse for an empty reference, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	srv := fakeServer(t)
	c := newTestClient(t, srv)
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	srv.Close()
	if err := c.CheckHealth(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork once the server is gone, got %v", err)
	}
}
