package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
)

type memItems struct {
	mu    sync.Mutex
	items []domain.MediaItem
}

func (m *memItems) AllItems(context.Context) ([]domain.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MediaItem(nil), m.items...), nil
}

func (m *memItems) add(item domain.MediaItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
}

func catalog() *memItems {
	return &memItems{items: []domain.MediaItem{
		{SourceID: "a", ID: "1", LibraryID: "tv", Type: domain.ItemShow, Title: "Mr. Robot"},
		{SourceID: "a", ID: "2", LibraryID: "movies", Type: domain.ItemMovie, Title: "The Lord of the Rings"},
		{SourceID: "b", ID: "3", LibraryID: "movies", Type: domain.ItemMovie, Title: "Robots"},
		{SourceID: "b", ID: "4", LibraryID: "movies", Type: domain.ItemMovie, Title: "Heat",
			Playback: domain.PlaybackState{Watched: true}},
	}}
}

func newIndexed(t *testing.T) *Service {
	t.Helper()
	s := NewService(catalog(), nil, nil)
	if err := s.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return s
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Item.ID
	}
	return out
}

func TestSearchRanking(t *testing.T) {
	s := newIndexed(t)

	cases := []struct {
		query string
		want  []string
	}{
		{"robot mr", []string{"1"}},
		{"robot", []string{"1", "3"}},
		{"hert", []string{"4"}},
		{"lotr", []string{"2"}},
		{"ROBOTS", []string{"3", "1"}},
		{"zzz", nil},
		{"   ", nil},
	}
	for _, tc := range cases {
		got := ids(s.Search(tc.query, Filter{}))
		if len(got) != len(tc.want) {
			t.Fatalf("Search(%q) = %v, want %v", tc.query, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("Search(%q) = %v, want %v", tc.query, got, tc.want)
			}
		}
	}
}

func TestMatchedIndexesHighlightTitle(t *testing.T) {
	s := newIndexed(t)
	results := s.Search("robot", Filter{Types: []domain.ItemType{domain.ItemShow}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	want := []int{4, 5, 6, 7, 8}
	got := results[0].MatchedIndexes
	if len(got) != len(want) {
		t.Fatalf("matched indexes %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("matched indexes %v, want %v", got, want)
		}
	}
}

func TestFilters(t *testing.T) {
	s := newIndexed(t)

	if got := ids(s.Search("heat", Filter{Unwatched: true})); len(got) != 0 {
		t.Fatalf("watched item should be filtered, got %v", got)
	}
	if got := ids(s.Search("robot", Filter{SourceID: "b"})); len(got) != 1 || got[0] != "3" {
		t.Fatalf("source filter: got %v", got)
	}
	if got := ids(s.Search("robot", Filter{Types: []domain.ItemType{domain.ItemMovie}})); len(got) != 1 || got[0] != "3" {
		t.Fatalf("type filter: got %v", got)
	}
	if got := ids(s.Search("robot", Filter{Limit: 1})); len(got) != 1 || got[0] != "1" {
		t.Fatalf("limit: got %v", got)
	}
}

func TestServeRebuildsAfterSync(t *testing.T) {
	items := catalog()
	bus := broker.New(8, nil)
	defer bus.Close()
	s := NewService(items, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitFor := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitFor("initial index", func() bool { return bus.Subscribers() == 1 && s.Len() == 4 })

	items.add(domain.MediaItem{SourceID: "a", ID: "5", Type: domain.ItemMovie, Title: "Robocop"})
	bus.Publish(broker.SyncCompleted{SourceID: "a", Mode: domain.SyncIncremental})

	waitFor("rebuilt index", func() bool { return s.Len() == 5 })
	if got := ids(s.Search("robocop", Filter{})); len(got) != 1 || got[0] != "5" {
		t.Fatalf("new item not searchable: %v", got)
	}
}
