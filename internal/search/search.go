// Package search runs fuzzy title search over the local catalog.
//
// The index is rebuilt from the store whenever a sync completes, so search
// works entirely offline.
package search

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
)

// Subsequence match scores stay above every word match score
const (
	scoreSubsequence   = 1000
	subsequenceCeiling = 500
)

// ItemSource lists the live catalog
type ItemSource interface {
	AllItems(ctx context.Context) ([]domain.MediaItem, error)
}

// Filter narrows results; zero values match everything
type Filter struct {
	Types     []domain.ItemType
	SourceID  string
	LibraryID string
	Unwatched bool
	Limit     int
}

func (f Filter) allows(item domain.MediaItem) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, item.Type) {
		return false
	}
	if f.SourceID != "" && item.SourceID != f.SourceID {
		return false
	}
	if f.LibraryID != "" && item.LibraryID != f.LibraryID {
		return false
	}
	return !f.Unwatched || !item.Playback.Watched
}

// Result is one ranked hit
type Result struct {
	Item           domain.MediaItem
	Score          int   // Lower is better
	MatchedIndexes []int // Rune positions in the title, for highlighting
}

// titleIndex implements sahilm/fuzzy.Source over precomputed lowercase titles
type titleIndex struct {
	items  []domain.MediaItem
	titles []string
}

func (idx *titleIndex) String(i int) string { return idx.titles[i] }
func (idx *titleIndex) Len() int            { return len(idx.items) }

// Service holds the in-memory search index
type Service struct {
	items  ItemSource
	bus    *broker.Broker
	logger *slog.Logger

	mu    sync.RWMutex
	index *titleIndex
}

// NewService creates a search service; bus may be nil when no automatic
// rebuilds are wanted
func NewService(items ItemSource, bus *broker.Broker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		items:  items,
		bus:    bus,
		logger: logger.With("component", "search"),
		index:  &titleIndex{},
	}
}

// Rebuild reloads the index from the store
func (s *Service) Rebuild(ctx context.Context) error {
	items, err := s.items.AllItems(ctx)
	if err != nil {
		return err
	}
	idx := &titleIndex{items: items, titles: make([]string, len(items))}
	for i, item := range items {
		idx.titles[i] = strings.ToLower(item.Title)
	}

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	s.logger.Debug("search index rebuilt", "items", len(items))
	return nil
}

// Len returns the number of indexed items
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Serve builds the index and rebuilds it after every completed sync
func (s *Service) Serve(ctx context.Context) error {
	sub := s.bus.Subscribe(ctx, broker.KindSyncCompleted)
	defer sub.Close()

	if err := s.Rebuild(ctx); err != nil {
		s.logger.Warn("initial search index build failed", "error", err)
	}
	for range sub.All() {
		if err := s.Rebuild(ctx); err != nil {
			s.logger.Warn("search index rebuild failed", "error", err)
		}
	}
	return ctx.Err()
}

// Search ranks indexed titles against query. Titles are matched word by
// word (any order, with typo tolerance); when no title matches that way the
// query is tried as a subsequence, which catches abbreviations like "lotr".
func (s *Service) Search(query string, filter Filter) []Result {
	query = strings.TrimSpace(query)
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()

	var results []Result
	for _, item := range idx.items {
		if !filter.allows(item) {
			continue
		}
		if score, positions, ok := matchTitle(item.Title, words); ok {
			results = append(results, Result{Item: item, Score: score, MatchedIndexes: positions})
		}
	}

	if len(results) == 0 {
		compact := strings.ToLower(strings.Join(strings.Fields(query), ""))
		for _, m := range fuzzy.FindFrom(compact, idx) {
			if !filter.allows(idx.items[m.Index]) {
				continue
			}
			results = append(results, Result{
				Item:           idx.items[m.Index],
				Score:          scoreSubsequence + max(0, subsequenceCeiling-m.Score),
				MatchedIndexes: m.MatchedIndexes,
			})
		}
	}

	lower := strings.ToLower(query)
	slices.SortStableFunc(results, func(a, b Result) int {
		if a.Score != b.Score {
			return a.Score - b.Score
		}
		da := fuzzysearch.LevenshteinDistance(lower, strings.ToLower(a.Item.Title))
		db := fuzzysearch.LevenshteinDistance(lower, strings.ToLower(b.Item.Title))
		if da != db {
			return da - db
		}
		return strings.Compare(a.Item.Title, b.Item.Title)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}
