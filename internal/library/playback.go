package library

import (
	"context"
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

// UpdatePlaybackProgress records local consumption state. The write is
// stamped with the current time so it outranks older remote reports.
func (s *Service) UpdatePlaybackProgress(ctx context.Context, sourceID, itemID string, position time.Duration, watched bool) error {
	state := domain.PlaybackState{
		Position:    position,
		Watched:     watched,
		LastWatched: s.now(),
	}
	if err := s.repo.UpdatePlaybackProgress(ctx, sourceID, itemID, state); err != nil {
		s.logger.Error("failed to update playback", "source", sourceID, "item", itemID, "error", err)
		return err
	}
	return nil
}
