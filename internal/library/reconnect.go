package library

import (
	"context"
	"sync"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
)

// ListenForReconnects runs an Incremental pass whenever a source comes back
// online, until ctx ends. Passes for different sources run concurrently.
func (s *Service) ListenForReconnects(ctx context.Context) error {
	sub := s.bus.Subscribe(ctx, broker.KindConnectionRestored)
	defer sub.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for e := range sub.All() {
		sourceID := e.Source()
		s.logger.Info("connection restored, catching up", "source", sourceID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Failures are already published as SyncFailed
			_, _ = s.SyncSource(ctx, sourceID, domain.SyncIncremental)
		}()
	}
	return ctx.Err()
}

// Serve lets the supervisor run the reconnect listener
func (s *Service) Serve(ctx context.Context) error {
	return s.ListenForReconnects(ctx)
}
