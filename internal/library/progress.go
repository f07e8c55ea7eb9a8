package library

import (
	"context"

	"github.com/mmcdole/reel/internal/domain"
)

type progressKey struct{}

// WithProgress returns a context whose sync passes report committed pages to
// fn, in addition to Options.OnProgress. A pass joined through SyncSource
// reports to the context of the caller that started it.
func WithProgress(ctx context.Context, fn domain.ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func (s *Service) reportProgress(ctx context.Context, p domain.SyncProgress) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
	if fn, ok := ctx.Value(progressKey{}).(domain.ProgressFunc); ok && fn != nil {
		fn(p)
	}
}
