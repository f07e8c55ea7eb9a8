// Package retry holds the backoff policy shared by the sync orchestrator and
// the connection monitor, so both back off on the same curve.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mmcdole/reel/internal/domain"
)

// Policy is an exponential backoff without jitter
type Policy struct {
	Initial     time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxRetries  int // Attempts after the first; 0 means no retries
}

// DefaultPolicy mirrors the config defaults
func DefaultPolicy() Policy {
	return Policy{
		Initial:     2 * time.Second,
		Multiplier:  2,
		MaxInterval: 10 * time.Minute,
		MaxRetries:  4,
	}
}

// WithInitial returns a copy of p starting at d
func (p Policy) WithInitial(d time.Duration) Policy {
	p.Initial = d
	return p
}

// NewBackOff builds a fresh, reset backoff for this policy. The returned
// intervals never decrease and never exceed MaxInterval.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns a non-network error, exhausts
// MaxRetries, or ctx ends. Only ErrNetwork-class failures are retried.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op func() error) error {
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if domain.Classify(err) != domain.KindNetwork {
			return backoff.Permanent(err)
		}
		logger.Debug("retrying after network error", "attempt", attempt, "error", err)
		return err
	}

	var b backoff.BackOff = p.NewBackOff()
	b = backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0)))
	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}
