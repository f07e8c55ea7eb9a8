// Package testsupport builds configs, stores and fake media servers for tests.
package testsupport

import (
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration
type ConfigOption func(*config.Config)

// NewConfig produces a config rooted in a per-test temp directory with
// short intervals so retry and monitor paths finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Logging.File = cfg.DataDir + "/reel.log"
	cfg.Adapter.Timeout = 2 * time.Second
	cfg.Retry.Initial = time.Millisecond
	cfg.Retry.MaxInterval = 8 * time.Millisecond
	cfg.Retry.MaxRetries = 1
	cfg.Monitor.LocalInterval = 10 * time.Millisecond
	cfg.Monitor.RemoteInterval = 20 * time.Millisecond
	cfg.Monitor.RelayInterval = 40 * time.Millisecond

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithPageSize overrides the sync window size
func WithPageSize(n int) ConfigOption {
	return func(c *config.Config) {
		c.Sync.PageSize = n
	}
}
