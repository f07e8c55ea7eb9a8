// Package mediaserver builds media server backends for configured sources
// and identifies servers from a bare URL.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver/jellyfin"
	"github.com/mmcdole/reel/internal/mediaserver/plex"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

// NewBackend creates the backend for src's kind, seeded with creds
func NewBackend(src domain.Source, creds domain.Credentials, opts transport.Options, logger *slog.Logger) (domain.Backend, error) {
	switch src.Kind {
	case domain.BackendPlex:
		return plex.NewClient(src.ID, src.Endpoints, creds.Token, opts, logger), nil
	case domain.BackendJellyfin:
		return jellyfin.NewClient(src.ID, src.Endpoints, creds, opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", domain.ErrParse, src.Kind)
	}
}

type cachedBackend struct {
	fingerprint string
	backend     domain.Backend
}

// Factory hands out one long-lived backend per source so endpoint
// stickiness, rate limits and breaker state survive between calls
type Factory struct {
	creds  domain.CredentialStore
	opts   transport.Options
	logger *slog.Logger

	mu       sync.Mutex
	backends map[string]cachedBackend
}

// NewFactory creates a factory reading secrets from creds
func NewFactory(creds domain.CredentialStore, opts transport.Options, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		creds:    creds,
		opts:     opts,
		logger:   logger,
		backends: make(map[string]cachedBackend),
	}
}

// Backend returns the cached backend for src, rebuilding it when the
// source's kind, endpoints or credential reference changed
func (f *Factory) Backend(ctx context.Context, src domain.Source) (domain.Backend, error) {
	fp := fingerprint(src)

	f.mu.Lock()
	cached, ok := f.backends[src.ID]
	f.mu.Unlock()
	if ok && cached.fingerprint == fp {
		return cached.backend, nil
	}

	creds, err := f.creds.Get(ctx, src.CredentialRef)
	if err != nil && !errors.Is(err, domain.ErrCredentialNotFound) {
		return nil, err
	}

	backend, err := NewBackend(src, creds, f.opts, f.logger)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// A concurrent caller may have won the race; keep the first backend
	if cached, ok := f.backends[src.ID]; ok && cached.fingerprint == fp {
		return cached.backend, nil
	}
	f.backends[src.ID] = cachedBackend{fingerprint: fp, backend: backend}
	f.logger.Debug("backend created", "source", src.ID, "kind", src.Kind)
	return backend, nil
}

// Forget drops the cached backend for a source
func (f *Factory) Forget(sourceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.backends, sourceID)
}

func fingerprint(src domain.Source) string {
	var b strings.Builder
	b.WriteString(string(src.Kind))
	b.WriteByte('|')
	b.WriteString(src.CredentialRef)
	for _, ep := range src.Endpoints {
		fmt.Fprintf(&b, "|%s,%t,%t", ep.URL, ep.Local, ep.Relay)
	}
	return b.String()
}
