// Package app wires reel's components together and owns their lifecycle.
//
// An App holds the data directory lock for as long as it is open, so two
// processes never share one catalog database.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/config"
	"github.com/mmcdole/reel/internal/credstore"
	"github.com/mmcdole/reel/internal/imagecache"
	"github.com/mmcdole/reel/internal/library"
	"github.com/mmcdole/reel/internal/mediaserver"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
	"github.com/mmcdole/reel/internal/monitor"
	"github.com/mmcdole/reel/internal/search"
	"github.com/mmcdole/reel/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ErrLocked is returned by Open when another process holds the data directory
var ErrLocked = errors.New("another reel instance is using this data directory")

// App is the process-wide component graph
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	lock      *flock.Flock
	transport transport.Options
	now       func() time.Time

	Store       *store.Store
	Credentials *credstore.Store
	Bus         *broker.Broker
	Backends    *mediaserver.Factory
	Library     *library.Service
	Monitor     *monitor.Monitor
	Images      *imagecache.Coordinator
	Search      *search.Service

	imageCache *imagecache.Cache
}

// Open locks the data directory and opens every store. Nothing runs in the
// background until Run is called.
func Open(cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.DataDir)
	}

	a = &App{
		cfg:    cfg,
		logger: logger,
		lock:   lock,
		now:    time.Now,
		transport: transport.Options{
			Timeout:         cfg.Adapter.Timeout,
			RateLimit:       cfg.Adapter.RateLimit,
			Burst:           cfg.Adapter.Burst,
			BreakerFailures: cfg.Adapter.BreakerFailures,
			BreakerCooldown: cfg.Adapter.BreakerCooldown,
		},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Store, err = store.Open(cfg.DatabasePath(), logger); err != nil {
		return nil, err
	}
	if a.Credentials, err = credstore.Open(cfg.CredentialsPath()); err != nil {
		return nil, err
	}
	if a.imageCache, err = imagecache.OpenCache(cfg.ImageCachePath()); err != nil {
		return nil, err
	}

	a.Bus = broker.New(cfg.Broker.Buffer, logger)
	a.Backends = mediaserver.NewFactory(a.Credentials, a.transport, logger)
	a.Library = library.NewService(a.Store, a.Backends, a.Credentials, a.Bus, library.Options{
		PageSize:   cfg.Sync.PageSize,
		RemoteSkew: cfg.Merge.RemoteSkew,
		Retry:      cfg.RetryPolicy(),
	}, logger)
	a.Monitor = monitor.New(a.Store, a.Backends, a.Bus, monitor.Options{
		LocalInterval:   cfg.Monitor.LocalInterval,
		RemoteInterval:  cfg.Monitor.RemoteInterval,
		RelayInterval:   cfg.Monitor.RelayInterval,
		DisconnectAfter: cfg.Monitor.DisconnectAfter,
		Retry:           cfg.RetryPolicy(),
	}, logger)
	a.Images = imagecache.NewCoordinator(a.imageCache, a.resolveImage, imagecache.Options{
		Workers: cfg.Images.Workers,
		Timeout: cfg.Images.Timeout,
	}, logger)
	a.Search = search.NewService(a.Store, a.Bus, logger)

	logger.Info("reel opened", "data_dir", cfg.DataDir)
	return a, nil
}

// Close releases every store and the data directory lock
func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.imageCache != nil {
		errs = append(errs, a.imageCache.Close())
	}
	if a.Credentials != nil {
		errs = append(errs, a.Credentials.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the app was opened with
func (a *App) Config() *config.Config { return a.cfg }

// Transport returns the adapter options derived from config
func (a *App) Transport() transport.Options { return a.transport }

// Run supervises the background services until ctx is cancelled: the
// connection monitor, the reconnect sync listener, the image workers, the
// search indexer and, when configured, the metrics listener.
func (a *App) Run(ctx context.Context) error {
	sup := suture.New("reel", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: a.logger}).MustHook(),
		Timeout:   shutdownTimeout,
	})
	sup.Add(named("monitor", a.Monitor))
	sup.Add(named("reconnect-sync", a.Library))
	sup.Add(named("images", a.Images))
	sup.Add(named("search-index", a.Search))
	if a.cfg.Metrics.Listen != "" {
		sup.Add(newMetricsServer(a.cfg.Metrics.Listen))
	}

	a.logger.Info("services starting")
	err := sup.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		a.logger.Info("services stopped")
		return nil
	}
	return err
}

// resolveImage maps an image key to a URL on the source's active endpoint
func (a *App) resolveImage(ctx context.Context, key imagecache.Key) (string, error) {
	src, err := a.Store.GetSource(ctx, key.SourceID)
	if err != nil {
		return "", err
	}
	backend, err := a.Backends.Backend(ctx, src)
	if err != nil {
		return "", err
	}
	return backend.ImageURL(key.Ref)
}

// service gives a supervised component a readable name in supervisor logs
type service struct {
	suture.Service
	name string
}

func named(name string, svc suture.Service) service {
	return service{Service: svc, name: name}
}

func (s service) String() string { return s.name }

// metricsServer exposes the Prometheus registry over HTTP
type metricsServer struct {
	server *http.Server
}

func newMetricsServer(addr string) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &metricsServer{server: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (m *metricsServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := m.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (m *metricsServer) String() string { return "metrics" }
