// Package monitor health-checks every source on its own schedule and turns
// the results, together with sync outcomes, into connection states.
//
// Each source has its own goroutine and lock. A failed check moves the source
// to Disconnected and stretches its check interval exponentially; the first
// successful check resets the interval to the source's tier base.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/metrics"
	"github.com/mmcdole/reel/internal/retry"
)

// Options tunes check cadence
type Options struct {
	LocalInterval   time.Duration // LAN endpoints
	RemoteInterval  time.Duration // Direct remote endpoints
	RelayInterval   time.Duration // Relayed endpoints
	DisconnectAfter int           // Consecutive failures before Disconnected
	Retry           retry.Policy  // Multiplier and ceiling while Disconnected
}

// Monitor owns the ConnectionRecord of every watched source
type Monitor struct {
	repo     domain.SourceRepository
	backends domain.BackendFactory
	bus      *broker.Broker
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	watchers map[string]*watcher
	runCtx   context.Context
	wg       sync.WaitGroup
}

type watcher struct {
	checking sync.Mutex // one check at a time; never held by the event loop

	mu        sync.Mutex // guards rec, backoff and persisted; never held across I/O to the server
	rec       Record
	backoff   *backoff.ExponentialBackOff
	persisted bool
	poke      chan struct{}
	cancel    context.CancelFunc // guarded by Monitor.mu
}

// New creates a monitor. Nothing is checked until Serve or CheckNow runs.
func New(
	repo domain.SourceRepository,
	backends domain.BackendFactory,
	bus *broker.Broker,
	opts Options,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DisconnectAfter <= 0 {
		opts.DisconnectAfter = 1
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Monitor{
		repo:     repo,
		backends: backends,
		bus:      bus,
		opts:     opts,
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
		watchers: make(map[string]*watcher),
	}
}

// Serve watches every configured source and follows sync outcomes until
// ctx ends.
func (m *Monitor) Serve(ctx context.Context) error {
	sub := m.bus.Subscribe(ctx,
		broker.KindSyncFailed, broker.KindSyncCompleted, broker.KindAuthStatusChanged)
	defer sub.Close()

	sources, err := m.repo.ListSources(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.runCtx = ctx
	for _, src := range sources {
		m.ensureWatcherLocked(src)
	}
	// Sources watched before Serve started are picked up here too
	for _, w := range m.watchers {
		m.startLocked(w)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.runCtx = nil
		for _, w := range m.watchers {
			if w.cancel != nil {
				w.cancel()
				w.cancel = nil
			}
		}
		m.mu.Unlock()
		m.wg.Wait()
	}()

	m.logger.Info("connection monitor started", "sources", len(sources))
	for e := range sub.All() {
		m.handleEvent(ctx, e)
	}
	return ctx.Err()
}

// Watch starts monitoring a source. It is a no-op for a watched source.
func (m *Monitor) Watch(src domain.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked(m.ensureWatcherLocked(src))
}

// Unwatch stops monitoring a source and forgets its record
func (m *Monitor) Unwatch(sourceID string) {
	m.mu.Lock()
	w, ok := m.watchers[sourceID]
	delete(m.watchers, sourceID)
	var cancel context.CancelFunc
	if ok {
		cancel, w.cancel = w.cancel, nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.ForgetSource(sourceID)
}

// CheckNow runs one health check for a source and returns its new state
func (m *Monitor) CheckNow(ctx context.Context, sourceID string) (domain.ConnectionState, error) {
	w, err := m.watcherFor(ctx, sourceID)
	if err != nil {
		return domain.StateDisconnected, err
	}
	return m.check(ctx, w)
}

// Record returns the current record of a source
func (m *Monitor) Record(sourceID string) (Record, bool) {
	m.mu.Lock()
	w, ok := m.watchers[sourceID]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	return w.record(), true
}

// Snapshot returns every record ordered by source ID
func (m *Monitor) Snapshot() []Record {
	m.mu.Lock()
	watchers := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	out := make([]Record, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, w.record())
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out
}

func (m *Monitor) watcherFor(ctx context.Context, sourceID string) (*watcher, error) {
	m.mu.Lock()
	w, ok := m.watchers[sourceID]
	m.mu.Unlock()
	if ok {
		return w, nil
	}

	src, err := m.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureWatcherLocked(src), nil
}

// Records start Disconnected: a source is offline until a check proves otherwise
func (m *Monitor) ensureWatcherLocked(src domain.Source) *watcher {
	if w, ok := m.watchers[src.ID]; ok {
		return w
	}
	var ep domain.Endpoint
	if len(src.Endpoints) > 0 {
		ep = src.Endpoints[0]
	}
	w := &watcher{
		rec: Record{
			SourceID:     src.ID,
			State:        domain.StateDisconnected,
			Interval:     m.tierInterval(ep),
			AuthRequired: src.AuthStatus == domain.AuthRequired,
			Endpoint:     ep,
		},
		poke: make(chan struct{}, 1),
	}
	m.watchers[src.ID] = w
	return w
}

func (m *Monitor) startLocked(w *watcher) {
	if m.runCtx == nil || w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.runCtx)
	w.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx, w)
}

func (m *Monitor) run(ctx context.Context, w *watcher) {
	defer m.wg.Done()

	for {
		if _, err := m.check(ctx, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrSourceNotFound) {
				m.logger.Info("source removed, stopping checks", "source", w.sourceID())
				m.forget(w)
				return
			}
			m.logger.Warn("health check could not run", "source", w.sourceID(), "error", err)
		}

		timer := time.NewTimer(max(time.Until(w.record().NextCheck()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.poke:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Monitor) forget(w *watcher) {
	id := w.sourceID()
	m.mu.Lock()
	if m.watchers[id] == w {
		delete(m.watchers, id)
	}
	m.mu.Unlock()
	metrics.ForgetSource(id)
}

// check probes the source and applies the transition rules. Only a failure
// to reach the server counts against it: a server that answers with an auth
// or payload error is reachable.
func (m *Monitor) check(ctx context.Context, w *watcher) (domain.ConnectionState, error) {
	w.checking.Lock()
	defer w.checking.Unlock()

	id := w.sourceID()
	src, err := m.repo.GetSource(ctx, id)
	if err != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.rec.LastCheck = m.now()
		return w.rec.State, err
	}
	w.mu.Lock()
	w.rec.AuthRequired = src.AuthStatus == domain.AuthRequired
	w.mu.Unlock()

	ep, reached, healthErr := m.probe(ctx, src)
	if ctx.Err() != nil {
		return w.record().State, ctx.Err()
	}
	metrics.RecordHealthCheck(reached)

	w.mu.Lock()
	defer w.mu.Unlock()
	if ep != nil {
		w.rec.Endpoint = *ep
	}
	w.rec.LastCheck = m.now()
	base := m.tierInterval(w.rec.Endpoint)

	next := w.rec.State
	if reached {
		w.rec.ConsecutiveFailures = 0
		w.rec.Interval = base
		w.backoff = nil
		if domain.Classify(healthErr) == domain.KindAuthRequired {
			w.rec.AuthRequired = true
		}
		if healthErr != nil {
			m.logger.Debug("health check answered with an error", "source", id, "error", healthErr)
		}
		next = w.rec.reachableState()
	} else {
		w.rec.ConsecutiveFailures++
		if w.rec.ConsecutiveFailures >= m.opts.DisconnectAfter {
			next = domain.StateDisconnected
			w.rec.Interval = m.nextBackoff(w, base)
		} else {
			w.rec.Interval = base
		}
		m.logger.Debug("health check failed", "source", id, "failures", w.rec.ConsecutiveFailures,
			"next_check", w.rec.Interval, "error", healthErr)
	}

	m.transition(ctx, w, next)
	return w.rec.State, nil
}

// probe runs the health request without touching the record. reached is
// true when the server answered, even with an auth or payload error.
func (m *Monitor) probe(ctx context.Context, src domain.Source) (ep *domain.Endpoint, reached bool, err error) {
	backend, err := m.backends.Backend(ctx, src)
	if err != nil {
		return nil, false, err
	}
	err = backend.CheckHealth(ctx)
	active := backend.ActiveEndpoint()
	switch domain.Classify(err) {
	case domain.KindAuthRequired, domain.KindParse:
		return &active, true, err
	}
	return &active, err == nil, err
}

// nextBackoff stretches the interval on the shared retry curve, starting at
// the tier base. The curve never drops below base.
func (m *Monitor) nextBackoff(w *watcher, base time.Duration) time.Duration {
	if w.backoff == nil {
		p := m.opts.Retry.WithInitial(base)
		p.MaxInterval = max(p.MaxInterval, base)
		w.backoff = p.NewBackOff()
	}
	d := w.backoff.NextBackOff()
	if d == backoff.Stop {
		return w.rec.Interval
	}
	return d
}

func (m *Monitor) tierInterval(ep domain.Endpoint) time.Duration {
	switch {
	case ep.Relay:
		return m.opts.RelayInterval
	case ep.Local:
		return m.opts.LocalInterval
	default:
		return m.opts.RemoteInterval
	}
}

// transition records and publishes a state change. Callers hold w.mu.
func (m *Monitor) transition(ctx context.Context, w *watcher, next domain.ConnectionState) {
	id := w.rec.SourceID
	from := w.rec.State
	if from == next && w.persisted {
		return
	}

	w.rec.State = next
	if err := m.repo.MarkSourceConnectionState(ctx, id, next); err != nil {
		m.logger.Error("failed to persist connection state", "source", id, "state", next, "error", err)
	} else {
		w.persisted = true
	}
	metrics.SetConnectionState(id, next)
	if from == next {
		return
	}

	m.logger.Info("connection state changed", "source", id, "from", from, "to", next)
	m.bus.Publish(broker.ConnectionChanged{SourceID: id, From: from, To: next})
	if from == domain.StateDisconnected {
		m.bus.Publish(broker.ConnectionRestored{SourceID: id})
	}
}

func (m *Monitor) handleEvent(ctx context.Context, e broker.Event) {
	m.mu.Lock()
	w, ok := m.watchers[e.Source()]
	m.mu.Unlock()
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev := e.(type) {
	case broker.SyncFailed:
		w.rec.LastSyncFailed = true
		if ev.ErrKind == domain.KindAuthRequired {
			w.rec.AuthRequired = true
		}
		if w.rec.State == domain.StateConnected {
			m.transition(ctx, w, domain.StateSyncFailed)
		}
		// A network failure mid-sync may mean the source went away
		if ev.ErrKind == domain.KindNetwork {
			w.pokeNow()
		}
	case broker.SyncCompleted:
		w.rec.LastSyncFailed = false
		w.rec.AuthRequired = false
		if w.rec.State == domain.StateSyncFailed {
			m.transition(ctx, w, domain.StateConnected)
		}
	case broker.AuthStatusChanged:
		w.rec.AuthRequired = ev.Status == domain.AuthRequired
		if w.rec.State != domain.StateDisconnected {
			m.transition(ctx, w, w.rec.reachableState())
		}
	}
}

func (w *watcher) record() Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec
}

func (w *watcher) sourceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec.SourceID
}

func (w *watcher) pokeNow() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}
