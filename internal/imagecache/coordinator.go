// Package imagecache fetches remote posters and backdrops into a local
// cache with a bounded worker pool.
//
// Requests are prioritized (visible before offscreen, FIFO within a
// priority) and coalesced by key: concurrent requests for the same image
// share one fetch. A requester is identified by its context; once that
// context is done its result is dropped, and a queued fetch nobody is
// waiting for any more is skipped.
package imagecache

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/metrics"
)

const maxImageBytes = 32 << 20

// Priority orders queued fetches
type Priority int

const (
	Offscreen Priority = iota
	Visible
)

func (p Priority) String() string {
	if p == Visible {
		return "visible"
	}
	return "offscreen"
}

// Key identifies one remote image
type Key struct {
	SourceID string
	Ref      string
}

func (k Key) String() string { return k.SourceID + ":" + k.Ref }

// Result is delivered once per request: Data on success, Err otherwise
type Result struct {
	Data []byte
	Err  error
}

// Loaded reports whether the image bytes are available
func (r Result) Loaded() bool { return r.Err == nil }

// Resolver turns a key into a fetchable URL, typically via the source's backend
type Resolver func(ctx context.Context, key Key) (string, error)

// Fetcher downloads url
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Options configures a Coordinator
type Options struct {
	Workers int
	Timeout time.Duration // Per fetch
	Fetch   Fetcher       // Defaults to an HTTP GET
}

type waiter struct {
	ctx context.Context
	ch  chan Result
}

func (w waiter) gone() bool { return w.ctx.Err() != nil }

type job struct {
	key      Key
	priority Priority
	seq      uint64
	index    int // Heap position; -1 once popped
	waiters  []waiter
}

// Coordinator schedules image fetches. Requests queue until Serve runs.
type Coordinator struct {
	cache   *Cache
	resolve Resolver
	fetch   Fetcher
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	queue jobQueue
	jobs  map[Key]*job // Queued and running
	seq   uint64
	ready chan struct{}
}

// NewCoordinator creates a coordinator backed by cache
func NewCoordinator(cache *Cache, resolve Resolver, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	workers := max(opts.Workers, 1)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetch := opts.Fetch
	if fetch == nil {
		fetch = httpFetcher(&http.Client{})
	}
	return &Coordinator{
		cache:   cache,
		resolve: resolve,
		fetch:   fetch,
		workers: workers,
		timeout: timeout,
		logger:  logger.With("component", "images"),
		jobs:    make(map[Key]*job),
		ready:   make(chan struct{}, workers),
	}
}

// Request asks for key's bytes. The returned channel receives exactly one
// Result unless ctx is done first, in which case it receives nothing.
func (c *Coordinator) Request(ctx context.Context, key Key, prio Priority) <-chan Result {
	ch := make(chan Result, 1)

	if data, ok, err := c.cache.Get(key); err != nil {
		c.logger.Warn("image cache read failed", "key", key.String(), "error", err)
	} else if ok {
		metrics.ImageFetches.WithLabelValues("cache_hit").Inc()
		ch <- Result{Data: data}
		return ch
	}

	w := waiter{ctx: ctx, ch: ch}

	c.mu.Lock()
	defer c.mu.Unlock()

	if j, ok := c.jobs[key]; ok {
		j.waiters = append(j.waiters, w)
		metrics.ImageFetches.WithLabelValues("coalesced").Inc()
		if j.index >= 0 && prio > j.priority {
			j.priority = prio
			c.seq++
			j.seq = c.seq
			heap.Fix(&c.queue, j.index)
		}
		return ch
	}

	c.seq++
	j := &job{key: key, priority: prio, seq: c.seq, waiters: []waiter{w}}
	c.jobs[key] = j
	heap.Push(&c.queue, j)
	metrics.ImageQueueDepth.Set(float64(c.queue.Len()))

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return ch
}

// QueueLen returns the number of fetches waiting for a worker
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// InvalidateSource purges cached images for a source and fails its queued requests
func (c *Coordinator) InvalidateSource(sourceID string) error {
	c.mu.Lock()
	var dropped []*job
	for key, j := range c.jobs {
		if key.SourceID != sourceID {
			continue
		}
		delete(c.jobs, key)
		// Running fetches still deliver but no longer write the cache
		if j.index < 0 {
			continue
		}
		heap.Remove(&c.queue, j.index)
		dropped = append(dropped, j)
	}
	metrics.ImageQueueDepth.Set(float64(c.queue.Len()))
	c.mu.Unlock()

	for _, j := range dropped {
		deliver(j.waiters, Result{Err: fmt.Errorf("%w: source %s removed", domain.ErrSourceNotFound, sourceID)})
	}

	removed, err := c.cache.InvalidateSource(sourceID)
	if err != nil {
		return err
	}
	c.logger.Info("image cache invalidated", "source", sourceID, "images", removed, "queued", len(dropped))
	return nil
}

// Serve runs the worker pool until ctx is cancelled
func (c *Coordinator) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Coordinator) work(ctx context.Context) {
	for {
		j := c.next()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-c.ready:
				continue
			}
		}
		c.run(ctx, j)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the highest-priority job that still has a live waiter.
// Jobs nobody waits for are discarded here.
func (c *Coordinator) next() *job {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.queue.Len() > 0 {
		j := heap.Pop(&c.queue).(*job)
		metrics.ImageQueueDepth.Set(float64(c.queue.Len()))
		if liveWaiters(j.waiters) {
			return j
		}
		delete(c.jobs, j.key)
		metrics.ImageFetches.WithLabelValues("skipped").Inc()
		c.logger.Debug("image fetch skipped, no live requesters", "key", j.key.String())
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, j *job) {
	data, err := c.load(ctx, j.key)

	c.mu.Lock()
	current := c.jobs[j.key] == j
	if current {
		delete(c.jobs, j.key)
	}
	waiters := j.waiters
	j.waiters = nil
	c.mu.Unlock()

	if err != nil {
		metrics.ImageFetches.WithLabelValues("failed").Inc()
		c.logger.Debug("image fetch failed", "key", j.key.String(), "error", err)
		deliver(waiters, Result{Err: err})
		return
	}
	if current {
		if err := c.cache.Put(j.key, data); err != nil {
			c.logger.Warn("image cache write failed", "key", j.key.String(), "error", err)
		}
	}
	metrics.ImageFetches.WithLabelValues("loaded").Inc()
	deliver(waiters, Result{Data: data})
}

func (c *Coordinator) load(ctx context.Context, key Key) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url, err := c.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, url)
}

// deliver sends r to every waiter whose context is still live
func deliver(waiters []waiter, r Result) {
	for _, w := range waiters {
		if w.gone() {
			continue
		}
		w.ch <- r
	}
}

func liveWaiters(waiters []waiter) bool {
	for _, w := range waiters {
		if !w.gone() {
			return true
		}
	}
	return false
}

func httpFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: image request: %v", domain.ErrParse, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch image: %v", domain.ErrNetwork, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: image status %d", domain.ErrAuthRequired, resp.StatusCode)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: image status %d", domain.ErrNetwork, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("%w: image status %d", domain.ErrParse, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read image: %v", domain.ErrNetwork, err)
		}
		return data, nil
	}
}

// jobQueue is a max-heap on priority, FIFO (by seq) within a priority
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
