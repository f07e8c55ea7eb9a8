package imagecache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

type recorder struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	gate    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{started: make(chan string, 64), gate: make(chan struct{})}
}

func (r *recorder) fetch(ctx context.Context, url string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	r.mu.Unlock()
	r.started <- url
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []byte("img:" + url), nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func refResolver(_ context.Context, k Key) (string, error) { return k.Ref, nil }

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// startCoordinator runs a single-worker coordinator until the test ends
func startCoordinator(t *testing.T, cache *Cache, rec *recorder) *Coordinator {
	t.Helper()
	coord := NewCoordinator(cache, refResolver, Options{Workers: 1, Timeout: 5 * time.Second, Fetch: rec.fetch}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return coord
}

func waitStarted(t *testing.T, rec *recorder, want string) {
	t.Helper()
	select {
	case got := <-rec.started:
		if got != want {
			t.Fatalf("expected fetch of %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch of %s never started", want)
	}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no result delivered")
		return Result{}
	}
}

func key(ref string) Key { return Key{SourceID: "src", Ref: ref} }

func TestVisibleBeforeOffscreenFIFOWithin(t *testing.T) {
	rec := newRecorder()
	coord := startCoordinator(t, openCache(t), rec)
	ctx := context.Background()

	first := coord.Request(ctx, key("a"), Offscreen)
	waitStarted(t, rec, "a")

	results := []<-chan Result{
		coord.Request(ctx, key("b"), Offscreen),
		coord.Request(ctx, key("c"), Visible),
		coord.Request(ctx, key("d"), Offscreen),
		coord.Request(ctx, key("e"), Visible),
	}
	if coord.QueueLen() != 4 {
		t.Fatalf("expected 4 queued fetches, got %d", coord.QueueLen())
	}
	close(rec.gate)

	waitResult(t, first)
	for _, ch := range results {
		if r := waitResult(t, ch); !r.Loaded() {
			t.Fatalf("unexpected failure: %v", r.Err)
		}
	}

	got := rec.Calls()
	want := []string{"a", "c", "e", "b", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fetch order %v, want %v", got, want)
		}
	}
}

func TestDuplicateRequestsShareOneFetch(t *testing.T) {
	rec := newRecorder()
	coord := startCoordinator(t, openCache(t), rec)
	ctx := context.Background()

	first := coord.Request(ctx, key("poster"), Offscreen)
	waitStarted(t, rec, "poster")
	second := coord.Request(ctx, key("poster"), Visible)
	third := coord.Request(ctx, key("poster"), Offscreen)
	close(rec.gate)

	for _, ch := range []<-chan Result{first, second, third} {
		r := waitResult(t, ch)
		if string(r.Data) != "img:poster" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if n := len(rec.Calls()); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
}

func TestVisibleDuplicateRaisesQueuedPriority(t *testing.T) {
	rec := newRecorder()
	coord := startCoordinator(t, openCache(t), rec)
	ctx := context.Background()

	coord.Request(ctx, key("a"), Offscreen)
	waitStarted(t, rec, "a")
	b := coord.Request(ctx, key("b"), Offscreen)
	c := coord.Request(ctx, key("c"), Offscreen)
	c2 := coord.Request(ctx, key("c"), Visible)
	close(rec.gate)

	for _, ch := range []<-chan Result{b, c, c2} {
		waitResult(t, ch)
	}
	got := rec.Calls()
	if len(got) != 3 || got[1] != "c" || got[2] != "b" {
		t.Fatalf("expected c to jump ahead of b, got %v", got)
	}
}

func TestGoneRequesterSkipsFetch(t *testing.T) {
	rec := newRecorder()
	coord := startCoordinator(t, openCache(t), rec)
	ctx := context.Background()

	coord.Request(ctx, key("a"), Visible)
	waitStarted(t, rec, "a")

	gone, cancel := context.WithCancel(ctx)
	dropped := coord.Request(gone, key("b"), Visible)
	after := coord.Request(ctx, key("c"), Offscreen)
	cancel()
	close(rec.gate)

	waitResult(t, after)
	for _, url := range rec.Calls() {
		if url == "b" {
			t.Fatalf("fetch for a gone requester should be skipped")
		}
	}
	select {
	case r := <-dropped:
		t.Fatalf("gone requester received %+v", r)
	default:
	}
}

func TestGoneRequesterDoesNotCancelSharedFetch(t *testing.T) {
	rec := newRecorder()
	coord := startCoordinator(t, openCache(t), rec)

	gone, cancel := context.WithCancel(context.Background())
	dropped := coord.Request(gone, key("a"), Visible)
	waitStarted(t, rec, "a")
	kept := coord.Request(context.Background(), key("a"), Visible)
	cancel()
	close(rec.gate)

	if r := waitResult(t, kept); !r.Loaded() {
		t.Fatalf("live requester should still be served: %v", r.Err)
	}
	select {
	case r := <-dropped:
		t.Fatalf("gone requester received %+v", r)
	default:
	}
}

func TestCachedImagesSkipTheNetwork(t *testing.T) {
	rec := newRecorder()
	close(rec.gate)
	coord := startCoordinator(t, openCache(t), rec)
	ctx := context.Background()

	waitResult(t, coord.Request(ctx, key("a"), Visible))
	r := waitResult(t, coord.Request(ctx, key("a"), Visible))
	if string(r.Data) != "img:a" {
		t.Fatalf("unexpected cached data %q", r.Data)
	}
	if n := len(rec.Calls()); n != 1 {
		t.Fatalf("expected the second request to hit the cache, got %d fetches", n)
	}
}

func TestFailuresAreDelivered(t *testing.T) {
	rec := newRecorder()
	close(rec.gate)
	coord := NewCoordinator(openCache(t), func(context.Context, Key) (string, error) {
		return "", domain.ErrAuthRequired
	}, Options{Workers: 2, Fetch: rec.fetch}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Serve(ctx)

	r := waitResult(t, coord.Request(ctx, key("a"), Visible))
	if r.Loaded() || !errors.Is(r.Err, domain.ErrAuthRequired) {
		t.Fatalf("expected an auth failure, got %+v", r)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("nothing should be fetched when resolution fails")
	}
}

func TestInvalidateSource(t *testing.T) {
	rec := newRecorder()
	cache := openCache(t)
	coord := startCoordinator(t, cache, rec)
	ctx := context.Background()

	if err := cache.Put(Key{SourceID: "src", Ref: "old"}, []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Put(Key{SourceID: "other", Ref: "keep"}, []byte("y")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	coord.Request(ctx, Key{SourceID: "other", Ref: "busy"}, Visible)
	waitStarted(t, rec, "busy")
	queued := coord.Request(ctx, key("queued"), Visible)

	if err := coord.InvalidateSource("src"); err != nil {
		t.Fatalf("InvalidateSource failed: %v", err)
	}
	r := waitResult(t, queued)
	if !errors.Is(r.Err, domain.ErrSourceNotFound) {
		t.Fatalf("expected queued request to fail with ErrSourceNotFound, got %+v", r)
	}
	if _, ok, _ := cache.Get(Key{SourceID: "src", Ref: "old"}); ok {
		t.Fatalf("cached image for the removed source survived")
	}
	if _, ok, _ := cache.Get(Key{SourceID: "other", Ref: "keep"}); !ok {
		t.Fatalf("other source's image was removed")
	}
	close(rec.gate)
}
