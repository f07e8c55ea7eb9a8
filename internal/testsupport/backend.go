package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/reel/internal/domain"
)

// PageCall records one ListItems window request
type PageCall struct {
	LibraryID string
	Start     int
	Size      int
}

// FakeBackend is an in-memory media server. Fields may be changed through
// the setters while a test runs.
type FakeBackend struct {
	mu        sync.Mutex
	libraries []domain.Library
	items     map[string][]domain.MediaItem
	sections  []domain.HomeSectionContent
	endpoint  domain.Endpoint
	authErr   error
	healthErr error
	pageErr   func(libraryID string, start int) error

	// Gate, when set, blocks ListLibraries until it is closed
	Gate chan struct{}

	authCalls   atomic.Int32
	healthCalls atomic.Int32
	pageCalls   []PageCall
}

var _ domain.Backend = (*FakeBackend)(nil)

// NewFakeBackend creates a reachable backend with no content
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		items:    make(map[string][]domain.MediaItem),
		endpoint: domain.Endpoint{URL: "http://127.0.0.1:32400", Local: true},
	}
}

// SetLibrary adds or replaces a library and its full item list
func (f *FakeBackend) SetLibrary(lib domain.Library, items []domain.MediaItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.libraries {
		if l.ID == lib.ID {
			f.libraries[i] = lib
			f.items[lib.ID] = items
			return
		}
	}
	f.libraries = append(f.libraries, lib)
	f.items[lib.ID] = items
}

// RemoveLibrary drops a library from the remote
func (f *FakeBackend) RemoveLibrary(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.libraries {
		if l.ID == id {
			f.libraries = append(f.libraries[:i], f.libraries[i+1:]...)
			break
		}
	}
	delete(f.items, id)
}

// SetSections replaces the home sections
func (f *FakeBackend) SetSections(sections []domain.HomeSectionContent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections = sections
}

// SetAuthError makes Authenticate fail with err (nil to succeed)
func (f *FakeBackend) SetAuthError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authErr = err
}

// SetHealthError makes CheckHealth fail with err (nil to succeed)
func (f *FakeBackend) SetHealthError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

// SetPageError installs a hook deciding whether a window fails
func (f *FakeBackend) SetPageError(fn func(libraryID string, start int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageErr = fn
}

// SetEndpoint changes the tier reported by ActiveEndpoint
func (f *FakeBackend) SetEndpoint(ep domain.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoint = ep
}

// PageCalls returns a copy of every ListItems request so far
func (f *FakeBackend) PageCalls() []PageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PageCall(nil), f.pageCalls...)
}

// ResetCalls forgets recorded calls
func (f *FakeBackend) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = nil
	f.authCalls.Store(0)
	f.healthCalls.Store(0)
}

// AuthCalls counts Authenticate invocations
func (f *FakeBackend) AuthCalls() int { return int(f.authCalls.Load()) }

// HealthCalls counts CheckHealth invocations
func (f *FakeBackend) HealthCalls() int { return int(f.healthCalls.Load()) }

func (f *FakeBackend) Kind() domain.BackendKind { return domain.BackendPlex }

func (f *FakeBackend) Authenticate(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	f.authCalls.Add(1)
	f.mu.Lock()
	err := f.authErr
	f.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: "1", Name: "tester", Token: creds.Token}, nil
}

func (f *FakeBackend) ListLibraries(ctx context.Context) ([]domain.Library, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Library(nil), f.libraries...), nil
}

func (f *FakeBackend) ListItems(ctx context.Context, lib domain.Library, start, size int) (domain.ItemPage, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, PageCall{LibraryID: lib.ID, Start: start, Size: size})
	hook := f.pageErr
	all, ok := f.items[lib.ID]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(lib.ID, start); err != nil {
			return domain.ItemPage{}, err
		}
	}
	if !ok {
		return domain.ItemPage{}, fmt.Errorf("%w: unknown library %s", domain.ErrParse, lib.ID)
	}
	if start >= len(all) {
		return domain.ItemPage{}, nil
	}
	end := min(start+size, len(all))
	page := append([]domain.MediaItem(nil), all[start:end]...)
	return domain.ItemPage{Items: page, HasMore: end < len(all)}, nil
}

func (f *FakeBackend) ListHomeSections(ctx context.Context) ([]domain.HomeSectionContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.HomeSectionContent(nil), f.sections...), nil
}

func (f *FakeBackend) CheckHealth(ctx context.Context) error {
	f.healthCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *FakeBackend) ActiveEndpoint() domain.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func (f *FakeBackend) ImageURL(ref string) (string, error) {
	return f.endpoint.URL + ref, nil
}

// FakeFactory hands out fake backends by source ID
type FakeFactory struct {
	mu       sync.Mutex
	backends map[string]domain.Backend
}

// NewFakeFactory maps source IDs to backends
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{backends: make(map[string]domain.Backend)}
}

// Set registers the backend for a source
func (f *FakeFactory) Set(sourceID string, b domain.Backend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backends[sourceID] = b
}

func (f *FakeFactory) Backend(ctx context.Context, src domain.Source) (domain.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backends[src.ID]
	if !ok {
		return nil, fmt.Errorf("no backend for %s", src.ID)
	}
	return b, nil
}

// MemoryCredentials is a map-backed credential store
type MemoryCredentials struct {
	mu      sync.Mutex
	entries map[string]domain.Credentials
}

// NewMemoryCredentials creates an empty credential store
func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{entries: make(map[string]domain.Credentials)}
}

func (m *MemoryCredentials) Put(_ context.Context, ref string, creds domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ref] = creds
	return nil
}

func (m *MemoryCredentials) Get(_ context.Context, ref string) (domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds, ok := m.entries[ref]
	if !ok {
		return domain.Credentials{}, fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, ref)
	}
	return creds, nil
}

func (m *MemoryCredentials) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ref)
	return nil
}
