// Package plex implements the media server backend for Plex Media Server.
package plex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver/paging"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

const (
	product  = "Reel"
	clientID = "reel-desktop-client"
)

// Client implements domain.Backend for one Plex server
type Client struct {
	sourceID string
	http     *transport.Client
	logger   *slog.Logger

	mu       sync.RWMutex
	token    string
	serverID string
	totals   map[string][]int // Library ID -> item count per segment type
}

// NewClient creates a Plex backend reachable at the given endpoints
func NewClient(sourceID string, endpoints []domain.Endpoint, token string, opts transport.Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		sourceID: sourceID,
		http:     transport.New(sourceID, endpoints, opts, logger),
		logger:   logger.With("component", "plex", "source", sourceID),
		token:    token,
		totals:   make(map[string][]int),
	}
	c.http.SetDecorator(c.decorate)
	return c
}

func (c *Client) decorate(h http.Header) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		h.Set("X-Plex-Token", token)
	}
	h.Set("X-Plex-Client-Identifier", clientID)
	h.Set("X-Plex-Product", product)
	h.Set("X-Plex-Version", "1.0")
}

// Kind identifies the backend family
func (c *Client) Kind() domain.BackendKind { return domain.BackendPlex }

// ServerID returns the machineIdentifier learned at authentication
func (c *Client) ServerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverID
}

// Authenticate validates a Plex token against the server root
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if creds.Token == "" {
		return domain.User{}, fmt.Errorf("%w: plex requires a token", domain.ErrAuthRequired)
	}
	c.mu.Lock()
	c.token = creds.Token
	c.mu.Unlock()

	var resp APIResponse
	if err := c.http.GetJSON(ctx, "/", nil, &resp); err != nil {
		return domain.User{}, err
	}
	mc := resp.MediaContainer
	if mc.MachineIdentifier == "" {
		return domain.User{}, fmt.Errorf("%w: server root has no machineIdentifier", domain.ErrParse)
	}

	c.mu.Lock()
	c.serverID = mc.MachineIdentifier
	c.mu.Unlock()

	c.logger.Debug("authenticated", "server", mc.FriendlyName, "user", mc.MyPlexUsername)
	return domain.User{
		ID:       mc.MyPlexUsername,
		Name:     mc.MyPlexUsername,
		Token:    creds.Token,
		ServerID: mc.MachineIdentifier,
	}, nil
}

// ListLibraries returns every library section in server order
func (c *Client) ListLibraries(ctx context.Context) ([]domain.Library, error) {
	var resp APIResponse
	if err := c.http.GetJSON(ctx, "/library/sections", nil, &resp); err != nil {
		return nil, err
	}
	return MapLibraries(c.sourceID, resp.MediaContainer.Directory), nil
}

// ListItems returns one window of a library. Show libraries are paged as
// one sequence of shows, then seasons, then episodes; the window is mapped
// onto the per-type listings using their totals.
func (c *Client) ListItems(ctx context.Context, lib domain.Library, windowStart, windowSize int) (domain.ItemPage, error) {
	types := segmentTypes(lib.Type)
	if len(types) == 0 || windowSize <= 0 {
		return domain.ItemPage{}, nil
	}

	totals, err := c.segmentTotals(ctx, lib, types, windowStart == 0)
	if err != nil {
		return domain.ItemPage{}, err
	}

	spans, hasMore := paging.Split(totals, windowStart, windowSize)
	page := domain.ItemPage{HasMore: hasMore}
	for _, span := range spans {
		metadata, err := c.listSegment(ctx, lib.ID, types[span.Segment], span.Start, span.Size)
		if err != nil {
			return domain.ItemPage{}, err
		}
		for _, item := range MapItems(metadata, lib.ID) {
			item.SourceID = c.sourceID
			page.Items = append(page.Items, item)
		}
	}
	return page, nil
}

func (c *Client) segmentTotals(ctx context.Context, lib domain.Library, types []int, refresh bool) ([]int, error) {
	c.mu.RLock()
	cached, ok := c.totals[lib.ID]
	c.mu.RUnlock()
	if ok && !refresh && len(cached) == len(types) {
		return cached, nil
	}

	totals := make([]int, len(types))
	for i, typ := range types {
		var resp APIResponse
		if err := c.http.GetJSON(ctx, sectionPath(lib.ID), segmentQuery(typ, 0, 0), &resp); err != nil {
			return nil, err
		}
		totals[i] = max(resp.MediaContainer.TotalSize, resp.MediaContainer.Size)
	}

	c.mu.Lock()
	c.totals[lib.ID] = totals
	c.mu.Unlock()
	return totals, nil
}

func (c *Client) listSegment(ctx context.Context, libraryID string, typ, start, size int) ([]Metadata, error) {
	var resp APIResponse
	if err := c.http.GetJSON(ctx, sectionPath(libraryID), segmentQuery(typ, start, size), &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Metadata, nil
}

func sectionPath(libraryID string) string {
	return "/library/sections/" + url.PathEscape(libraryID) + "/all"
}

func segmentQuery(typ, start, size int) url.Values {
	q := url.Values{}
	q.Set("type", strconv.Itoa(typ))
	q.Set("includeGuids", "0")
	q.Set("X-Plex-Container-Start", strconv.Itoa(start))
	q.Set("X-Plex-Container-Size", strconv.Itoa(size))
	return q
}

// ListHomeSections returns the server's landing hubs in order
func (c *Client) ListHomeSections(ctx context.Context) ([]domain.HomeSectionContent, error) {
	q := url.Values{}
	q.Set("count", "20")
	var resp APIResponse
	if err := c.http.GetJSON(ctx, "/hubs", q, &resp); err != nil {
		return nil, err
	}
	return MapHubs(c.sourceID, resp.MediaContainer.Hub), nil
}

// CheckHealth probes /identity, which needs no token
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.http.Do(ctx, http.MethodGet, "/identity", nil, nil)
	return err
}

// ActiveEndpoint returns the endpoint that last answered
func (c *Client) ActiveEndpoint() domain.Endpoint {
	return c.http.ActiveEndpoint()
}

// ImageURL resolves a thumb/art path into a tokenized URL on the active endpoint
func (c *Client) ImageURL(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty image reference", domain.ErrParse)
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	q := url.Values{}
	if token != "" {
		q.Set("X-Plex-Token", token)
	}
	return c.http.URL(ref, q), nil
}
