// Package jellyfin implements the media server backend for Jellyfin.
package jellyfin

import (
	"context"
	"errors"
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
	clientName = "Reel"
	deviceID   = "reel-desktop-client"
	itemFields = "Overview,Genres,People,SortName,DateLastSaved"
	hubLimit   = "20"
)

// Client implements domain.Backend for one Jellyfin server
type Client struct {
	sourceID string
	http     *transport.Client
	logger   *slog.Logger

	mu       sync.RWMutex
	token    string
	userID   string
	serverID string
	totals   map[string][]int
}

// NewClient creates a Jellyfin backend. creds may carry a previously
// issued token and user ID so calls work before Authenticate runs.
func NewClient(sourceID string, endpoints []domain.Endpoint, creds domain.Credentials, opts transport.Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		sourceID: sourceID,
		http:     transport.New(sourceID, endpoints, opts, logger),
		logger:   logger.With("component", "jellyfin", "source", sourceID),
		token:    creds.Token,
		userID:   creds.UserID,
		totals:   make(map[string][]int),
	}
	c.http.SetDecorator(c.decorate)
	return c
}

func (c *Client) decorate(h http.Header) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	h.Set("X-Emby-Authorization", authHeader(token))
}

// authHeader builds the MediaBrowser authorization value
func authHeader(token string) string {
	parts := []string{
		`MediaBrowser Client="` + clientName + `"`,
		`Device="Desktop"`,
		`DeviceId="` + deviceID + `"`,
		`Version="1.0.0"`,
	}
	if token != "" {
		parts = append(parts, `Token="`+token+`"`)
	}
	return strings.Join(parts, ", ")
}

// Kind identifies the backend family
func (c *Client) Kind() domain.BackendKind { return domain.BackendJellyfin }

// Authenticate validates a stored token, falling back to a password login
// when the token is rejected and a username is known
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	var (
		user domain.User
		err  error
	)
	switch {
	case creds.Token != "":
		user, err = c.authenticateToken(ctx, creds.Token)
		if errors.Is(err, domain.ErrAuthRequired) && creds.Username != "" {
			c.logger.Info("stored token rejected, logging in again", "user", creds.Username)
			user, err = c.authenticatePassword(ctx, creds.Username, creds.Password)
		}
	case creds.Username != "":
		user, err = c.authenticatePassword(ctx, creds.Username, creds.Password)
	default:
		return domain.User{}, fmt.Errorf("%w: jellyfin requires a token or username", domain.ErrAuthRequired)
	}
	if err != nil {
		return domain.User{}, err
	}

	if user.ServerID == "" {
		info, err := c.SystemInfo(ctx)
		if err != nil {
			return domain.User{}, err
		}
		user.ServerID = info.ID
	}

	c.mu.Lock()
	c.serverID = user.ServerID
	c.mu.Unlock()
	return user, nil
}

func (c *Client) authenticateToken(ctx context.Context, token string) (domain.User, error) {
	c.setSession(token, "")
	var u User
	if err := c.http.GetJSON(ctx, "/Users/Me", nil, &u); err != nil {
		return domain.User{}, err
	}
	if u.ID == "" {
		return domain.User{}, fmt.Errorf("%w: /Users/Me returned no user id", domain.ErrParse)
	}
	c.setSession(token, u.ID)
	return domain.User{ID: u.ID, Name: u.Name, Token: token, ServerID: u.ServerID}, nil
}

func (c *Client) authenticatePassword(ctx context.Context, username, password string) (domain.User, error) {
	c.setSession("", "")
	var resp AuthResponse
	err := c.http.PostJSON(ctx, "/Users/AuthenticateByName", AuthRequest{Username: username, Pw: password}, &resp)
	if err != nil {
		return domain.User{}, err
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return domain.User{}, fmt.Errorf("%w: authentication response missing token", domain.ErrParse)
	}
	c.setSession(resp.AccessToken, resp.User.ID)

	serverID := resp.ServerID
	if serverID == "" {
		serverID = resp.User.ServerID
	}
	return domain.User{ID: resp.User.ID, Name: resp.User.Name, Token: resp.AccessToken, ServerID: serverID}, nil
}

func (c *Client) setSession(token, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.userID = userID
}

func (c *Client) user() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.userID == "" {
		return "", fmt.Errorf("%w: not signed in", domain.ErrAuthRequired)
	}
	return c.userID, nil
}

// ServerID returns the server identity learned at authentication
func (c *Client) ServerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverID
}

// SystemInfo fetches the unauthenticated server identity
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	if err := c.http.GetJSON(ctx, "/System/Info/Public", nil, &info); err != nil {
		return SystemInfo{}, err
	}
	return info, nil
}

// ListLibraries returns the user's views in server order
func (c *Client) ListLibraries(ctx context.Context) ([]domain.Library, error) {
	uid, err := c.user()
	if err != nil {
		return nil, err
	}
	var resp ItemsResponse
	if err := c.http.GetJSON(ctx, "/Users/"+url.PathEscape(uid)+"/Views", nil, &resp); err != nil {
		return nil, err
	}
	return MapLibraries(c.sourceID, resp.Items), nil
}

// ListItems returns one window of a library, paging shows, seasons and
// episodes as one parent-first sequence
func (c *Client) ListItems(ctx context.Context, lib domain.Library, windowStart, windowSize int) (domain.ItemPage, error) {
	types := segmentTypes(lib.Type)
	if len(types) == 0 || windowSize <= 0 {
		return domain.ItemPage{}, nil
	}
	uid, err := c.user()
	if err != nil {
		return domain.ItemPage{}, err
	}

	totals, err := c.segmentTotals(ctx, uid, lib, types, windowStart == 0)
	if err != nil {
		return domain.ItemPage{}, err
	}

	spans, hasMore := paging.Split(totals, windowStart, windowSize)
	page := domain.ItemPage{HasMore: hasMore}
	for _, span := range spans {
		resp, err := c.listItems(ctx, uid, lib.ID, types[span.Segment], span.Start, span.Size)
		if err != nil {
			return domain.ItemPage{}, err
		}
		for _, item := range MapItems(resp.Items, lib.ID) {
			item.SourceID = c.sourceID
			page.Items = append(page.Items, item)
		}
	}
	return page, nil
}

func (c *Client) segmentTotals(ctx context.Context, uid string, lib domain.Library, types []string, refresh bool) ([]int, error) {
	c.mu.RLock()
	cached, ok := c.totals[lib.ID]
	c.mu.RUnlock()
	if ok && !refresh && len(cached) == len(types) {
		return cached, nil
	}

	totals := make([]int, len(types))
	for i, typ := range types {
		resp, err := c.listItems(ctx, uid, lib.ID, typ, 0, 0)
		if err != nil {
			return nil, err
		}
		totals[i] = resp.TotalRecordCount
	}

	c.mu.Lock()
	c.totals[lib.ID] = totals
	c.mu.Unlock()
	return totals, nil
}

func (c *Client) listItems(ctx context.Context, uid, libraryID, itemType string, start, limit int) (ItemsResponse, error) {
	q := url.Values{}
	q.Set("ParentId", libraryID)
	q.Set("IncludeItemTypes", itemType)
	q.Set("Recursive", "true")
	q.Set("Fields", itemFields)
	q.Set("SortBy", "SortName")
	q.Set("SortOrder", "Ascending")
	q.Set("EnableTotalRecordCount", "true")
	q.Set("StartIndex", strconv.Itoa(start))
	q.Set("Limit", strconv.Itoa(limit))

	var resp ItemsResponse
	if err := c.http.GetJSON(ctx, "/Users/"+url.PathEscape(uid)+"/Items", q, &resp); err != nil {
		return ItemsResponse{}, err
	}
	return resp, nil
}

// ListHomeSections assembles resume, next up and latest rows
func (c *Client) ListHomeSections(ctx context.Context) ([]domain.HomeSectionContent, error) {
	uid, err := c.user()
	if err != nil {
		return nil, err
	}
	userPath := "/Users/" + url.PathEscape(uid)

	q := url.Values{}
	q.Set("Limit", hubLimit)
	q.Set("Fields", itemFields)

	var resume ItemsResponse
	if err := c.http.GetJSON(ctx, userPath+"/Items/Resume", q, &resume); err != nil {
		return nil, err
	}

	nextUpQuery := url.Values{}
	nextUpQuery.Set("UserId", uid)
	nextUpQuery.Set("Limit", hubLimit)
	nextUpQuery.Set("Fields", itemFields)
	var nextUp ItemsResponse
	if err := c.http.GetJSON(ctx, "/Shows/NextUp", nextUpQuery, &nextUp); err != nil {
		return nil, err
	}

	// Latest answers with a bare array
	var latest []Item
	if err := c.http.GetJSON(ctx, userPath+"/Items/Latest", q, &latest); err != nil {
		return nil, err
	}

	rows := []struct {
		id, title string
		typ       domain.HomeSectionType
		items     []Item
	}{
		{"resume", "Continue Watching", domain.SectionContinueWatching, resume.Items},
		{"nextup", "Next Up", domain.SectionOnDeck, nextUp.Items},
		{"latest", "Recently Added", domain.SectionRecentlyAdded, latest},
	}
	sections := make([]domain.HomeSectionContent, 0, len(rows))
	for i, row := range rows {
		sections = append(sections, domain.HomeSectionContent{
			Section: domain.HomeSection{
				SourceID: c.sourceID,
				ID:       row.id,
				Title:    row.title,
				Type:     row.typ,
				Priority: i,
			},
			Items: MapItems(row.items, ""),
		})
	}
	return sections, nil
}

// CheckHealth probes the public system info endpoint
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.SystemInfo(ctx)
	return err
}

// ActiveEndpoint returns the endpoint that last answered
func (c *Client) ActiveEndpoint() domain.Endpoint {
	return c.http.ActiveEndpoint()
}

// ImageURL resolves an /Items/{id}/Images/... reference on the active endpoint
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
	return c.http.URL(ref, nil), nil
}
