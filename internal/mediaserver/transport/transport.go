// Package transport is the HTTP layer shared by the media server adapters.
//
// A Client talks to one source. It fails over across the source's endpoints
// (direct and relay alike) and sticks to the last one that answered. Calls
// pass through a rate limiter and a circuit breaker, and every failure is
// classified into the domain error taxonomy before it leaves the package.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mmcdole/reel/internal/domain"
)

const (
	userAgent    = "Reel/1.0"
	maxBodyBytes = 64 << 20
)

// Options bounds and protects every call of a Client
type Options struct {
	Timeout         time.Duration // Per endpoint attempt
	RateLimit       float64       // Requests per second; 0 disables limiting
	Burst           int
	BreakerFailures uint32        // Consecutive network failures that open the breaker
	BreakerCooldown time.Duration // Open state duration before a trial request
	HTTPClient      *http.Client
}

// DefaultOptions mirrors the adapter config defaults
func DefaultOptions() Options {
	return Options{
		Timeout:         15 * time.Second,
		RateLimit:       10,
		Burst:           20,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Decorator adds backend-specific headers to an outgoing request
type Decorator func(h http.Header)

// Client performs classified requests against one source
type Client struct {
	name      string
	endpoints []domain.Endpoint
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	active   int
	decorate Decorator
}

// New creates a client for the given endpoints, tried in order
func New(name string, endpoints []domain.Endpoint, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultOptions().BreakerFailures
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := max(opts.Burst, 1)

	c := &Client{
		name:      name,
		endpoints: append([]domain.Endpoint(nil), endpoints...),
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   opts.Timeout,
		logger:    logger.With("component", "transport", "source", name),
	}

	threshold := opts.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only unreachability trips the breaker; a rejected token or an odd
		// payload means the server answered
		IsSuccessful: func(err error) bool {
			return err == nil || domain.Classify(err) != domain.KindNetwork
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// SetDecorator installs the header decorator used for every request
func (c *Client) SetDecorator(d Decorator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decorate = d
}

// ActiveEndpoint returns the endpoint tried first, which is the last one
// that answered
func (c *Client) ActiveEndpoint() domain.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.endpoints) == 0 {
		return domain.Endpoint{}
	}
	return c.endpoints[c.active]
}

// URL joins path onto the active endpoint
func (c *Client) URL(path string, query url.Values) string {
	u := strings.TrimRight(c.ActiveEndpoint().URL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON fetches path and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return Decode(body, out)
}

// PostJSON sends in as a JSON body and decodes the response into out (when non-nil)
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	body, err := c.Do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(body, out)
}

// Decode unmarshals a response body; failures are parse errors
func Decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrParse, err)
	}
	return nil
}

// Do performs one logical request with failover, limiting and breaking
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s has no endpoints", domain.ErrNetwork, c.name)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrNetwork, err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.failover(ctx, method, path, query, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, c.name, err)
	}
	return body, err
}

// failover tries the active endpoint first, then the rest in order.
// Only transport failures move on; any HTTP answer is final.
func (c *Client) failover(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	c.mu.RLock()
	start := c.active
	decorate := c.decorate
	c.mu.RUnlock()

	var lastErr error
	for i := range c.endpoints {
		idx := (start + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		body, answered, err := c.attempt(ctx, ep, method, path, query, payload, decorate)
		if answered {
			if idx != start {
				c.mu.Lock()
				c.active = idx
				c.mu.Unlock()
				c.logger.Info("switched endpoint", "url", ep.URL, "relay", ep.Relay)
			}
			return body, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Debug("endpoint unreachable", "url", ep.URL, "error", err)
	}
	return nil, lastErr
}

// attempt reports answered=true when the server produced an HTTP response
func (c *Client) attempt(
	ctx context.Context,
	ep domain.Endpoint,
	method, path string,
	query url.Values,
	payload []byte,
	decorate Decorator,
) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := strings.TrimRight(ep.URL, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, true, fmt.Errorf("%w: build request: %v", domain.ErrParse, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %v", domain.ErrNetwork, path, err)
	}
	if err := ClassifyStatus(resp.StatusCode); err != nil {
		c.logger.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return nil, true, fmt.Errorf("%w: %s %s", err, method, path)
	}
	return body, true, nil
}

// StatusError is a non-2xx answer, classified into the error taxonomy
type StatusError struct {
	Code int
	kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d", e.kind, e.Code)
}

func (e *StatusError) Unwrap() error { return e.kind }

// ClassifyStatus maps an HTTP status onto the error taxonomy
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &StatusError{Code: code, kind: domain.ErrAuthRequired}
	case code == http.StatusTooManyRequests || code >= 500:
		return &StatusError{Code: code, kind: domain.ErrNetwork}
	default:
		return &StatusError{Code: code, kind: domain.ErrParse}
	}
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
