package plex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

// ErrPINExpired indicates the authentication PIN has expired
var ErrPINExpired = errors.New("authentication PIN has expired")

const (
	// PlexTVURL is the account service that issues PINs and tokens
	PlexTVURL   = "https://plex.tv"
	pinEndpoint = "/api/v2/pins"
)

// PIN is a link code the user enters at plex.tv/link
type PIN struct {
	ID   int
	Code string
}

// PINAuth runs the plex.tv PIN linking flow
type PINAuth struct {
	http   *transport.Client
	logger *slog.Logger

	// PollInterval is the first wait between claim checks; it doubles up to MaxPollInterval
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// NewPINAuth creates a PIN flow against baseURL (PlexTVURL outside tests)
func NewPINAuth(baseURL string, opts transport.Options, logger *slog.Logger) *PINAuth {
	if logger == nil {
		logger = slog.Default()
	}
	client := transport.New("plex.tv", []domain.Endpoint{{URL: baseURL}}, opts, logger)
	client.SetDecorator(func(h http.Header) {
		h.Set("X-Plex-Client-Identifier", clientID)
		h.Set("X-Plex-Product", product)
		h.Set("X-Plex-Version", "1.0")
	})
	return &PINAuth{
		http:            client,
		logger:          logger.With("component", "plex-auth"),
		PollInterval:    time.Second,
		MaxPollInterval: 5 * time.Second,
	}
}

// RequestPIN generates a new link code
func (a *PINAuth) RequestPIN(ctx context.Context) (PIN, error) {
	q := url.Values{}
	q.Set("strong", "false")
	body, err := a.http.Do(ctx, http.MethodPost, pinEndpoint, q, nil)
	if err != nil {
		return PIN{}, fmt.Errorf("request PIN: %w", err)
	}
	var resp PINResponse
	if err := transport.Decode(body, &resp); err != nil {
		return PIN{}, err
	}
	a.logger.Info("PIN generated", "id", resp.ID)
	return PIN{ID: resp.ID, Code: resp.Code}, nil
}

// CheckPIN reports the token once the PIN has been claimed
func (a *PINAuth) CheckPIN(ctx context.Context, id int) (token string, claimed bool, err error) {
	var resp PINResponse
	err = a.http.GetJSON(ctx, pinEndpoint+"/"+strconv.Itoa(id), nil, &resp)
	if transport.StatusCode(err) == http.StatusNotFound {
		return "", false, ErrPINExpired
	}
	if err != nil {
		return "", false, err
	}
	if resp.AuthToken == "" {
		return "", false, nil
	}
	return resp.AuthToken, true, nil
}

// WaitForPIN polls until the PIN is claimed, expires or timeout elapses
func (a *PINAuth) WaitForPIN(ctx context.Context, id int, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := a.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrPINExpired
			}
			return "", ctx.Err()
		case <-timer.C:
		}

		token, claimed, err := a.CheckPIN(ctx, id)
		switch {
		case errors.Is(err, ErrPINExpired):
			return "", err
		case err != nil:
			a.logger.Warn("PIN check error, retrying", "error", err)
		case claimed:
			a.logger.Info("PIN claimed")
			return token, nil
		}

		interval = min(interval*2, a.MaxPollInterval)
		timer.Reset(interval)
	}
}
