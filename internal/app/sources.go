package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver"
	"github.com/mmcdole/reel/internal/monitor"
)

// NewSource describes a server being onboarded
type NewSource struct {
	URL         string
	Relay       bool   // URL is a relayed address
	Name        string // Defaults to the detected server name
	Credentials domain.Credentials
}

// SourceStatus pairs a stored source with its live connection record
type SourceStatus struct {
	Source  domain.Source
	Record  monitor.Record
	Watched bool
}

// Detect identifies the server behind rawURL
func (a *App) Detect(ctx context.Context, rawURL string) (mediaserver.Detection, error) {
	ep, err := mediaserver.EndpointFor(rawURL, false)
	if err != nil {
		return mediaserver.Detection{}, err
	}
	return mediaserver.DetectServer(ctx, ep.URL, a.transport, a.logger)
}

// AddSource authenticates against a detected server and persists it. The
// server's own identity becomes the source ID when it reports one. Nothing
// is stored when authentication fails.
func (a *App) AddSource(ctx context.Context, det mediaserver.Detection, req NewSource) (domain.Source, error) {
	ep, err := mediaserver.EndpointFor(req.URL, req.Relay)
	if err != nil {
		return domain.Source{}, err
	}

	id := det.ServerID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := a.Store.GetSource(ctx, id); err == nil {
		return domain.Source{}, fmt.Errorf("%w: %s", domain.ErrSourceExists, id)
	} else if !errors.Is(err, domain.ErrSourceNotFound) {
		return domain.Source{}, err
	}

	src := domain.Source{
		ID:              id,
		Kind:            det.Kind,
		Name:            sourceName(req.Name, det.Name, ep.URL),
		Endpoints:       []domain.Endpoint{ep},
		CredentialRef:   "cred-" + uuid.NewString(),
		AuthStatus:      domain.AuthUnknown,
		ConnectionState: domain.StateDisconnected,
	}

	creds, err := a.login(ctx, src, req.Credentials)
	if err != nil {
		return domain.Source{}, err
	}
	if err := a.Credentials.Put(ctx, src.CredentialRef, creds); err != nil {
		return domain.Source{}, err
	}

	src.AuthStatus = domain.AuthAuthenticated
	src.LastAuthCheck = a.now()
	if err := a.Store.UpsertSource(ctx, src); err != nil {
		_ = a.Credentials.Delete(ctx, src.CredentialRef)
		return domain.Source{}, err
	}

	a.Monitor.Watch(src)
	a.logger.Info("source added", "source", src.ID, "kind", src.Kind, "endpoint", ep.URL, "local", ep.Local)
	return src, nil
}

// RemoveSource deletes a source with everything it owns: catalog rows,
// cached images and the stored credential
func (a *App) RemoveSource(ctx context.Context, id string) error {
	src, err := a.Store.GetSource(ctx, id)
	if err != nil {
		return err
	}

	a.Monitor.Unwatch(id)
	if err := a.Store.RemoveSource(ctx, id); err != nil {
		return err
	}
	a.Backends.Forget(id)

	var errs []error
	if err := a.Images.InvalidateSource(id); err != nil {
		errs = append(errs, fmt.Errorf("purge images: %w", err))
	}
	if err := a.Credentials.Delete(ctx, src.CredentialRef); err != nil && !errors.Is(err, domain.ErrCredentialNotFound) {
		errs = append(errs, fmt.Errorf("delete credentials: %w", err))
	}

	a.logger.Info("source removed", "source", id)
	return errors.Join(errs...)
}

// Reauthenticate replaces a source's credential. The source ID and its
// catalog rows are kept.
func (a *App) Reauthenticate(ctx context.Context, id string, creds domain.Credentials) (domain.Source, error) {
	src, err := a.Store.GetSource(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}

	stored, err := a.login(ctx, src, creds)
	if errors.Is(err, domain.ErrAuthRequired) {
		a.setAuthStatus(ctx, src, domain.AuthRequired)
		return domain.Source{}, err
	}
	if err != nil {
		return domain.Source{}, err
	}

	ref := src.CredentialRef
	if ref == "" {
		ref = "cred-" + uuid.NewString()
	}
	if err := a.Credentials.Put(ctx, ref, stored); err != nil {
		return domain.Source{}, err
	}
	if ref != src.CredentialRef {
		if err := a.Store.UpdateSourceCredentials(ctx, id, ref); err != nil {
			return domain.Source{}, err
		}
		src.CredentialRef = ref
	}

	a.Backends.Forget(id)
	a.setAuthStatus(ctx, src, domain.AuthAuthenticated)
	src.AuthStatus = domain.AuthAuthenticated
	a.Monitor.Watch(src)
	a.logger.Info("source reauthenticated", "source", id)
	return src, nil
}

// Sources lists every configured source with its connection record
func (a *App) Sources(ctx context.Context) ([]SourceStatus, error) {
	sources, err := a.Store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		rec, ok := a.Monitor.Record(src.ID)
		out = append(out, SourceStatus{Source: src, Record: rec, Watched: ok})
	}
	return out, nil
}

// login authenticates creds against src with a fresh backend and returns
// what should be stored: the issued token instead of the password
func (a *App) login(ctx context.Context, src domain.Source, creds domain.Credentials) (domain.Credentials, error) {
	backend, err := mediaserver.NewBackend(src, creds, a.transport, a.logger)
	if err != nil {
		return domain.Credentials{}, err
	}
	user, err := backend.Authenticate(ctx, creds)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("authenticate %s: %w", src.PrimaryURL(), err)
	}
	if user.ServerID != "" && user.ServerID != src.ID {
		a.logger.Warn("server identity differs from source id", "source", src.ID, "server_id", user.ServerID)
	}

	stored := creds
	if user.Token != "" {
		stored.Token = user.Token
		stored.Password = ""
	}
	if user.ID != "" {
		stored.UserID = user.ID
	}
	return stored, nil
}

func (a *App) setAuthStatus(ctx context.Context, src domain.Source, status domain.AuthStatus) {
	if err := a.Store.MarkSourceAuthStatus(ctx, src.ID, status, a.now()); err != nil {
		a.logger.Error("failed to record auth status", "source", src.ID, "error", err)
	}
	if src.AuthStatus != status {
		a.Bus.Publish(broker.AuthStatusChanged{SourceID: src.ID, Status: status})
	}
}

func sourceName(requested, detected, rawURL string) string {
	switch {
	case requested != "":
		return requested
	case detected != "":
		return detected
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}
