// Package library drives sync passes: it pulls a source's catalog through its
// backend and reconciles it into the local repository page by page.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/reel/internal/broker"
	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/metrics"
	"github.com/mmcdole/reel/internal/retry"
)

const defaultPageSize = 100

// Options tunes a Service
type Options struct {
	PageSize   int
	RemoteSkew time.Duration
	Retry      retry.Policy
	OnProgress domain.ProgressFunc
}

// Service orchestrates backend + repository operations for sync passes.
// At most one pass runs per source; concurrent requests share its result.
type Service struct {
	repo     domain.Repository
	backends domain.BackendFactory
	creds    domain.CredentialStore
	bus      *broker.Broker
	opts     Options
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewService creates a new sync service
func NewService(
	repo domain.Repository,
	backends domain.BackendFactory,
	creds domain.CredentialStore,
	bus *broker.Broker,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Service{
		repo:     repo,
		backends: backends,
		creds:    creds,
		bus:      bus,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncSource runs one reconciliation pass for a source. If a pass for the
// source is already running, the call waits for it and returns its result.
func (s *Service) SyncSource(ctx context.Context, sourceID string, mode domain.SyncMode) (domain.SyncResult, error) {
	v, err, shared := s.group.Do(sourceID, func() (any, error) {
		return s.runPass(ctx, sourceID, mode)
	})
	if shared {
		s.logger.Debug("joined in-flight sync", "source", sourceID)
	}
	result, _ := v.(domain.SyncResult)
	return result, err
}

func (s *Service) runPass(ctx context.Context, sourceID string, mode domain.SyncMode) (domain.SyncResult, error) {
	start := s.now()
	s.logger.Info("sync started", "source", sourceID, "mode", mode)

	result, err := s.pass(ctx, sourceID, mode)
	metrics.RecordSyncPass(mode, result, time.Since(start), err)

	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return result, err
		}
		if errors.Is(err, context.Canceled) {
			s.logger.Info("sync cancelled", "source", sourceID, "mode", mode,
				"added", result.ItemsAdded, "updated", result.ItemsUpdated)
			return result, err
		}
		kind := domain.Classify(err)
		if kind == domain.KindUnknown {
			kind = domain.KindParse
		}
		if kind == domain.KindAuthRequired {
			s.requireAuth(ctx, sourceID)
		}
		s.logger.Warn("sync failed", "source", sourceID, "mode", mode, "kind", kind, "error", err,
			"added", result.ItemsAdded, "updated", result.ItemsUpdated)
		s.bus.Publish(broker.SyncFailed{SourceID: sourceID, Reason: err.Error(), ErrKind: kind})
		return result, err
	}

	s.logger.Info("sync completed", "source", sourceID, "mode", mode,
		"added", result.ItemsAdded, "updated", result.ItemsUpdated, "removed", result.ItemsRemoved,
		"duration", time.Since(start))
	s.bus.Publish(broker.SyncCompleted{SourceID: sourceID, Mode: mode, Result: result})
	return result, nil
}

func (s *Service) pass(ctx context.Context, sourceID string, mode domain.SyncMode) (domain.SyncResult, error) {
	var result domain.SyncResult

	src, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		return result, err
	}

	backend, err := s.authenticate(ctx, src)
	if err != nil {
		return result, err
	}

	var libs []domain.Library
	err = s.withRetry(ctx, func() error {
		var err error
		libs, err = backend.ListLibraries(ctx)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("list libraries: %w", err)
	}
	for i := range libs {
		libs[i].SourceID = src.ID
	}
	if err := s.repo.UpsertLibraries(ctx, src.ID, libs); err != nil {
		return result, err
	}

	for _, lib := range libs {
		libResult, err := s.syncLibrary(ctx, backend, src.ID, lib, mode)
		result.Add(libResult)
		if err != nil {
			return result, err
		}
	}

	if mode == domain.SyncFull {
		keep := make([]string, len(libs))
		for i, lib := range libs {
			keep[i] = lib.ID
		}
		dropped, err := s.repo.DeleteLibrariesExcept(ctx, src.ID, keep)
		if err != nil {
			return result, err
		}
		if dropped > 0 {
			s.logger.Info("dropped libraries missing remotely", "source", src.ID, "count", dropped)
		}
	}

	// Sections reference items, so they go in after every library committed
	var sections []domain.HomeSectionContent
	err = s.withRetry(ctx, func() error {
		var err error
		sections, err = backend.ListHomeSections(ctx)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("list home sections: %w", err)
	}
	if err := s.repo.ReplaceHomeSections(ctx, src.ID, sections); err != nil {
		return result, err
	}

	if err := s.repo.MarkSourceSynced(ctx, src.ID, s.now()); err != nil {
		return result, err
	}
	return result, nil
}

// authenticate builds the backend and validates the stored credential.
// A rejected credential flips the source to auth_required and is never retried.
func (s *Service) authenticate(ctx context.Context, src domain.Source) (domain.Backend, error) {
	creds, err := s.creds.Get(ctx, src.CredentialRef)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			s.markAuth(ctx, src, domain.AuthRequired)
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("%w: load credentials: %v", domain.ErrStorage, err)
	}

	backend, err := s.backends.Backend(ctx, src)
	if err != nil {
		return nil, err
	}

	var user domain.User
	err = s.withRetry(ctx, func() error {
		var err error
		user, err = backend.Authenticate(ctx, creds)
		return err
	})
	if errors.Is(err, domain.ErrAuthRequired) {
		s.markAuth(ctx, src, domain.AuthRequired)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	// Password logins mint a token; keep it so the password is not needed again
	if user.Token != "" && user.Token != creds.Token {
		creds.Token = user.Token
		if user.ID != "" {
			creds.UserID = user.ID
		}
		creds.Password = ""
		if err := s.creds.Put(ctx, src.CredentialRef, creds); err != nil {
			s.logger.Warn("failed to persist refreshed token", "source", src.ID, "error", err)
		}
	}

	s.markAuth(ctx, src, domain.AuthAuthenticated)
	return backend, nil
}

// requireAuth records a credential rejected mid-pass, after authenticate
// already accepted it
func (s *Service) requireAuth(ctx context.Context, sourceID string) {
	src, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		s.logger.Error("failed to load source for auth status", "source", sourceID, "error", err)
		return
	}
	if src.AuthStatus != domain.AuthRequired {
		s.markAuth(ctx, src, domain.AuthRequired)
	}
}

func (s *Service) markAuth(ctx context.Context, src domain.Source, status domain.AuthStatus) {
	if err := s.repo.MarkSourceAuthStatus(ctx, src.ID, status, s.now()); err != nil {
		s.logger.Error("failed to record auth status", "source", src.ID, "error", err)
	}
	if src.AuthStatus != status {
		s.bus.Publish(broker.AuthStatusChanged{SourceID: src.ID, Status: status})
	}
}

// syncLibrary pages through one library. Each page commits on its own, so a
// failure keeps every earlier page. Incremental passes resume from the
// library checkpoint; removals are only reconciled after a complete Full walk.
func (s *Service) syncLibrary(
	ctx context.Context,
	backend domain.Backend,
	sourceID string,
	lib domain.Library,
	mode domain.SyncMode,
) (domain.SyncResult, error) {
	var result domain.SyncResult

	offset := 0
	if mode == domain.SyncIncremental {
		cp, err := s.repo.Checkpoint(ctx, sourceID, lib.ID)
		if err != nil {
			return result, err
		}
		offset = cp
		if offset > 0 {
			s.logger.Debug("resuming library", "source", sourceID, "library", lib.ID, "offset", offset)
		}
	}

	var seen []string
	loaded := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var page domain.ItemPage
		err := s.withRetry(ctx, func() error {
			var err error
			page, err = backend.ListItems(ctx, lib, offset, s.opts.PageSize)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("library %s window %d: %w", lib.ID, offset, err)
		}
		if len(page.Items) == 0 && page.HasMore {
			return result, fmt.Errorf("%w: library %s returned an empty window at %d", domain.ErrParse, lib.ID, offset)
		}

		next := offset + len(page.Items)
		checkpoint := -1
		if page.HasMore {
			checkpoint = next
		}
		added, updated, err := s.repo.UpsertMediaItemsPage(ctx, sourceID, lib.ID, page.Items, checkpoint, s.opts.RemoteSkew)
		if err != nil {
			return result, fmt.Errorf("library %s window %d: %w", lib.ID, offset, err)
		}
		result.ItemsAdded += added
		result.ItemsUpdated += updated
		loaded += len(page.Items)

		if mode == domain.SyncFull {
			for _, item := range page.Items {
				seen = append(seen, item.ID)
			}
		}
		s.reportProgress(ctx, domain.SyncProgress{SourceID: sourceID, LibraryID: lib.ID, Loaded: loaded, Done: !page.HasMore})

		if !page.HasMore {
			break
		}
		offset = next
	}

	if err := s.repo.ClearCheckpoint(ctx, sourceID, lib.ID); err != nil {
		return result, err
	}

	if mode == domain.SyncFull {
		removed, err := s.repo.MarkRemovedExcept(ctx, sourceID, lib.ID, seen)
		if err != nil {
			return result, err
		}
		result.ItemsRemoved += removed
	}

	s.logger.Debug("library synced", "source", sourceID, "library", lib.ID, "items", loaded,
		"added", result.ItemsAdded, "updated", result.ItemsUpdated, "removed", result.ItemsRemoved)
	return result, nil
}

func (s *Service) withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	return retry.Do(ctx, s.opts.Retry, s.logger, func() error {
		if attempts > 0 {
			metrics.SyncPageRetries.Inc()
		}
		attempts++
		return op()
	})
}
