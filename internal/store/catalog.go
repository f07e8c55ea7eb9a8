package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mmcdole/reel/internal/domain"
)

const itemColumns = "source_id, id, library_id, type, title, sort_title, show_id, parent_id, item_index, metadata_json, poster_ref, backdrop_ref, duration_ms, position_ms, watched, last_watched, remote_updated_at"

const itemOrder = " ORDER BY CASE WHEN sort_title <> '' THEN sort_title ELSE title END COLLATE NOCASE, id"

func scanItem(scanner interface{ Scan(dest ...any) error }) (domain.MediaItem, error) {
	var (
		item         domain.MediaItem
		itemType     string
		metadataJSON string
		durationMS   int64
		positionMS   int64
		watched      int
		lastWatched  sql.NullString
		updatedAt    sql.NullString
	)
	if err := scanner.Scan(&item.SourceID, &item.ID, &item.LibraryID, &itemType, &item.Title,
		&item.SortTitle, &item.ShowID, &item.ParentID, &item.Index, &metadataJSON,
		&item.PosterRef, &item.BackdropRef, &durationMS, &positionMS, &watched,
		&lastWatched, &updatedAt); err != nil {
		return domain.MediaItem{}, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &item.Metadata); err != nil {
		return domain.MediaItem{}, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
	}
	item.Type = domain.ItemType(itemType)
	item.Duration = time.Duration(durationMS) * time.Millisecond
	item.Playback = domain.PlaybackState{
		Position:    time.Duration(positionMS) * time.Millisecond,
		Watched:     watched != 0,
		LastWatched: parseTime(lastWatched),
	}
	item.UpdatedAt = parseTime(updatedAt)
	return item, nil
}

func scanItems(rows *sql.Rows) ([]domain.MediaItem, error) {
	defer rows.Close()
	var out []domain.MediaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpsertLibraries writes a source's libraries in server order. The type is
// canonicalized here so no reader ever has to.
func (s *Store) UpsertLibraries(ctx context.Context, sourceID string, libs []domain.Library) error {
	return s.withTx(ctx, "upsert libraries", func(tx *sql.Tx) error {
		for i, lib := range libs {
			if lib.ID == "" {
				return fmt.Errorf("%w: library without id", domain.ErrParse)
			}
			libType := domain.NormalizeLibraryType(string(lib.Type))
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO libraries (source_id, id, name, type, position) VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT (source_id, id) DO UPDATE SET
                     name = excluded.name, type = excluded.type, position = excluded.position`,
				sourceID, lib.ID, lib.Name, string(libType), i,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLibraries returns a source's libraries in server order
func (s *Store) ListLibraries(ctx context.Context, sourceID string) ([]domain.Library, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, id, name, type FROM libraries WHERE source_id = ? ORDER BY position, id`, sourceID)
	if err != nil {
		return nil, storageErr("list libraries", err)
	}
	defer rows.Close()

	var out []domain.Library
	for rows.Next() {
		var lib domain.Library
		var libType string
		if err := rows.Scan(&lib.SourceID, &lib.ID, &lib.Name, &libType); err != nil {
			return nil, storageErr("scan library", err)
		}
		lib.Type = domain.LibraryType(libType)
		out = append(out, lib)
	}
	return out, storageErr("list libraries", rows.Err())
}

// DeleteLibrariesExcept drops libraries no longer reported remotely,
// cascading to their items and checkpoints.
func (s *Store) DeleteLibrariesExcept(ctx context.Context, sourceID string, keep []string) (int, error) {
	query := `DELETE FROM libraries WHERE source_id = ?`
	args := []any{sourceID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + makePlaceholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("delete libraries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete libraries", err)
	}
	return int(n), nil
}

type storedItem struct {
	item    domain.MediaItem
	removed bool
}

func loadStoredItem(ctx context.Context, tx *sql.Tx, sourceID, itemID string) (storedItem, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+`, removed FROM media_items WHERE source_id = ? AND id = ?`, sourceID, itemID)

	var (
		st      storedItem
		removed int
	)
	item, err := scanItem(rowWithExtra{row: row, extra: []any{&removed}})
	if errors.Is(err, sql.ErrNoRows) {
		return storedItem{}, false, nil
	}
	if err != nil {
		return storedItem{}, false, err
	}
	st.item = item
	st.removed = removed != 0
	return st, true, nil
}

// rowWithExtra lets scanItem read rows that carry trailing columns
type rowWithExtra struct {
	row   *sql.Row
	extra []any
}

func (r rowWithExtra) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.extra...)...)
}

// UpsertMediaItemsPage writes one page atomically. Catalog fields come from
// the remote; playback state is merged so local progress survives unless the
// remote is strictly newer. A reappearing removed item counts as added.
// nextOffset is stored as the library checkpoint; pass -1 to leave it alone.
func (s *Store) UpsertMediaItemsPage(ctx context.Context, sourceID, libraryID string, items []domain.MediaItem, nextOffset int, skew time.Duration) (int, int, error) {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return 0, 0, err
		}
	}

	var added, updated int
	err := s.withTx(ctx, "upsert items page", func(tx *sql.Tx) error {
		syncedAt := formatTime(s.now())
		for _, item := range items {
			item.SourceID = sourceID
			item.Duration = item.Duration.Truncate(time.Millisecond)
			item.Playback.Position = item.Playback.Position.Truncate(time.Millisecond)
			if item.LibraryID == "" {
				item.LibraryID = libraryID
			}

			existing, found, err := loadStoredItem(ctx, tx, sourceID, item.ID)
			if err != nil {
				return err
			}

			changed := true
			switch {
			case !found:
				added++
			case existing.removed:
				item.Playback, _ = domain.MergePlayback(existing.item.Playback, item.Playback, skew)
				added++
			default:
				merged, remoteWon := domain.MergePlayback(existing.item.Playback, item.Playback, skew)
				item.Playback = merged
				changed = remoteWon || !existing.item.CatalogEqual(item)
				if changed {
					updated++
				}
			}
			if !changed {
				continue
			}
			if err := writeItem(ctx, tx, item, syncedAt); err != nil {
				return err
			}
		}

		if nextOffset >= 0 {
			return setCheckpoint(ctx, tx, sourceID, libraryID, nextOffset, s.now())
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return added, updated, nil
}

func writeItem(ctx context.Context, tx *sql.Tx, item domain.MediaItem, syncedAt sql.NullString) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", item.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO media_items (`+itemColumns+`, removed, synced_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
         ON CONFLICT (source_id, id) DO UPDATE SET
             library_id = excluded.library_id,
             type = excluded.type,
             title = excluded.title,
             sort_title = excluded.sort_title,
             show_id = excluded.show_id,
             parent_id = excluded.parent_id,
             item_index = excluded.item_index,
             metadata_json = excluded.metadata_json,
             poster_ref = excluded.poster_ref,
             backdrop_ref = excluded.backdrop_ref,
             duration_ms = excluded.duration_ms,
             position_ms = excluded.position_ms,
             watched = excluded.watched,
             last_watched = excluded.last_watched,
             remote_updated_at = excluded.remote_updated_at,
             removed = 0,
             synced_at = excluded.synced_at`,
		item.SourceID, item.ID, item.LibraryID, string(item.Type), item.Title, item.SortTitle,
		item.ShowID, item.ParentID, item.Index, string(metadata), item.PosterRef, item.BackdropRef,
		item.Duration.Milliseconds(), item.Playback.Position.Milliseconds(),
		boolToInt(item.Playback.Watched), formatTime(item.Playback.LastWatched),
		formatTime(item.UpdatedAt), syncedAt,
	)
	return err
}

// MarkRemovedExcept flags live items of a library that the remote no longer
// reports. Only call it after every page of the library was fetched.
func (s *Store) MarkRemovedExcept(ctx context.Context, sourceID, libraryID string, seen []string) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		keep[id] = struct{}{}
	}

	var removed int
	err := s.withTx(ctx, "mark removed", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM media_items WHERE source_id = ? AND library_id = ? AND removed = 0`,
			sourceID, libraryID)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx,
				`UPDATE media_items SET removed = 1 WHERE source_id = ? AND id = ?`, sourceID, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM home_section_items WHERE source_id = ? AND item_id = ?`, sourceID, id); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// GetMediaItem fetches one live item
func (s *Store) GetMediaItem(ctx context.Context, sourceID, itemID string) (domain.MediaItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM media_items WHERE source_id = ? AND id = ? AND removed = 0`,
		sourceID, itemID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MediaItem{}, fmt.Errorf("%w: %s/%s", domain.ErrItemNotFound, sourceID, itemID)
	}
	if err != nil {
		return domain.MediaItem{}, storageErr("get item", err)
	}
	return item, nil
}

// FindByLibraryAndType returns live items of one library with the given
// canonical type. The type is compared as stored, never re-normalized.
func (s *Store) FindByLibraryAndType(ctx context.Context, sourceID, libraryID string, itemType domain.ItemType) ([]domain.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items
         WHERE source_id = ? AND library_id = ? AND type = ? AND removed = 0`+itemOrder,
		sourceID, libraryID, string(itemType))
	if err != nil {
		return nil, storageErr("find by library and type", err)
	}
	items, err := scanItems(rows)
	return items, storageErr("find by library and type", err)
}

// ItemsByLibraryType returns the browse-level items of every library of a
// source with the given canonical library type.
func (s *Store) ItemsByLibraryType(ctx context.Context, sourceID string, libType domain.LibraryType) ([]domain.MediaItem, error) {
	viewType, ok := libType.ViewItemType()
	query := `SELECT ` + prefixed("m.", itemColumns) + ` FROM media_items m
         JOIN libraries l ON l.source_id = m.source_id AND l.id = m.library_id
         WHERE m.source_id = ? AND l.type = ? AND m.removed = 0`
	args := []any{sourceID, string(libType)}
	if ok {
		query += ` AND m.type = ?`
		args = append(args, string(viewType))
	} else {
		query += ` AND m.type NOT IN ('season', 'episode')`
	}

	rows, err := s.db.QueryContext(ctx, query+` ORDER BY m.sort_title COLLATE NOCASE, m.title COLLATE NOCASE, m.id`, args...)
	if err != nil {
		return nil, storageErr("items by library type", err)
	}
	items, err := scanItems(rows)
	return items, storageErr("items by library type", err)
}

// LibraryView returns what browsing a library shows: movies, shows (never
// their seasons or episodes) or tracks.
func (s *Store) LibraryView(ctx context.Context, sourceID, libraryID string) ([]domain.MediaItem, error) {
	var libType string
	err := s.db.QueryRowContext(ctx,
		`SELECT type FROM libraries WHERE source_id = ? AND id = ?`, sourceID, libraryID).Scan(&libType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("library view", err)
	}

	if viewType, ok := domain.LibraryType(libType).ViewItemType(); ok {
		return s.FindByLibraryAndType(ctx, sourceID, libraryID, viewType)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items
         WHERE source_id = ? AND library_id = ? AND removed = 0 AND type NOT IN ('season', 'episode')`+itemOrder,
		sourceID, libraryID)
	if err != nil {
		return nil, storageErr("library view", err)
	}
	items, err := scanItems(rows)
	return items, storageErr("library view", err)
}

// AllItems returns every live item across sources
func (s *Store) AllItems(ctx context.Context) ([]domain.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items WHERE removed = 0 ORDER BY source_id, id`)
	if err != nil {
		return nil, storageErr("all items", err)
	}
	items, err := scanItems(rows)
	return items, storageErr("all items", err)
}

// UpdatePlaybackProgress records local consumption state
func (s *Store) UpdatePlaybackProgress(ctx context.Context, sourceID, itemID string, state domain.PlaybackState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET position_ms = ?, watched = ?, last_watched = ?
         WHERE source_id = ? AND id = ?`,
		state.Position.Milliseconds(), boolToInt(state.Watched), formatTime(state.LastWatched),
		sourceID, itemID)
	if err != nil {
		return storageErr("update playback", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update playback", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrItemNotFound, sourceID, itemID)
	}
	return nil
}
