package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Checkpoint returns the next window offset for an interrupted library pass,
// or 0 when the library has no pending checkpoint.
func (s *Store) Checkpoint(ctx context.Context, sourceID, libraryID string) (int, error) {
	var offset int
	err := s.db.QueryRowContext(ctx,
		`SELECT next_offset FROM sync_checkpoints WHERE source_id = ? AND library_id = ?`,
		sourceID, libraryID).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("read checkpoint", err)
	}
	return offset, nil
}

// ClearCheckpoint forgets the checkpoint once a library completed
func (s *Store) ClearCheckpoint(ctx context.Context, sourceID, libraryID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE source_id = ? AND library_id = ?`, sourceID, libraryID)
	return storageErr("clear checkpoint", err)
}

func setCheckpoint(ctx context.Context, tx *sql.Tx, sourceID, libraryID string, offset int, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (source_id, library_id, next_offset, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (source_id, library_id) DO UPDATE SET
             next_offset = excluded.next_offset, updated_at = excluded.updated_at`,
		sourceID, libraryID, offset, formatTime(at))
	return err
}
