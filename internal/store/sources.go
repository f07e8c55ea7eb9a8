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

const sourceColumns = "id, kind, name, endpoints_json, credential_ref, auth_status, connection_state, last_auth_check, last_sync"

func scanSource(scanner interface{ Scan(dest ...any) error }) (domain.Source, error) {
	var (
		src           domain.Source
		kind          string
		endpointsJSON string
		authStatus    string
		connState     string
		lastAuthCheck sql.NullString
		lastSync      sql.NullString
	)
	if err := scanner.Scan(&src.ID, &kind, &src.Name, &endpointsJSON, &src.CredentialRef,
		&authStatus, &connState, &lastAuthCheck, &lastSync); err != nil {
		return domain.Source{}, err
	}
	if err := json.Unmarshal([]byte(endpointsJSON), &src.Endpoints); err != nil {
		return domain.Source{}, fmt.Errorf("decode endpoints for %s: %w", src.ID, err)
	}
	src.Kind = domain.BackendKind(kind)
	src.AuthStatus = domain.AuthStatus(authStatus)
	src.ConnectionState = domain.ConnectionState(connState)
	src.LastAuthCheck = parseTime(lastAuthCheck)
	src.LastSync = parseTime(lastSync)
	return src, nil
}

// UpsertSource inserts a source or updates its descriptive fields.
// The ID never changes once written.
func (s *Store) UpsertSource(ctx context.Context, src domain.Source) error {
	if src.ID == "" {
		return fmt.Errorf("%w: source without id", domain.ErrStorage)
	}
	endpoints, err := json.Marshal(src.Endpoints)
	if err != nil {
		return storageErr("encode endpoints", err)
	}
	if src.AuthStatus == "" {
		src.AuthStatus = domain.AuthUnknown
	}
	if src.ConnectionState == "" {
		src.ConnectionState = domain.StateDisconnected
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
             kind = excluded.kind,
             name = excluded.name,
             endpoints_json = excluded.endpoints_json,
             credential_ref = excluded.credential_ref,
             auth_status = excluded.auth_status,
             connection_state = excluded.connection_state,
             last_auth_check = excluded.last_auth_check,
             last_sync = excluded.last_sync`,
		src.ID, string(src.Kind), src.Name, string(endpoints), src.CredentialRef,
		string(src.AuthStatus), string(src.ConnectionState),
		formatTime(src.LastAuthCheck), formatTime(src.LastSync),
		formatTime(s.now()),
	)
	return storageErr("upsert source", err)
}

// GetSource fetches one source by ID
func (s *Store) GetSource(ctx context.Context, id string) (domain.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if err != nil {
		return domain.Source{}, storageErr("get source", err)
	}
	return src, nil
}

// ListSources returns every configured source in creation order
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("list sources", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, storageErr("scan source", err)
		}
		out = append(out, src)
	}
	return out, storageErr("list sources", rows.Err())
}

// RemoveSource deletes a source; foreign keys cascade to everything it owns
func (s *Store) RemoveSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return storageErr("remove source", err)
	}
	return requireRow(res, id)
}

// MarkSourceAuthStatus records the outcome of an authentication attempt
func (s *Store) MarkSourceAuthStatus(ctx context.Context, id string, status domain.AuthStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET auth_status = ?, last_auth_check = ? WHERE id = ?`,
		string(status), formatTime(at), id)
	if err != nil {
		return storageErr("mark auth status", err)
	}
	return requireRow(res, id)
}

// MarkSourceConnectionState records the monitor's current state
func (s *Store) MarkSourceConnectionState(ctx context.Context, id string, state domain.ConnectionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET connection_state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return storageErr("mark connection state", err)
	}
	return requireRow(res, id)
}

// MarkSourceSynced stamps a completed pass
func (s *Store) MarkSourceSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_sync = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return storageErr("mark synced", err)
	}
	return requireRow(res, id)
}

// UpdateSourceCredentials points a source at a new credential entry
func (s *Store) UpdateSourceCredentials(ctx context.Context, id, credentialRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET credential_ref = ? WHERE id = ?`, credentialRef, id)
	if err != nil {
		return storageErr("update credentials", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	return nil
}
