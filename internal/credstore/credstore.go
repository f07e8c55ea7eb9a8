// Package credstore keeps per-source secrets in a bbolt file readable only
// by the current user. Sources reference entries by key and never embed them.
package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/reel/internal/domain"
)

var bucketCredentials = []byte("credentials")

// Store implements domain.CredentialStore using BoltDB
type Store struct {
	db *bolt.DB
}

var _ domain.CredentialStore = (*Store)(nil)

// Open creates or opens the credential file at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the file
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores creds under ref, replacing any previous entry
func (s *Store) Put(_ context.Context, ref string, creds domain.Credentials) error {
	if ref == "" {
		return fmt.Errorf("credential ref is empty")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put([]byte(ref), data)
	})
}

// Get loads the entry for ref
func (s *Store) Get(_ context.Context, ref string) (domain.Credentials, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCredentials).Get([]byte(ref)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return domain.Credentials{}, err
	}
	if data == nil {
		return domain.Credentials{}, fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, ref)
	}

	var creds domain.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode credential %s: %w", ref, err)
	}
	return creds, nil
}

// Delete removes the entry for ref; missing entries are not an error
func (s *Store) Delete(_ context.Context, ref string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(ref))
	})
}
