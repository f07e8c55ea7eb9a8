package imagecache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/reel/internal/domain"
)

var bucketImages = []byte("images")

// Cache is the on-disk image store keyed by "source:ref"
type Cache struct {
	db *bolt.DB
}

// OpenCache creates or opens the cache file at path
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", domain.ErrStorage, err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open image cache: %v", domain.ErrStorage, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketImages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init image cache: %v", domain.ErrStorage, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the file
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns a copy of the cached bytes for key
func (c *Cache) Get(key Key) ([]byte, bool, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketImages).Get([]byte(key.String())); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: read image %s: %v", domain.ErrStorage, key, err)
	}
	return data, data != nil, nil
}

// Put stores data under key
func (c *Cache) Put(key Key, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put([]byte(key.String()), data)
	})
	if err != nil {
		return fmt.Errorf("%w: write image %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// InvalidateSource deletes every image cached for sourceID and reports how many
func (c *Cache) InvalidateSource(sourceID string) (int, error) {
	prefix := []byte(sourceID + ":")
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketImages).Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Seek(prefix) {
			if err := cur.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: invalidate images for %s: %v", domain.ErrStorage, sourceID, err)
	}
	return removed, nil
}
