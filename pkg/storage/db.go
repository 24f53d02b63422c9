// Package storage implements the persistence backend every portal layer
// builds its stores on: a single bbolt database per portal directory,
// sub-stores rooted at an arbitrary nested bucket path, with a pluggable
// serialization format and optional append-only semantics.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// lockTimeout bounds how long an operation waits for the bbolt file lock
// held by another process (a swarm descendant sharing the same portal
// directory) before giving up.
const lockTimeout = 10 * time.Second

// DB names the bbolt file backing a portal at dataDir/portal.db.
//
// bbolt holds an exclusive flock for as long as the file is open, and a
// portal directory is shared by the ancestor process and every swarm
// descendant it spawns. Keeping the file open for a portal's lifetime
// would lock all other processes out, so DB opens the file per operation
// instead: each transaction acquires the lock, runs, and releases it,
// letting the ancestor and its descendants interleave.
type DB struct {
	path string
}

// Open prepares (creating if necessary) the bbolt file backing a portal at
// dataDir/portal.db. The file is touched eagerly so a bad directory fails
// here rather than on the first Put.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create data directory %s: %w", dataDir, err)
	}
	d := &DB{path: filepath.Join(dataDir, "portal.db")}
	if err := d.update(func(tx *bolt.Tx) error { return nil }); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) update(fn func(tx *bolt.Tx) error) error {
	b, err := bolt.Open(d.path, 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("storage: failed to open database at %s: %w", d.path, err)
	}
	defer b.Close()
	return b.Update(fn)
}

func (d *DB) view(fn func(tx *bolt.Tx) error) error {
	b, err := bolt.Open(d.path, 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("storage: failed to open database at %s: %w", d.path, err)
	}
	defer b.Close()
	return b.View(fn)
}

// Close releases the DB. The file handle is opened per operation, so there
// is nothing to tear down; Close exists so portal teardown reads naturally.
func (d *DB) Close() error {
	return nil
}

// Path returns the filesystem path of the backing bbolt file.
func (d *DB) Path() string {
	return d.path
}

// Store opens a sub-store rooted at the given nested bucket path (e.g.
// []string{"values"} or []string{"run_history", "crashes"}), with the given
// format and append-only policy. The bucket path is created if it does not
// already exist.
func (d *DB) Store(bucketPath []string, format Format, appendOnly bool) (*Store, error) {
	if len(bucketPath) == 0 {
		return nil, fmt.Errorf("storage: bucket path must not be empty")
	}
	err := d.update(func(tx *bolt.Tx) error {
		_, err := createNestedBucket(tx, bucketPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: d, path: bucketPath, format: format, appendOnly: appendOnly}, nil
}

func createNestedBucket(tx *bolt.Tx, path []string) (*bolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create bucket %q: %w", path[0], err)
	}
	for _, name := range path[1:] {
		b, err = b.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("storage: failed to create nested bucket %q: %w", name, err)
		}
	}
	return b, nil
}

func openNestedBucket(tx *bolt.Tx, path []string) *bolt.Bucket {
	b := tx.Bucket([]byte(path[0]))
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(name))
	}
	return b
}
