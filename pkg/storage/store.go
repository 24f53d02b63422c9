package storage

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/portalforge/pkg/portalerr"
)

// sequence bookkeeping lives under these reserved key/bucket names inside
// the data bucket itself; bbolt allows k/v pairs and nested buckets to
// coexist in the same bucket, so this never collides with real item keys
// (which are content-address signatures and similar identifiers, never
// starting with "__").
var (
	seqCounterKey = []byte("__next_seq__")
	seqBucketName = []byte("__seq__")
)

// Store is a sub-store rooted at a fixed bucket path within a DB, with a
// fixed serialization Format and append-only policy.
type Store struct {
	db         *DB
	path       []string
	format     Format
	appendOnly bool
}

// Format reports the store's serialization format.
func (s *Store) Format() Format { return s.format }

// AppendOnly reports whether this store rejects overwriting an existing
// key.
func (s *Store) AppendOnly() bool { return s.appendOnly }

// Put writes value at key. If the store is append-only and key already
// exists, Put returns portalerr.ErrAppendOnlyViolation and leaves the
// existing value untouched.
func (s *Store) Put(key string, value any) error {
	data, err := encode(s.format, value)
	if err != nil {
		return err
	}
	return s.db.update(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return fmt.Errorf("storage: bucket path %v does not exist", s.path)
		}
		if s.appendOnly && b.Get([]byte(key)) != nil {
			return fmt.Errorf("storage: key %q already exists: %w", key, portalerr.ErrAppendOnlyViolation)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		return s.recordSequence(b, key)
	})
}

func (s *Store) recordSequence(b *bolt.Bucket, key string) error {
	seqBucket, err := b.CreateBucketIfNotExists(seqBucketName)
	if err != nil {
		return fmt.Errorf("storage: failed to open sequence bucket: %w", err)
	}
	next := uint64(1)
	if raw := b.Get(seqCounterKey); raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := b.Put(seqCounterKey, buf); err != nil {
		return err
	}
	return seqBucket.Put([]byte(key), buf)
}

// Get reads the value at key into out (a pointer whose type matches the
// store's Format: *string for Text/Source, any pointer for JSON/Gob). It
// returns portalerr.ErrNotFound if key is absent.
func (s *Store) Get(key string, out any) error {
	return s.db.view(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return portalerr.ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("storage: key %q: %w", key, portalerr.ErrNotFound)
		}
		return decode(s.format, data, out)
	})
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) (bool, error) {
	found := false
	err := s.db.view(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return nil
		}
		found = b.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Delete removes key. It is a no-op if key is absent. Append-only stores
// still permit delete: the append-only guarantee is about overwrite, not
// removal, so completed execution requests can still be cleared.
func (s *Store) Delete(key string) error {
	return s.db.update(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return nil
		}
		if seqBucket := b.Bucket(seqBucketName); seqBucket != nil {
			_ = seqBucket.Delete([]byte(key))
		}
		return b.Delete([]byte(key))
	})
}

// Keys returns every key currently in the store, in bbolt's sorted byte
// order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.view(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil // nested bucket (e.g. the sequence bucket), not an item
			}
			if string(k) == string(seqCounterKey) {
				return nil
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// RandomKey samples a key uniformly at random from the store using rnd,
// which callers should seed from the owning portal's entropy source.
// Returns portalerr.ErrNotFound if the store is empty.
func (s *Store) RandomKey(rnd *rand.Rand) (string, error) {
	keys, err := s.Keys()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("storage: store is empty: %w", portalerr.ErrNotFound)
	}
	return keys[rnd.Intn(len(keys))], nil
}

// NewestValues returns up to n keys ordered by descending insertion
// sequence (most recently Put first). bbolt has no native insertion-order
// index, so each Put records a monotonic sequence number alongside the
// value; this walks that index rather than the data in key order.
func (s *Store) NewestValues(n int) ([]string, error) {
	type keyed struct {
		key string
		seq uint64
	}
	var all []keyed
	err := s.db.view(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, s.path)
		if b == nil {
			return nil
		}
		seqBucket := b.Bucket(seqBucketName)
		if seqBucket == nil {
			return nil
		}
		return seqBucket.ForEach(func(k, v []byte) error {
			all = append(all, keyed{key: string(k), seq: binary.BigEndian.Uint64(v)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })

	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].key
	}
	return out, nil
}

// Len returns the number of items currently in the store.
func (s *Store) Len() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
