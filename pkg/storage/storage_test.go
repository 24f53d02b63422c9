package storage

import (
	"encoding/gob"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func init() {
	gob.Register(sample{})
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type sample struct {
	Name  string
	Count int
}

func TestPutGetJSON(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, JSON, false)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", sample{Name: "a", Count: 1}))

	var got sample
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, sample{Name: "a", Count: 1}, got)
}

func TestPutGetGob(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"results"}, Gob, true)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", sample{Name: "b", Count: 2}))

	var got sample
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, sample{Name: "b", Count: 2}, got)
}

func TestPutGetGobIntoAny(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, Gob, true)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", 42))
	require.NoError(t, store.Put("k2", "hello"))

	var got any
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, 42, got)
	require.NoError(t, store.Get("k2", &got))
	assert.Equal(t, "hello", got)
}

func TestPutGetGobPointerStoresSameBytesAsValue(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, Gob, false)
	require.NoError(t, err)

	v := sample{Name: "ptr", Count: 9}
	require.NoError(t, store.Put("k1", &v))
	require.NoError(t, store.Put("k2", v))

	var fromPtr, fromValue []byte
	require.NoError(t, db.view(func(tx *bolt.Tx) error {
		b := openNestedBucket(tx, store.path)
		fromPtr = append([]byte(nil), b.Get([]byte("k1"))...)
		fromValue = append([]byte(nil), b.Get([]byte("k2"))...)
		return nil
	}))
	assert.Equal(t, fromValue, fromPtr)

	var got sample
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, v, got)
}

func TestPutGetText(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"logs"}, Text, true)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", "hello world"))

	var got string
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, "hello world", got)
}

func TestAppendOnlyRejectsOverwrite(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, JSON, true)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", sample{Name: "a"}))
	err = store.Put("k1", sample{Name: "b"})
	assert.Error(t, err)

	var got sample
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, "a", got.Name, "append-only violation must not change the stored value")
}

func TestMutableStoreAllowsOverwrite(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"config"}, JSON, false)
	require.NoError(t, err)

	require.NoError(t, store.Put("k1", sample{Name: "a"}))
	require.NoError(t, store.Put("k1", sample{Name: "b"}))

	var got sample
	require.NoError(t, store.Get("k1", &got))
	assert.Equal(t, "b", got.Name)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, JSON, false)
	require.NoError(t, err)

	var got sample
	err = store.Get("missing", &got)
	assert.Error(t, err)
}

func TestRandomKeyUniformish(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, JSON, false)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(string(rune('a'+i)), sample{Count: i}))
	}

	rnd := rand.New(rand.NewSource(42))
	key, err := store.RandomKey(rnd)
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	seen := make(map[string]int)
	for i := 0; i < 200; i++ {
		k, err := store.RandomKey(rnd)
		require.NoError(t, err)
		seen[k]++
	}
	assert.Len(t, seen, 10, "every stored key must be drawn over many samples")
}

func TestNewestValuesOrdersByInsertion(t *testing.T) {
	db := openTestDB(t)
	store, err := db.Store([]string{"values"}, JSON, true)
	require.NoError(t, err)

	require.NoError(t, store.Put("first", sample{Count: 1}))
	require.NoError(t, store.Put("second", sample{Count: 2}))
	require.NoError(t, store.Put("third", sample{Count: 3}))

	newest, err := store.NewestValues(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, newest)
}

func TestRunHistoryFourSubstores(t *testing.T) {
	db := openTestDB(t)
	rh, err := OpenRunHistory(db, []string{"run_history", "calls"})
	require.NoError(t, err)

	require.NoError(t, rh.JSON.Put("k", sample{Name: "json"}))
	require.NoError(t, rh.Text.Put("k", "plain text"))
	require.NoError(t, rh.Source.Put("k", "func f() {}"))
	require.NoError(t, rh.Gob.Put("k", sample{Name: "gob"}))

	var s sample
	require.NoError(t, rh.JSON.Get("k", &s))
	assert.Equal(t, "json", s.Name)

	var text string
	require.NoError(t, rh.Text.Get("k", &text))
	assert.Equal(t, "plain text", text)
}

func TestRunHistorySourceSubstoreIsMutable(t *testing.T) {
	db := openTestDB(t)
	rh, err := OpenRunHistory(db, []string{"run_history", "calls"})
	require.NoError(t, err)

	require.NoError(t, rh.Source.Put("k", "func f() { return 1 }"))
	require.NoError(t, rh.Source.Put("k", "func f() { return 2 }"), "the source substore must allow overwriting a redefined function's captured source")

	var got string
	require.NoError(t, rh.Source.Get("k", &got))
	assert.Equal(t, "func f() { return 2 }", got)
}

func TestRunHistoryJSONTextGobSubstoresAreAppendOnly(t *testing.T) {
	db := openTestDB(t)
	rh, err := OpenRunHistory(db, []string{"run_history", "calls"})
	require.NoError(t, err)

	require.NoError(t, rh.JSON.Put("k", sample{Name: "first"}))
	assert.Error(t, rh.JSON.Put("k", sample{Name: "second"}))

	require.NoError(t, rh.Text.Put("k", "first"))
	assert.Error(t, rh.Text.Put("k", "second"))

	require.NoError(t, rh.Gob.Put("k", sample{Name: "first"}))
	assert.Error(t, rh.Gob.Put("k", sample{Name: "second"}))
}
