package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundtrip(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, store.Put("deps-abc", []byte("payload")))

	blob, err := store.Get("deps-abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), blob)

	_, err = store.Get("deps-unknown")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPutIdempotentForIdenticalContent(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, store.Put("key", []byte("same")))
	require.NoError(t, store.Put("key", []byte("same")))

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(4), store.Size())
}

func TestPutConflictingContentFails(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, store.Put("key", []byte("first")))

	err = store.Put("key", []byte("other"))
	assert.ErrorIs(t, err, ErrIntegrity)

	// The original content survives the collision
	blob, err := store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), blob)
}

func TestConcurrentIdenticalPuts(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Put("shared", []byte("identical"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err, "all identical writers must observe success")
	}
	assert.Equal(t, 1, store.Len())
}

func TestEvictionIsLRU(t *testing.T) {
	// Three 6-byte blobs against a 14-byte capacity
	store, err := Open(t.TempDir(), 14)
	require.NoError(t, err)

	require.NoError(t, store.Put("a", []byte("aaaaaa")))
	require.NoError(t, store.Put("b", []byte("bbbbbb")))

	// Touch a so b becomes the least recently used entry
	_, err = store.Get("a")
	require.NoError(t, err)

	require.NoError(t, store.Put("c", []byte("cccccc")))

	_, err = store.Get("b")
	assert.ErrorIs(t, err, ErrMiss, "the least recently used entry is evicted")

	_, err = store.Get("a")
	assert.NoError(t, err)
	_, err = store.Get("c")
	assert.NoError(t, err)
	assert.LessOrEqual(t, store.Size(), int64(14))
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put("persisted", []byte("still here")))

	reopened, err := Open(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	blob, err := reopened.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), blob)

	// Integrity is enforced across reopen too
	assert.ErrorIs(t, reopened.Put("persisted", []byte("different!")), ErrIntegrity)
}

func TestManyKeysUnbounded(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("blob-%d", i))))
	}
	assert.Equal(t, 50, store.Len())

	blob, err := store.Get("key-37")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-37"), blob)
}
