package blobstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]BlobStore {
	return map[string]BlobStore{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(filepath.Join(t.TempDir(), "root")),
	}
}

func TestBlobStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)

			require.NoError(t, store.Put(ctx, "cp/2/manifest", []byte("two")))
			require.NoError(t, store.Put(ctx, "cp/1/manifest", []byte("one")))
			require.NoError(t, store.Put(ctx, "CURRENT", []byte("cp/1")))
			require.NoError(t, store.Put(ctx, "CURRENT", []byte("cp/2")))

			w, err := store.Create(ctx, "cp/2/accounts")
			require.NoError(t, err)
			_, err = w.Write([]byte("hello "))
			require.NoError(t, err)
			_, err = w.Write([]byte("world"))
			require.NoError(t, err)
			require.NoError(t, w.Sync())
			require.NoError(t, w.Close())

			data, err := ReadAll(ctx, store, "cp/2/accounts")
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))

			data, err = ReadAll(ctx, store, "CURRENT")
			require.NoError(t, err)
			assert.Equal(t, "cp/2", string(data))

			names, err = store.List(ctx, "cp/")
			require.NoError(t, err)
			assert.Equal(t, []string{"cp/1/manifest", "cp/2/accounts", "cp/2/manifest"}, names)

			b, err := store.Open(ctx, "cp/2/accounts")
			require.NoError(t, err)
			assert.Equal(t, int64(11), b.Size())
			buf := make([]byte, 8)
			n, err := b.ReadAt(ctx, buf, 6)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "world", string(buf[:n]))

			all, err := io.ReadAll(Reader(ctx, b))
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(all))
			require.NoError(t, b.Close())

			require.NoError(t, store.Delete(ctx, "cp/1/manifest"))
			require.NoError(t, store.Delete(ctx, "cp/1/manifest"))
			_, err = store.Open(ctx, "cp/1/manifest")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStorePutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "x", data))
	data[0] = 'z'

	got, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestLocalStoreEmptyBlob(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}
