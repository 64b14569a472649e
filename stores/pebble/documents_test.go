package pebble

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) *documentStore {
	t.Helper()
	store, err := open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadOrCreate_NewDocument(t *testing.T) {
	store := newMemStore(t)

	doc, err := store.LoadOrCreate(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Empty(t, doc.Content)

	_, err = store.get("doc-1")
	assert.NoError(t, err, "LoadOrCreate should persist the empty document")
}

func TestSaveThenLoad(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "doc-1", []byte(`"hi"`)))

	doc, err := store.LoadOrCreate(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(doc.Content))
}

func TestSave_Idempotent(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "doc-1", []byte("same")))
	require.NoError(t, store.Save(ctx, "doc-1", []byte("same")))

	doc, err := store.LoadOrCreate(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "same", string(doc.Content))
}

func TestDocumentsAreIsolated(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", []byte("alpha")))

	doc, err := store.LoadOrCreate(ctx, "ab")
	require.NoError(t, err)
	assert.Empty(t, doc.Content)
}

func TestConcurrentFirstLoadAndSave(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "doc", []byte("saved")))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := store.LoadOrCreate(ctx, "doc")
			assert.NoError(t, err)
			assert.Equal(t, "saved", string(doc.Content))
		}()
	}
	wg.Wait()
}
