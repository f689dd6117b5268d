package pebblestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

func openTestStore(t *testing.T, collection string) *Store {
	t.Helper()
	s, err := Open("docsink", collection, Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_BulkWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "books")

	ops := []persistence.WriteOperation{
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Dune"}, Update: map[string]any{"title": "Dune", "views": 1}, Upsert: true},
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Dune"}, Update: map[string]any{"views": 2}, Upsert: true},
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Emma"}, Update: map[string]any{"views": 1}},
	}

	result, err := s.BulkWrite(ctx, ops, false)
	require.NoError(t, err)
	assert.Equal(t, persistence.BulkResult{Matched: 1, Modified: 1, Upserted: 1}, result)

	docs, err := s.All()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Dune", docs[0]["title"])
	assert.Equal(t, float64(2), docs[0]["views"])
}

func TestStore_InsertManyGetAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "books")

	result, err := s.InsertMany(ctx, []persistence.Record{
		{persistence.IDField: "d", "title": "Dune", "shelf": 1},
		{persistence.IDField: "e", "title": "Emma", "shelf": 2},
		{"title": "Ulysses", "shelf": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Inserted)

	doc, ok, err := s.Get("d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dune", doc["title"])

	_, err = s.InsertMany(ctx, []persistence.Record{{persistence.IDField: "d"}})
	assert.ErrorIs(t, err, document.ErrDuplicateID)

	deleted, err := s.DeleteByQuery(ctx, map[string]any{"shelf": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, ok, err = s.Get("d")
	require.NoError(t, err)
	assert.False(t, ok)

	docs, err := s.All()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Emma", docs[0]["title"])
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	books := openTestStore(t, "books")
	authors := New(books.db, "booksx")

	_, err := books.InsertMany(ctx, []persistence.Record{{persistence.IDField: "1"}})
	require.NoError(t, err)
	_, err = authors.InsertMany(ctx, []persistence.Record{{persistence.IDField: "1"}, {persistence.IDField: "2"}})
	require.NoError(t, err)

	deleted, err := books.DeleteByQuery(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	docs, err := authors.All()
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.NoError(t, authors.Close())
}

func TestStore_OrderedBulkCommitsPrefix(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "books")

	ops := []persistence.WriteOperation{
		persistence.InsertOperation(persistence.Record{persistence.IDField: "a"}),
		persistence.InsertOperation(persistence.Record{persistence.IDField: "a"}),
		persistence.InsertOperation(persistence.Record{persistence.IDField: "b"}),
	}

	result, err := s.BulkWrite(ctx, ops, true)
	var bulkErr *persistence.BulkWriteError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 1, bulkErr.Failures[0].Index)
	assert.Equal(t, int64(1), result.Inserted)

	docs, err := s.All()
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
