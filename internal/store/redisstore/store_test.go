package redisstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// fakeClient keeps keys and sets in memory.
type fakeClient struct {
	mu       sync.Mutex
	values   map[string][]byte
	sets     map[string]map[string]bool
	applies  int
	applyErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]bool),
	}
}

func (f *fakeClient) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeClient) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = f.values[k]
	}
	return out, nil
}

func (f *fakeClient) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeClient) Apply(_ context.Context, writes []Write) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applies++
	for _, w := range writes {
		if w.Value == nil {
			delete(f.values, w.Key)
			delete(f.sets[w.Index], w.ID)
			continue
		}
		f.values[w.Key] = w.Value
		if f.sets[w.Index] == nil {
			f.sets[w.Index] = make(map[string]bool)
		}
		f.sets[w.Index][w.ID] = true
	}
	return nil
}

func TestStore_BulkWriteSingleTransaction(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "books")

	ops := []persistence.WriteOperation{
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Dune"}, Update: map[string]any{"views": 1}, Upsert: true},
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Dune"}, Update: map[string]any{"views": 2}, Upsert: true},
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Emma"}, Update: map[string]any{"views": 3}, Upsert: true},
	}

	result, err := s.BulkWrite(ctx, ops, false)
	require.NoError(t, err)
	assert.Equal(t, persistence.BulkResult{Matched: 1, Modified: 1, Upserted: 2}, result)
	assert.Equal(t, 1, client.applies)
	assert.Len(t, client.sets["books:ids"], 2)

	docs, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	byTitle := map[any]persistence.Record{}
	for _, d := range docs {
		byTitle[d["title"]] = d
	}
	assert.Equal(t, float64(2), byTitle["Dune"]["views"])
	assert.Equal(t, float64(3), byTitle["Emma"]["views"])
}

func TestStore_InsertManyAndDeleteByQuery(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "books")

	result, err := s.InsertMany(ctx, []persistence.Record{
		{persistence.IDField: "d", "shelf": 1},
		{persistence.IDField: "e", "shelf": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Inserted)
	assert.Contains(t, client.values, "books:doc:d")

	_, err = s.InsertMany(ctx, []persistence.Record{{persistence.IDField: "e"}})
	assert.ErrorIs(t, err, document.ErrDuplicateID)

	deleted, err := s.DeleteByQuery(ctx, map[string]any{"shelf": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.NotContains(t, client.values, "books:doc:d")
	assert.Equal(t, map[string]bool{"e": true}, client.sets["books:ids"])
}

func TestStore_TransactionFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.applyErr = errors.New("connection refused")
	s := New(client, "books")

	_, err := s.InsertMany(ctx, []persistence.Record{{"title": "Dune"}})
	assert.ErrorIs(t, err, client.applyErr)
	assert.Empty(t, client.values)
}

// TestStore_Live runs against a real server. Set DOCSINK_REDIS_ADDR to enable it.
func TestStore_Live(t *testing.T) {
	addr := os.Getenv("DOCSINK_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := NewGoRedisClient(addr, "", 0)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Skipf("Skipping: Redis not reachable on %s: %v", addr, err)
	}

	s := New(client, "docsink-live-test")
	_, err := s.DeleteByQuery(ctx, map[string]any{})
	require.NoError(t, err)

	_, err = s.BulkWrite(ctx, []persistence.WriteOperation{
		{Kind: persistence.OpUpdateOne, Filter: map[string]any{"title": "Dune"}, Update: map[string]any{"views": 1}, Upsert: true},
	}, false)
	require.NoError(t, err)

	docs, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Dune", docs[0]["title"])

	deleted, err := s.DeleteByQuery(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
