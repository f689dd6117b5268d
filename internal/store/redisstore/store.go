// Package redisstore stores documents in Redis.
//
// A document is a JSON string at "<collection>:doc:<id>" and its id is a
// member of the set "<collection>:ids". The writes of one bulk call are sent
// in a single MULTI/EXEC transaction.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// Store is a persistence.StoreAdapter backed by Redis.
type Store struct {
	mu         sync.Mutex
	client     Client
	collection string
}

// New returns a store for collection using client.
func New(client Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

// CollectionName returns the collection name.
func (s *Store) CollectionName() string {
	return s.collection
}

// DocKey returns the key holding the document with the given id.
func (s *Store) DocKey(id string) string {
	return fmt.Sprintf("%s:doc:%s", s.collection, id)
}

// IndexKey returns the key of the set of document ids.
func (s *Store) IndexKey() string {
	return s.collection + ":ids"
}

// BulkWrite applies ops and commits the resulting writes in one transaction.
func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := newTxView(ctx, s)
	result, bulkErr := document.ApplyBulk(view, ops, ordered)
	if err := s.client.Apply(ctx, view.writes()); err != nil {
		return persistence.BulkResult{}, fmt.Errorf("redis transaction for %s: %w", s.collection, err)
	}
	return result, bulkErr
}

// InsertMany inserts docs in one transaction. A duplicate id aborts the call.
func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := newTxView(ctx, s)
	ids := make([]any, 0, len(docs))
	for i, d := range docs {
		doc, err := persistence.NewDocument(d)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		id := doc[persistence.IDField]
		existing, err := view.Find(map[string]any{persistence.IDField: id}, 1)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		if len(existing) > 0 {
			return persistence.InsertResult{}, &persistence.BulkWriteError{
				Failures: []persistence.OperationFailure{{Index: i, Err: fmt.Errorf("%w: %v", document.ErrDuplicateID, id)}},
			}
		}
		if err := view.Put(doc); err != nil {
			return persistence.InsertResult{}, err
		}
		ids = append(ids, id)
	}

	if err := s.client.Apply(ctx, view.writes()); err != nil {
		return persistence.InsertResult{}, fmt.Errorf("redis transaction for %s: %w", s.collection, err)
	}
	return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, nil
}

// DeleteByQuery removes every document matching query.
func (s *Store) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := newTxView(ctx, s)
	if err := view.load(); err != nil {
		return 0, err
	}

	var writes []Write
	for _, id := range view.order {
		if document.Matches(view.docs[id], query) {
			writes = append(writes, Write{Key: s.DocKey(id), Index: s.IndexKey(), ID: id})
		}
	}
	if err := s.client.Apply(ctx, writes); err != nil {
		return 0, fmt.Errorf("redis transaction for %s: %w", s.collection, err)
	}
	return int64(len(writes)), nil
}

// All returns every document of the collection ordered by id.
func (s *Store) All(ctx context.Context) ([]persistence.Record, error) {
	view := newTxView(ctx, s)
	if err := view.load(); err != nil {
		return nil, err
	}
	out := make([]persistence.Record, 0, len(view.order))
	for _, id := range view.order {
		out = append(out, view.docs[id])
	}
	return out, nil
}

// txView reads documents lazily and buffers writes until commit.
type txView struct {
	ctx    context.Context
	store  *Store
	loaded bool
	docs   map[string]persistence.Record
	order  []string
	dirty  map[string][]byte
	seq    []string
}

func newTxView(ctx context.Context, s *Store) *txView {
	return &txView{
		ctx:   ctx,
		store: s,
		docs:  make(map[string]persistence.Record),
		dirty: make(map[string][]byte),
	}
}

// load reads every document of the collection into the view.
func (v *txView) load() error {
	if v.loaded {
		return nil
	}
	ids, err := v.store.client.SMembers(v.ctx, v.store.IndexKey())
	if err != nil {
		return fmt.Errorf("read index of %s: %w", v.store.collection, err)
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = v.store.DocKey(id)
	}
	vals, err := v.store.client.MGet(v.ctx, keys...)
	if err != nil {
		return fmt.Errorf("read documents of %s: %w", v.store.collection, err)
	}

	for i, id := range ids {
		if _, ok := v.dirty[id]; ok {
			continue
		}
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		var doc persistence.Record
		if err := json.Unmarshal(vals[i], &doc); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
		v.track(id, doc)
	}
	v.loaded = true
	return nil
}

func (v *txView) track(id string, doc persistence.Record) {
	if _, ok := v.docs[id]; !ok {
		v.order = append(v.order, id)
	}
	v.docs[id] = doc
}

func (v *txView) Find(filter map[string]any, limit int) ([]persistence.Record, error) {
	if id, ok := filter[persistence.IDField]; ok && len(filter) == 1 {
		key := document.Key(id)
		if doc, ok := v.docs[key]; ok {
			return []persistence.Record{doc}, nil
		}
		if v.loaded {
			return nil, nil
		}
		raw, found, err := v.store.client.Get(v.ctx, v.store.DocKey(key))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		var doc persistence.Record
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", key, err)
		}
		v.track(key, doc)
		return []persistence.Record{doc}, nil
	}

	if err := v.load(); err != nil {
		return nil, err
	}
	var out []persistence.Record
	for _, id := range v.order {
		if document.Matches(v.docs[id], filter) {
			out = append(out, v.docs[id])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (v *txView) Put(doc persistence.Record) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	id := document.Key(doc[persistence.IDField])
	v.track(id, doc)
	if _, ok := v.dirty[id]; !ok {
		v.seq = append(v.seq, id)
	}
	v.dirty[id] = val
	return nil
}

// writes returns the final version of every document put through the view.
func (v *txView) writes() []Write {
	out := make([]Write, 0, len(v.seq))
	for _, id := range v.seq {
		out = append(out, Write{
			Key:   v.store.DocKey(id),
			Index: v.store.IndexKey(),
			ID:    id,
			Value: v.dirty[id],
		})
	}
	return out
}
