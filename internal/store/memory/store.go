// Package memory provides an in-process document store. It backs tests and
// dry runs of the persistence engine.
package memory

import (
	"context"
	"sync"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// Store keeps documents of one collection in memory, in insertion order.
type Store struct {
	mu         sync.RWMutex
	collection string
	docs       map[string]persistence.Record
	order      []string
}

// NewStore creates an empty store for the named collection.
func NewStore(collection string) *Store {
	return &Store{
		collection: collection,
		docs:       make(map[string]persistence.Record),
	}
}

// CollectionName returns the collection name.
func (s *Store) CollectionName() string {
	return s.collection
}

// BulkWrite applies ops while holding the store lock.
func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.BulkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return document.ApplyBulk(lockedView{s}, ops, ordered)
}

// InsertMany inserts docs, assigning identities where missing.
func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.InsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view := lockedView{s}
	var ids []any
	for _, d := range docs {
		doc, err := persistence.NewDocument(d)
		if err != nil {
			return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, err
		}
		id := doc[persistence.IDField]
		if _, exists := s.docs[document.Key(id)]; exists {
			return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, &persistence.BulkWriteError{
				Failures: []persistence.OperationFailure{{Index: len(ids), Err: document.ErrDuplicateID}},
			}
		}
		_ = view.Put(doc)
		ids = append(ids, id)
	}
	return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, nil
}

// DeleteByQuery removes every document matching query.
func (s *Store) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.order[:0]
	for _, key := range s.order {
		if document.Matches(s.docs[key], query) {
			delete(s.docs, key)
			deleted++
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept
	return deleted, nil
}

// Find returns copies of the documents matching filter.
func (s *Store) Find(filter map[string]any) []persistence.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, _ := lockedView{s}.Find(filter, 0)
	out := make([]persistence.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Clone())
	}
	return out
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// lockedView adapts the store to document.Collection. The caller holds s.mu.
type lockedView struct {
	s *Store
}

func (v lockedView) Find(filter map[string]any, limit int) ([]persistence.Record, error) {
	if id, ok := filter[persistence.IDField]; ok && len(filter) == 1 {
		if doc, exists := v.s.docs[document.Key(id)]; exists && document.Equal(doc[persistence.IDField], id) {
			return []persistence.Record{doc}, nil
		}
		return nil, nil
	}

	var out []persistence.Record
	for _, key := range v.s.order {
		doc := v.s.docs[key]
		if document.Matches(doc, filter) {
			out = append(out, doc)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (v lockedView) Put(doc persistence.Record) error {
	key := document.Key(doc[persistence.IDField])
	if _, exists := v.s.docs[key]; !exists {
		v.s.order = append(v.s.order, key)
	}
	v.s.docs[key] = doc
	return nil
}
