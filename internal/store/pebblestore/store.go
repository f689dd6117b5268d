// Package pebblestore stores documents in an embedded Pebble database.
//
// Each document lives under the key "<collection>/<id>" as a JSON value.
// A bulk call is applied to one indexed batch and committed atomically.
package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// Store is a persistence.StoreAdapter backed by Pebble.
type Store struct {
	mu         sync.Mutex
	db         *pebble.DB
	collection string
	ownsDB     bool
}

// Options configures Open.
type Options struct {
	// FS overrides the filesystem. Tests pass vfs.NewMem().
	FS vfs.FS
}

// Open opens (or creates) the database in dir and returns a store for collection.
// Close releases the database.
func Open(dir, collection string, opts Options) (*Store, error) {
	o := &pebble.Options{}
	if opts.FS != nil {
		o.FS = opts.FS
	}
	db, err := pebble.Open(dir, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database at %s: %w", dir, err)
	}
	s := New(db, collection)
	s.ownsDB = true
	return s, nil
}

// New returns a store for collection on an already opened database.
func New(db *pebble.DB, collection string) *Store {
	return &Store{db: db, collection: collection}
}

// CollectionName returns the collection name.
func (s *Store) CollectionName() string {
	return s.collection
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// BulkWrite applies ops in one batch. Operations that fail are left out of
// the batch; the rest commit together.
func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.BulkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	result, bulkErr := document.ApplyBulk(&batchView{store: s, batch: b}, ops, ordered)
	if err := b.Commit(pebble.Sync); err != nil {
		return persistence.BulkResult{}, fmt.Errorf("failed to commit batch to %s: %w", s.collection, err)
	}
	return result, bulkErr
}

// InsertMany inserts docs in one batch.
func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.InsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	view := &batchView{store: s, batch: b}
	ids := make([]any, 0, len(docs))
	for i, d := range docs {
		doc, err := persistence.NewDocument(d)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		id := doc[persistence.IDField]
		exists, err := view.exists(id)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		if exists {
			return persistence.InsertResult{}, &persistence.BulkWriteError{
				Failures: []persistence.OperationFailure{{Index: i, Err: fmt.Errorf("%w: %v", document.ErrDuplicateID, id)}},
			}
		}
		if err := view.Put(doc); err != nil {
			return persistence.InsertResult{}, err
		}
		ids = append(ids, id)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return persistence.InsertResult{}, fmt.Errorf("failed to commit batch to %s: %w", s.collection, err)
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

	var keys [][]byte
	err := s.scan(s.db, func(key []byte, doc persistence.Record) (bool, error) {
		if document.Matches(doc, query) {
			keys = append(keys, append([]byte(nil), key...))
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, key := range keys {
		if err := b.Delete(key, nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit deletes to %s: %w", s.collection, err)
	}
	return int64(len(keys)), nil
}

// Get returns the document stored under id.
func (s *Store) Get(id any) (persistence.Record, bool, error) {
	val, closer, err := s.db.Get(s.key(id))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	var doc persistence.Record
	if err := json.Unmarshal(val, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to decode document %v: %w", id, err)
	}
	return doc, true, nil
}

// All returns every document of the collection in key order.
func (s *Store) All() ([]persistence.Record, error) {
	var out []persistence.Record
	err := s.scan(s.db, func(_ []byte, doc persistence.Record) (bool, error) {
		out = append(out, doc)
		return true, nil
	})
	return out, err
}

func (s *Store) prefix() []byte {
	return []byte(s.collection + "/")
}

func (s *Store) key(id any) []byte {
	return append(s.prefix(), document.Key(id)...)
}

// upperBound is the first key past the collection prefix.
func (s *Store) upperBound() []byte {
	p := s.prefix()
	p[len(p)-1]++
	return p
}

type iterable interface {
	NewIter(o *pebble.IterOptions) *pebble.Iterator
}

// scan visits each document of the collection until fn returns false.
func (s *Store) scan(r iterable, fn func(key []byte, doc persistence.Record) (bool, error)) error {
	iter := r.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix(),
		UpperBound: s.upperBound(),
	})
	for iter.First(); iter.Valid(); iter.Next() {
		var doc persistence.Record
		if err := json.Unmarshal(iter.Value(), &doc); err != nil {
			_ = iter.Close()
			return fmt.Errorf("failed to decode document at %s: %w", iter.Key(), err)
		}
		more, err := fn(iter.Key(), doc)
		if err != nil {
			_ = iter.Close()
			return err
		}
		if !more {
			break
		}
	}
	return iter.Close()
}

// batchView reads through and writes into an indexed batch.
type batchView struct {
	store *Store
	batch *pebble.Batch
}

func (v *batchView) Find(filter map[string]any, limit int) ([]persistence.Record, error) {
	if id, ok := filter[persistence.IDField]; ok && len(filter) == 1 {
		val, closer, err := v.batch.Get(v.store.key(id))
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer closer.Close()
		var doc persistence.Record
		if err := json.Unmarshal(val, &doc); err != nil {
			return nil, err
		}
		return []persistence.Record{doc}, nil
	}

	var out []persistence.Record
	err := v.store.scan(v.batch, func(_ []byte, doc persistence.Record) (bool, error) {
		if document.Matches(doc, filter) {
			out = append(out, doc)
		}
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

func (v *batchView) Put(doc persistence.Record) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return v.batch.Set(v.store.key(doc[persistence.IDField]), val, nil)
}

func (v *batchView) exists(id any) (bool, error) {
	_, closer, err := v.batch.Get(v.store.key(id))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}
