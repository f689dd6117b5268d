// Package jsonlines stores a collection as a file of JSON documents, one per
// line, optionally zstd-compressed.
//
// Inserts append to the file. Updates and deletes rewrite it through a
// temporary file that replaces the original on success.
package jsonlines

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"docsink/internal/persistence"
	"docsink/internal/store/document"
)

// indexPlaceholder in a filename template is replaced by the first index
// that does not name an existing file.
const indexPlaceholder = "{n}"

// Options configures a Store.
type Options struct {
	// Dir holds the file. It is created when missing.
	Dir string
	// Filename is the file name or a template containing {n}.
	// Defaults to "<collection>.jl".
	Filename string
	// Compress writes zstd frames and appends ".zst" to the file name.
	Compress bool
}

// Store is a persistence.StoreAdapter writing JSON lines.
type Store struct {
	mu         sync.Mutex
	collection string
	path       string
	compress   bool
}

// Open resolves the file path for collection and prepares its directory.
func Open(collection string, opts Options) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", opts.Dir, err)
	}

	name := opts.Filename
	if name == "" {
		name = collection + ".jl"
	}
	if opts.Compress && !strings.HasSuffix(name, ".zst") {
		name += ".zst"
	}

	path, err := resolvePath(opts.Dir, name)
	if err != nil {
		return nil, err
	}
	return &Store{collection: collection, path: path, compress: opts.Compress}, nil
}

// resolvePath substitutes the first free index for {n}.
func resolvePath(dir, name string) (string, error) {
	if !strings.Contains(name, indexPlaceholder) {
		return filepath.Join(dir, name), nil
	}
	for n := 0; ; n++ {
		candidate := filepath.Join(dir, strings.ReplaceAll(name, indexPlaceholder, strconv.Itoa(n)))
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
	}
}

// Path returns the file the store writes.
func (s *Store) Path() string {
	return s.path
}

// CollectionName returns the collection name.
func (s *Store) CollectionName() string {
	return s.collection
}

// InsertMany appends docs to the file.
func (s *Store) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.InsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prepared := make([]persistence.Record, 0, len(docs))
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		doc, err := persistence.NewDocument(d)
		if err != nil {
			return persistence.InsertResult{}, err
		}
		prepared = append(prepared, doc)
		ids = append(ids, doc[persistence.IDField])
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return persistence.InsertResult{}, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	if err := s.encode(f, prepared); err != nil {
		_ = f.Close()
		return persistence.InsertResult{}, err
	}
	if err := f.Close(); err != nil {
		return persistence.InsertResult{}, fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return persistence.InsertResult{Inserted: int64(len(ids)), IDs: ids}, nil
}

// BulkWrite loads the file, applies ops and rewrites it.
func (s *Store) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return persistence.BulkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readAll()
	if err != nil {
		return persistence.BulkResult{}, err
	}
	view := &sliceView{docs: docs}
	result, bulkErr := document.ApplyBulk(view, ops, ordered)
	if err := s.rewrite(view.docs); err != nil {
		return persistence.BulkResult{}, err
	}
	return result, bulkErr
}

// DeleteByQuery rewrites the file without the documents matching query.
func (s *Store) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readAll()
	if err != nil {
		return 0, err
	}
	kept := docs[:0]
	for _, d := range docs {
		if !document.Matches(d, query) {
			kept = append(kept, d)
		}
	}
	deleted := int64(len(docs) - len(kept))
	if deleted == 0 {
		return 0, nil
	}
	return deleted, s.rewrite(kept)
}

// Load calls fn for every stored document in file order until fn returns false.
func (s *Store) Load(ctx context.Context, fn func(persistence.Record) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	return s.decode(f, func(doc persistence.Record) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return fn(doc), nil
	})
}

func (s *Store) readAll() ([]persistence.Record, error) {
	var docs []persistence.Record
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	err = s.decode(f, func(doc persistence.Record) (bool, error) {
		docs = append(docs, doc)
		return true, nil
	})
	return docs, err
}

func (s *Store) rewrite(docs []persistence.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, docs); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// encode writes docs as JSON lines. Compressed output is one zstd frame per call.
func (s *Store) encode(w io.Writer, docs []persistence.Record) error {
	var zw *zstd.Encoder
	if s.compress {
		var err error
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = zw
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd frame: %w", err)
		}
	}
	return nil
}

func (s *Store) decode(r io.Reader, fn func(persistence.Record) (bool, error)) error {
	if s.compress {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var doc persistence.Record
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", s.path, err)
		}
		more, err := fn(doc)
		if err != nil || !more {
			return err
		}
	}
}

// sliceView applies a bulk write to documents held in memory.
type sliceView struct {
	docs []persistence.Record
}

func (v *sliceView) Find(filter map[string]any, limit int) ([]persistence.Record, error) {
	var out []persistence.Record
	for _, d := range v.docs {
		if document.Matches(d, filter) {
			out = append(out, d)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (v *sliceView) Put(doc persistence.Record) error {
	key := document.Key(doc[persistence.IDField])
	for i, d := range v.docs {
		if document.Key(d[persistence.IDField]) == key {
			v.docs[i] = doc
			return nil
		}
	}
	v.docs = append(v.docs, doc)
	return nil
}
