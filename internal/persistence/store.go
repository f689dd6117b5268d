package persistence

import (
	"context"
	"fmt"
	"strings"
)

// StoreAdapter is the document store boundary the flusher writes through.
// Any store that can apply a list of write operations, insert many documents
// and delete by filter can sit behind it.
type StoreAdapter interface {
	// BulkWrite applies ops in one round trip. With ordered set, processing
	// stops at the first failing operation.
	BulkWrite(ctx context.Context, ops []WriteOperation, ordered bool) (BulkResult, error)
	// InsertMany inserts complete documents.
	InsertMany(ctx context.Context, docs []Record) (InsertResult, error)
	// CollectionName names the target collection, table or keyspace.
	CollectionName() string
	// DeleteByQuery removes every document matching query and returns the count.
	DeleteByQuery(ctx context.Context, query map[string]any) (int64, error)
}

// BulkResult summarizes a bulk write.
type BulkResult struct {
	Matched  int64
	Modified int64
	Upserted int64
	Inserted int64
}

// Add accumulates another result into r.
func (r *BulkResult) Add(o BulkResult) {
	r.Matched += o.Matched
	r.Modified += o.Modified
	r.Upserted += o.Upserted
	r.Inserted += o.Inserted
}

// InsertResult summarizes an insert of many documents.
type InsertResult struct {
	Inserted int64
	IDs      []any
}

// OperationFailure records why one operation of a bulk write failed.
type OperationFailure struct {
	Index int
	Err   error
}

// BulkWriteError reports the operations of a bulk write that did not apply.
// The accompanying BulkResult still counts the operations that did.
type BulkWriteError struct {
	Failures []OperationFailure
}

func (e *BulkWriteError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("bulk write: operation %d failed: %v", f.Index, f.Err)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("#%d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("bulk write: %d operations failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BulkWriteError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// RejectedRecordsError reports records a flush left out because no operation
// or document could be built from them. The rest of the batch was written.
type RejectedRecordsError struct {
	// Batch is the number of records drained for the flush.
	Batch    int
	Records  []Record
	Failures []OperationFailure
}

func (e *RejectedRecordsError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("#%d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("flush rejected %d of %d records: %s", len(e.Failures), e.Batch, strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *RejectedRecordsError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}
