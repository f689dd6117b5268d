package document

import (
	"errors"
	"fmt"

	"docsink/internal/persistence"
)

// ErrDuplicateID is returned when an insert reuses the identity of a stored document.
var ErrDuplicateID = errors.New("duplicate document id")

// Collection is the minimal view of a backend a bulk write needs.
// Implementations are used by one bulk call at a time.
type Collection interface {
	// Find returns documents matching filter. A positive limit caps the result.
	Find(filter map[string]any, limit int) ([]persistence.Record, error)
	// Put stores doc under its identity, replacing any previous version.
	Put(doc persistence.Record) error
}

// ApplyBulk executes ops against c. Failed operations are collected into a
// *persistence.BulkWriteError; with ordered set, execution stops at the first one.
func ApplyBulk(c Collection, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	var (
		result   persistence.BulkResult
		failures []persistence.OperationFailure
	)
	for i, op := range ops {
		r, err := applyOne(c, op)
		if err != nil {
			failures = append(failures, persistence.OperationFailure{Index: i, Err: err})
			if ordered {
				break
			}
			continue
		}
		result.Add(r)
	}
	if len(failures) > 0 {
		return result, &persistence.BulkWriteError{Failures: failures}
	}
	return result, nil
}

func applyOne(c Collection, op persistence.WriteOperation) (persistence.BulkResult, error) {
	switch op.Kind {
	case persistence.OpInsert:
		doc, err := persistence.NewDocument(op.Document)
		if err != nil {
			return persistence.BulkResult{}, err
		}
		existing, err := c.Find(map[string]any{persistence.IDField: doc[persistence.IDField]}, 1)
		if err != nil {
			return persistence.BulkResult{}, err
		}
		if len(existing) > 0 {
			return persistence.BulkResult{}, fmt.Errorf("%w: %v", ErrDuplicateID, doc[persistence.IDField])
		}
		if err := c.Put(doc); err != nil {
			return persistence.BulkResult{}, err
		}
		return persistence.BulkResult{Inserted: 1}, nil

	case persistence.OpUpdateOne, persistence.OpUpdateMany:
		limit := 0
		if op.Kind == persistence.OpUpdateOne {
			limit = 1
		}
		matches, err := c.Find(op.Filter, limit)
		if err != nil {
			return persistence.BulkResult{}, err
		}
		if len(matches) == 0 {
			if !op.Upsert {
				return persistence.BulkResult{}, nil
			}
			doc, err := Upserted(op.Filter, op.Update)
			if err != nil {
				return persistence.BulkResult{}, err
			}
			if err := c.Put(doc); err != nil {
				return persistence.BulkResult{}, err
			}
			return persistence.BulkResult{Upserted: 1}, nil
		}

		var r persistence.BulkResult
		for _, doc := range matches {
			r.Matched++
			updated, err := Apply(doc, op.Update)
			if err != nil {
				return r, err
			}
			if !Modified(doc, updated) {
				continue
			}
			if err := c.Put(updated); err != nil {
				return r, err
			}
			r.Modified++
		}
		return r, nil

	default:
		return persistence.BulkResult{}, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

// InsertOperations wraps documents as insert operations.
func InsertOperations(docs []persistence.Record) []persistence.WriteOperation {
	ops := make([]persistence.WriteOperation, 0, len(docs))
	for _, d := range docs {
		ops = append(ops, persistence.InsertOperation(d))
	}
	return ops
}
