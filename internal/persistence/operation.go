package persistence

import (
	"fmt"

	errs "docsink/internal/errors"
)

// OperationKind identifies the variant of a WriteOperation.
type OperationKind string

const (
	OpUpdateOne  OperationKind = "update_one"
	OpUpdateMany OperationKind = "update_many"
	OpInsert     OperationKind = "insert"
)

// WriteOperation is a single store write inside a bulk request.
//
// Update operations carry a Filter selecting target documents and an Update
// holding field assignments. Insert operations carry a full Document.
type WriteOperation struct {
	Kind     OperationKind
	Filter   map[string]any
	Update   map[string]any
	Document Record
	Upsert   bool
}

// InsertOperation wraps a complete document as an insert.
func InsertOperation(doc Record) WriteOperation {
	return WriteOperation{Kind: OpInsert, Document: doc}
}

// QueryFunc derives the filter addressing the document a record belongs to.
type QueryFunc func(r Record) (map[string]any, error)

// ProcessorFunc turns a record into the field assignments applied to matched documents.
type ProcessorFunc func(r Record) map[string]any

// QueryFields returns a QueryFunc that filters on the given record fields.
// A record missing any of them is rejected with an invalid record error.
func QueryFields(fields ...string) QueryFunc {
	keys := append([]string(nil), fields...)
	return func(r Record) (map[string]any, error) {
		if len(keys) == 0 {
			return nil, errs.NewInvalidRecord("no query fields configured")
		}
		filter := make(map[string]any, len(keys))
		for _, k := range keys {
			v, ok := r[k]
			if !ok || v == nil {
				return nil, errs.NewInvalidRecord(fmt.Sprintf("record has no value for query field %q", k))
			}
			filter[k] = v
		}
		return filter, nil
	}
}

// SetFields assigns every field of the record. It is the default processor.
func SetFields(r Record) map[string]any {
	return map[string]any(r.Clone())
}

// OperationBuilder converts queued records into update operations.
type OperationBuilder struct {
	query     QueryFunc
	processor ProcessorFunc
	multiple  bool
	upsert    bool
}

// NewOperationBuilder creates a builder. A nil processor selects SetFields.
func NewOperationBuilder(query QueryFunc, processor ProcessorFunc, multiple, upsert bool) *OperationBuilder {
	if processor == nil {
		processor = SetFields
	}
	return &OperationBuilder{
		query:     query,
		processor: processor,
		multiple:  multiple,
		upsert:    upsert,
	}
}

// Filter applies the query function alone. Persist uses it to reject records early.
func (b *OperationBuilder) Filter(r Record) (map[string]any, error) {
	if b.query == nil {
		return nil, errs.NewInvalidRecord("no query function configured")
	}
	filter, err := b.query(r)
	if err != nil {
		if errs.IsInvalidRecord(err) {
			return nil, err
		}
		return nil, &errs.AppError{Type: errs.ErrorTypeInvalidRecord, Message: "derive filter", Err: err}
	}
	return filter, nil
}

// Build converts a record using the builder's multiple and upsert defaults.
func (b *OperationBuilder) Build(r Record) (WriteOperation, error) {
	return b.BuildWith(r, b.multiple, b.upsert)
}

// BuildWith converts a record into an UpdateMany (multiple) or UpdateOne operation.
func (b *OperationBuilder) BuildWith(r Record, multiple, upsert bool) (WriteOperation, error) {
	filter, err := b.Filter(r)
	if err != nil {
		return WriteOperation{}, err
	}
	if len(filter) == 0 && !multiple {
		return WriteOperation{}, errs.NewInvalidRecord("empty filter cannot address a single document")
	}

	kind := OpUpdateOne
	if multiple {
		kind = OpUpdateMany
	}
	return WriteOperation{
		Kind:   kind,
		Filter: filter,
		Update: b.processor(r),
		Upsert: upsert,
	}, nil
}
