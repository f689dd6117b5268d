package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "docsink/internal/errors"
)

func TestQueryFields(t *testing.T) {
	query := QueryFields("title", "year")

	tests := []struct {
		name     string
		record   Record
		expected map[string]any
		invalid  bool
	}{
		{
			name:     "all fields present",
			record:   Record{"title": "Dune", "year": 1965, "views": 3},
			expected: map[string]any{"title": "Dune", "year": 1965},
		},
		{
			name:    "missing field",
			record:  Record{"title": "Dune"},
			invalid: true,
		},
		{
			name:    "nil value",
			record:  Record{"title": "Dune", "year": nil},
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := query(tt.record)
			if tt.invalid {
				assert.True(t, errs.IsInvalidRecord(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, filter)
		})
	}
}

func TestOperationBuilder_Build(t *testing.T) {
	r := Record{"title": "Dune", "views": 3}

	t.Run("update one with upsert", func(t *testing.T) {
		b := NewOperationBuilder(QueryFields("title"), nil, false, true)

		op, err := b.Build(r)
		require.NoError(t, err)
		assert.Equal(t, OpUpdateOne, op.Kind)
		assert.Equal(t, map[string]any{"title": "Dune"}, op.Filter)
		assert.Equal(t, map[string]any{"title": "Dune", "views": 3}, op.Update)
		assert.True(t, op.Upsert)
	})

	t.Run("update many", func(t *testing.T) {
		b := NewOperationBuilder(QueryFields("title"), nil, true, false)

		op, err := b.Build(r)
		require.NoError(t, err)
		assert.Equal(t, OpUpdateMany, op.Kind)
		assert.False(t, op.Upsert)
	})

	t.Run("custom processor", func(t *testing.T) {
		processor := func(r Record) map[string]any {
			return map[string]any{"views": r["views"]}
		}
		b := NewOperationBuilder(QueryFields("title"), processor, false, true)

		op, err := b.Build(r)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"views": 3}, op.Update)
	})

	t.Run("update does not alias the record", func(t *testing.T) {
		b := NewOperationBuilder(QueryFields("title"), nil, false, true)
		src := r.Clone()

		op, err := b.Build(src)
		require.NoError(t, err)
		src["views"] = 99
		assert.Equal(t, 3, op.Update["views"])
	})

	t.Run("empty filter rejected for a single document", func(t *testing.T) {
		all := func(Record) (map[string]any, error) { return map[string]any{}, nil }
		b := NewOperationBuilder(all, nil, false, true)

		_, err := b.Build(r)
		assert.True(t, errs.IsInvalidRecord(err))

		op, err := b.BuildWith(r, true, true)
		require.NoError(t, err)
		assert.Equal(t, OpUpdateMany, op.Kind)
	})

	t.Run("query error becomes invalid record", func(t *testing.T) {
		cause := errors.New("bad key")
		failing := func(Record) (map[string]any, error) { return nil, cause }
		b := NewOperationBuilder(failing, nil, false, true)

		_, err := b.Build(r)
		assert.True(t, errs.IsInvalidRecord(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("missing query", func(t *testing.T) {
		b := NewOperationBuilder(nil, nil, false, true)

		_, err := b.Filter(r)
		assert.True(t, errs.IsInvalidRecord(err))
	})
}

func TestNewDocument(t *testing.T) {
	doc, err := NewDocument(Record{"title": "Dune"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc[IDField])
	assert.Equal(t, "Dune", doc["title"])

	doc, err = NewDocument(Record{IDField: "fixed", "title": "Dune"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", doc[IDField])

	src := Record{"title": "Dune"}
	_, err = NewDocument(src)
	require.NoError(t, err)
	assert.NotContains(t, src, IDField)
}

func TestBulkWriteError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := &BulkWriteError{Failures: []OperationFailure{{Index: 2, Err: cause}}}

	assert.Equal(t, "bulk write: operation 2 failed: duplicate key", err.Error())
	assert.ErrorIs(t, err, cause)

	err.Failures = append(err.Failures, OperationFailure{Index: 5, Err: errors.New("too large")})
	assert.Equal(t, "bulk write: 2 operations failed: #2: duplicate key; #5: too large", err.Error())
}
