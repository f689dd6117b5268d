// Package mocks provides testify mocks for the persistence interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docsink/internal/persistence"
)

// MockStore is a mock StoreAdapter. CollectionName answers from the
// Collection field without recording a call.
type MockStore struct {
	mock.Mock
	Collection string
}

// NewMockStore creates a mock store for the named collection.
func NewMockStore(collection string) *MockStore {
	return &MockStore{Collection: collection}
}

func (m *MockStore) BulkWrite(ctx context.Context, ops []persistence.WriteOperation, ordered bool) (persistence.BulkResult, error) {
	args := m.Called(ctx, ops, ordered)
	return args.Get(0).(persistence.BulkResult), args.Error(1)
}

func (m *MockStore) InsertMany(ctx context.Context, docs []persistence.Record) (persistence.InsertResult, error) {
	args := m.Called(ctx, docs)
	return args.Get(0).(persistence.InsertResult), args.Error(1)
}

func (m *MockStore) CollectionName() string {
	return m.Collection
}

func (m *MockStore) DeleteByQuery(ctx context.Context, query map[string]any) (int64, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(int64), args.Error(1)
}

// BulkWriteBatches returns the operations of every recorded BulkWrite call in call order.
func (m *MockStore) BulkWriteBatches() [][]persistence.WriteOperation {
	var out [][]persistence.WriteOperation
	for _, c := range m.Calls {
		if c.Method == "BulkWrite" {
			out = append(out, c.Arguments.Get(1).([]persistence.WriteOperation))
		}
	}
	return out
}

// InsertBatches returns the documents of every recorded InsertMany call in call order.
func (m *MockStore) InsertBatches() [][]persistence.Record {
	var out [][]persistence.Record
	for _, c := range m.Calls {
		if c.Method == "InsertMany" {
			out = append(out, c.Arguments.Get(1).([]persistence.Record))
		}
	}
	return out
}
