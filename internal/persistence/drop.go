package persistence

import (
	"context"

	"go.uber.org/zap"

	errs "docsink/internal/errors"
)

// Query removes documents on behalf of DropModelData and returns how many it removed.
type Query func(ctx context.Context, p *Persistence) (int64, error)

// RawQuery deletes every document matching filter through the store adapter.
func RawQuery(filter map[string]any) Query {
	return func(ctx context.Context, p *Persistence) (int64, error) {
		return p.store.DeleteByQuery(ctx, filter)
	}
}

// DropModelData deletes documents from the collection. A nil query runs the
// configured clear-model query. Queued records are not touched.
func (p *Persistence) DropModelData(ctx context.Context, query Query) (int64, error) {
	if query == nil {
		query = p.clearModel
	}

	deleted, err := query(ctx, p)
	if err != nil {
		p.logger.Error("Failed to drop model data", zap.Error(err))
		return 0, errs.Wrap(err, "drop model data")
	}

	p.logger.Info("Dropped model data", zap.Int64("deleted", deleted))
	return deleted, nil
}
