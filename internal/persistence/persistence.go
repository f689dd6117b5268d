package persistence

import (
	"context"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	errs "docsink/internal/errors"
)

const tracerName = "docsink/internal/persistence"

// Persistence queues records and writes them to a store in batches.
//
// Persist, Flush and Finalize are serialized by one mutex, so several
// goroutines may feed the same instance. A flush runs inline on whichever
// call crosses the threshold.
type Persistence struct {
	mu sync.Mutex

	store   StoreAdapter
	builder *OperationBuilder
	queue   *RecordQueue
	counter *Counter

	config      BatchConfig
	normalize   NormalizeFunc
	newDocument DocumentFactory
	clearModel  Query

	logger  *zap.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// New creates a Persistence writing through store.
// A nil logger or metrics sink disables that output.
func New(store StoreAdapter, cfg Config, logger *zap.Logger, metrics Metrics) (*Persistence, error) {
	if store == nil {
		return nil, errs.NewValidation("store adapter is required")
	}
	if err := cfg.Batch.Validate(); err != nil {
		return nil, err
	}
	if cfg.Batch.Update && cfg.Query == nil {
		return nil, errs.NewValidation("a query is required in update mode")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.NewDocument == nil {
		cfg.NewDocument = NewDocument
	}
	if cfg.ClearModel == nil {
		cfg.ClearModel = RawQuery(map[string]any{})
	}

	return &Persistence{
		store:       store,
		builder:     NewOperationBuilder(cfg.Query, cfg.Processor, cfg.Batch.Multiple, cfg.Batch.Upsert),
		queue:       NewRecordQueue(cfg.Batch.DrainOrder),
		counter:     &Counter{},
		config:      cfg.Batch,
		normalize:   cfg.Normalize,
		newDocument: cfg.NewDocument,
		clearModel:  cfg.ClearModel,
		logger:      logger.With(zap.String("collection", store.CollectionName())),
		metrics:     metrics,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Persist counts and queues one record, then flushes if the queue reached
// the threshold. It reports whether a flush happened.
//
// In update mode a record that cannot produce a filter is rejected here and
// never queued.
func (p *Persistence) Persist(ctx context.Context, r Record, opts ...CallOption) (bool, error) {
	o := resolveCallOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.counter.Increment()
	p.metrics.RecordPersisted(p.store.CollectionName())
	if o.printNum {
		p.logger.Info("Processing record", zap.Int64("count", total))
	}

	if p.normalize != nil {
		normalized, err := p.normalize(r)
		if err != nil {
			return false, &errs.AppError{Type: errs.ErrorTypeInvalidRecord, Message: "normalize record", Err: err}
		}
		r = normalized
	}

	if pick(o.update, p.config.Update) {
		if _, err := p.builder.Filter(r); err != nil {
			p.logger.Warn("Rejected record without a usable filter",
				zap.Int64("count", total),
				zap.Error(err),
			)
			return false, err
		}
	}

	p.queue.Push(r)
	p.metrics.SetQueueDepth(p.store.CollectionName(), p.queue.Size())

	return p.flushLocked(ctx, o)
}

// Flush writes the queued records if the queue reached the threshold,
// which defaults to the configured batch size. It reports whether a write happened.
func (p *Persistence) Flush(ctx context.Context, opts ...CallOption) (bool, error) {
	o := resolveCallOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flushLocked(ctx, o)
}

// Finalize writes every remaining record regardless of batch size.
// Call it once after the last Persist.
func (p *Persistence) Finalize(ctx context.Context) error {
	_, err := p.Flush(ctx, WithMinBatchSize(1))
	return err
}

// CollectionName returns the name of the store's collection.
func (p *Persistence) CollectionName() string {
	return p.store.CollectionName()
}

// Count returns how many records Persist has received.
func (p *Persistence) Count() int64 {
	return p.counter.Value()
}

// QueueSize returns how many records wait for the next flush.
func (p *Persistence) QueueSize() int {
	return p.queue.Size()
}

// Store returns the underlying store adapter.
func (p *Persistence) Store() StoreAdapter {
	return p.store
}

// BatchConfig returns the configured batch settings.
func (p *Persistence) BatchConfig() BatchConfig {
	return p.config
}

// threshold resolves the queue length that triggers a flush.
func (p *Persistence) threshold(o callOptions) int {
	size := p.config.BatchSize
	if o.minBatchSize != nil {
		size = *o.minBatchSize
	}
	if size <= 0 {
		return math.MaxInt
	}
	return size
}
