package persistence

import (
	"time"

	errs "docsink/internal/errors"
)

// BatchConfig holds the batching and retry settings of a Persistence.
type BatchConfig struct {
	// BatchSize is the queue length that triggers a flush. Zero or negative
	// disables automatic flushing; only Finalize writes.
	BatchSize int
	// Multiple selects UpdateMany instead of UpdateOne operations.
	Multiple bool
	// Upsert inserts a document when no document matches the filter.
	Upsert bool
	// Update selects update mode. When false records are inserted as new documents.
	Update bool
	// NRetry is the number of extra attempts after a failed write.
	NRetry int
	// BackoffTime is the fixed pause between attempts.
	BackoffTime time.Duration
	// Ordered makes bulk writes stop at the first failing operation.
	Ordered bool
	// DrainOrder is the order records leave the queue.
	DrainOrder DrainOrder
}

// DefaultBatchConfig returns the settings used when none are configured.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:   500,
		Multiple:    false,
		Upsert:      true,
		Update:      true,
		NRetry:      3,
		BackoffTime: time.Second,
		Ordered:     false,
		DrainOrder:  DrainFIFO,
	}
}

// Validate checks the settings for values the flusher cannot honor.
func (c BatchConfig) Validate() error {
	if c.NRetry < 0 {
		return errs.NewValidation("n_retry must not be negative")
	}
	if c.BackoffTime < 0 {
		return errs.NewValidation("backoff_time must not be negative")
	}
	if _, err := ParseDrainOrder(string(c.DrainOrder)); err != nil {
		return errs.NewValidation(err.Error())
	}
	return nil
}

// Config assembles everything a Persistence needs besides its store.
type Config struct {
	Batch BatchConfig

	// Query derives update filters. Required in update mode.
	Query QueryFunc
	// Processor derives field assignments. Defaults to SetFields.
	Processor ProcessorFunc
	// Normalize rewrites records before they are queued. Optional.
	Normalize NormalizeFunc
	// NewDocument builds inserted documents in insert mode. Defaults to NewDocument.
	NewDocument DocumentFactory
	// ClearModel is the query DropModelData runs when given none.
	// Defaults to deleting every document in the collection.
	ClearModel Query
}

// callOptions are per-call overrides of the batch configuration.
type callOptions struct {
	minBatchSize *int
	update       *bool
	multiple     *bool
	upsert       *bool
	ordered      *bool
	printNum     bool
}

// CallOption overrides a batch setting for one Persist or Flush call.
type CallOption func(*callOptions)

// WithMinBatchSize replaces the flush threshold for this call.
// Zero or negative means the queue never reaches it.
func WithMinBatchSize(n int) CallOption {
	return func(o *callOptions) { o.minBatchSize = &n }
}

// WithUpdateMode selects update (true) or insert (false) mode for this call.
func WithUpdateMode(update bool) CallOption {
	return func(o *callOptions) { o.update = &update }
}

// WithMultiple selects UpdateMany (true) or UpdateOne (false) for this call.
func WithMultiple(multiple bool) CallOption {
	return func(o *callOptions) { o.multiple = &multiple }
}

// WithUpsert overrides upsert behavior for this call.
func WithUpsert(upsert bool) CallOption {
	return func(o *callOptions) { o.upsert = &upsert }
}

// WithOrdered overrides bulk ordering for this call.
func WithOrdered(ordered bool) CallOption {
	return func(o *callOptions) { o.ordered = &ordered }
}

// WithPrintNum logs the running record count on each Persist.
func WithPrintNum(print bool) CallOption {
	return func(o *callOptions) { o.printNum = print }
}

func resolveCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func pick(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
