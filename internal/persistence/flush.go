package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	errs "docsink/internal/errors"
)

const (
	modeUpdate = "update"
	modeInsert = "insert"
)

// attemptKind is the outcome class of one write attempt.
type attemptKind int

const (
	attemptSucceeded attemptKind = iota
	attemptRetryable
	attemptFatal
)

func (k attemptKind) String() string {
	switch k {
	case attemptSucceeded:
		return "succeeded"
	case attemptRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// attemptResult is what the retry loop inspects after each store call.
type attemptResult struct {
	kind attemptKind
	err  error
}

// classifyAttempt maps a store call error onto the retry decision.
// Every store failure is retried except invalid input and cancellation.
func classifyAttempt(err error) attemptResult {
	switch {
	case err == nil:
		return attemptResult{kind: attemptSucceeded}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return attemptResult{kind: attemptFatal, err: err}
	case errs.IsInvalidRecord(err), errs.IsValidation(err):
		return attemptResult{kind: attemptFatal, err: err}
	default:
		return attemptResult{kind: attemptRetryable, err: err}
	}
}

// writeFunc performs one store call for a prepared batch.
type writeFunc func(ctx context.Context) error

// flushLocked drains the queue and writes it when the threshold is met.
// The caller holds p.mu.
func (p *Persistence) flushLocked(ctx context.Context, o callOptions) (bool, error) {
	pending := p.queue.Size()
	if pending == 0 || pending < p.threshold(o) {
		return false, nil
	}

	collection := p.store.CollectionName()
	update := pick(o.update, p.config.Update)
	mode := modeInsert
	if update {
		mode = modeUpdate
	}

	records := p.queue.DrainAll()
	p.metrics.SetQueueDepth(collection, 0)

	ctx, span := p.tracer.Start(ctx, "persistence.flush", trace.WithAttributes(
		attribute.String("docsink.collection", collection),
		attribute.String("docsink.mode", mode),
		attribute.Int("docsink.batch_size", len(records)),
	))
	defer span.End()

	write, rejected := p.prepareWrite(records, update, o)
	if rejected != nil {
		p.logger.Error("Rejected records that could not be converted",
			zap.String("mode", mode),
			zap.Int("records", len(records)),
			zap.Int("rejected", len(rejected.Failures)),
			zap.Error(rejected),
		)
		p.metrics.RecordFlushFailure(collection, "invalid_record")
		span.RecordError(rejected)
		span.SetAttributes(attribute.Int("docsink.rejected", len(rejected.Failures)))
	}
	if write == nil {
		span.SetStatus(codes.Error, "prepare batch")
		return false, rejected
	}

	written := len(records)
	if rejected != nil {
		written -= len(rejected.Failures)
	}

	start := time.Now()
	attempts, err := p.writeWithRetry(ctx, span, written, write)
	if err != nil {
		p.metrics.RecordFlushFailure(collection, "store")
		span.RecordError(err)
		span.SetStatus(codes.Error, "write batch")
		return false, err
	}

	elapsed := time.Since(start)
	p.metrics.RecordFlush(collection, mode, written, elapsed)
	span.SetAttributes(attribute.Int("docsink.attempts", attempts))
	p.logger.Info("Flushed records",
		zap.String("mode", mode),
		zap.Int("records", written),
		zap.Int64("total", p.counter.Value()),
		zap.Int("attempts", attempts),
		zap.Duration("duration", elapsed),
	)
	if rejected != nil {
		span.SetStatus(codes.Error, "rejected records")
		return true, rejected
	}
	return true, nil
}

// prepareWrite converts drained records into a single reusable store call.
// Operations are built once so every retry resends the same batch. Records
// that cannot be converted are left out and reported; write is nil when
// none remain.
func (p *Persistence) prepareWrite(records []Record, update bool, o callOptions) (writeFunc, *RejectedRecordsError) {
	var rejected *RejectedRecordsError
	reject := func(i int, err error) {
		if rejected == nil {
			rejected = &RejectedRecordsError{Batch: len(records)}
		}
		rejected.Records = append(rejected.Records, records[i])
		rejected.Failures = append(rejected.Failures, OperationFailure{Index: i, Err: err})
	}

	if !update {
		docs := make([]Record, 0, len(records))
		for i, r := range records {
			doc, err := p.newDocument(r)
			if err != nil {
				reject(i, &errs.AppError{
					Type:    errs.ErrorTypeInvalidRecord,
					Message: fmt.Sprintf("build document %d", i),
					Err:     err,
				})
				continue
			}
			docs = append(docs, doc)
		}
		if len(docs) == 0 {
			return nil, rejected
		}
		return func(ctx context.Context) error {
			_, err := p.store.InsertMany(ctx, docs)
			return err
		}, rejected
	}

	multiple := pick(o.multiple, p.config.Multiple)
	upsert := pick(o.upsert, p.config.Upsert)
	ordered := pick(o.ordered, p.config.Ordered)

	ops := make([]WriteOperation, 0, len(records))
	for i, r := range records {
		op, err := p.builder.BuildWith(r, multiple, upsert)
		if err != nil {
			reject(i, err)
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil, rejected
	}
	return func(ctx context.Context) error {
		_, err := p.store.BulkWrite(ctx, ops, ordered)
		return err
	}, rejected
}

// writeWithRetry runs write up to 1+NRetry times with a fixed pause between
// attempts. It returns the number of attempts made.
func (p *Persistence) writeWithRetry(ctx context.Context, span trace.Span, records int, write writeFunc) (int, error) {
	attempts := 1 + p.config.NRetry
	collection := p.store.CollectionName()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result := classifyAttempt(write(ctx))
		if result.kind == attemptSucceeded {
			return attempt, nil
		}

		remaining := attempts - attempt
		p.metrics.RecordAttemptFailure(collection, attempt)
		span.AddEvent("write attempt failed", trace.WithAttributes(
			attribute.Int("docsink.attempt", attempt),
			attribute.String("docsink.outcome", result.kind.String()),
		))
		p.logAttemptFailure(attempts, attempt, remaining, records, result)

		if result.kind == attemptFatal {
			return attempt, result.err
		}
		lastErr = result.err
		if remaining == 0 {
			break
		}
		if err := p.wait(ctx); err != nil {
			return attempt, err
		}
	}

	return attempts, errs.NewTransientStore(
		fmt.Sprintf("write to collection %q failed after %d attempts", collection, attempts),
		lastErr,
	)
}

func (p *Persistence) logAttemptFailure(attempts, attempt, remaining, records int, result attemptResult) {
	fields := []zap.Field{
		zap.Int("attempt", attempt),
		zap.Int("remaining", remaining),
		zap.Int("records", records),
		zap.Int64("total", p.counter.Value()),
		zap.Error(result.err),
	}
	switch {
	case result.kind == attemptFatal:
		p.logger.Error("Write attempt failed with a non-retryable error", fields...)
	case attempts == 1:
		p.logger.Error("Write attempt failed", fields...)
	case remaining > 0:
		p.logger.Error("Write attempt failed, retrying", fields...)
	default:
		p.logger.Error("Last write attempt failed, giving up", fields...)
	}
}

// wait blocks for the configured backoff or until ctx is done.
func (p *Persistence) wait(ctx context.Context) error {
	if p.config.BackoffTime <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.config.BackoffTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
