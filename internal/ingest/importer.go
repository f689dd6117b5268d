// Package ingest feeds records from a source into a Persistence.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	errs "docsink/internal/errors"
	"docsink/internal/persistence"
)

const maxLineSize = 16 * 1024 * 1024

// Options controls one import run.
type Options struct {
	// PrintNum logs the running count for every record.
	PrintNum bool
	// ClearModel deletes matching documents before the first record is read.
	ClearModel bool
	// ClearQuery selects the documents ClearModel deletes. Nil runs the
	// persistence's configured clear-model query.
	ClearQuery map[string]any
}

// Result summarizes an import run.
type Result struct {
	// Read counts non-blank lines or input records.
	Read int
	// Persisted counts records handed to the store.
	Persisted int
	// Skipped counts malformed lines and rejected records.
	Skipped int
	Flushes int
	// Dropped is the number of documents ClearModel deleted.
	Dropped int64
}

// Importer persists records and finalizes the run.
type Importer struct {
	p      *persistence.Persistence
	logger *zap.Logger
}

// NewImporter creates an importer writing through p.
func NewImporter(p *persistence.Persistence, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		p:      p,
		logger: logger.With(zap.String("collection", p.CollectionName())),
	}
}

// ImportReader reads one JSON object per line from r. Blank lines are
// ignored. Malformed lines and records the persistence rejects, at Persist
// or when their batch is flushed, are logged and counted as skipped.
// When ctx is cancelled reading stops and the queued records are still
// finalized before ctx.Err() is returned.
func (i *Importer) ImportReader(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	var res Result
	if err := i.clear(ctx, opts, &res); err != nil {
		return res, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		res.Read++

		var rec persistence.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Skipped++
			i.logger.Warn("Skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := i.persist(ctx, rec, opts, &res); err != nil {
			return res, i.finish(ctx, &res, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, i.finish(ctx, &res, errs.Wrap(err, "read source"))
	}

	return res, i.finish(ctx, &res, ctx.Err())
}

// ImportRecords persists records in order and finalizes the run.
func (i *Importer) ImportRecords(ctx context.Context, records []persistence.Record, opts Options) (Result, error) {
	var res Result
	if err := i.clear(ctx, opts, &res); err != nil {
		return res, err
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		res.Read++
		if err := i.persist(ctx, rec, opts, &res); err != nil {
			return res, i.finish(ctx, &res, err)
		}
	}
	return res, i.finish(ctx, &res, ctx.Err())
}

func (i *Importer) clear(ctx context.Context, opts Options, res *Result) error {
	if !opts.ClearModel {
		return nil
	}
	var query persistence.Query
	if opts.ClearQuery != nil {
		query = persistence.RawQuery(opts.ClearQuery)
	}
	dropped, err := i.p.DropModelData(ctx, query)
	if err != nil {
		return err
	}
	res.Dropped = dropped
	return nil
}

// persist returns only errors that should end the run.
func (i *Importer) persist(ctx context.Context, rec persistence.Record, opts Options, res *Result) error {
	flushed, err := i.p.Persist(ctx, rec, persistence.WithPrintNum(opts.PrintNum))
	if flushed {
		res.Flushes++
	}
	if err == nil {
		res.Persisted++
		return nil
	}
	// The record was queued; the flush it triggered left out some of the batch.
	if n := rejectedCount(err); n > 0 {
		res.Persisted += 1 - n
		res.Skipped += n
		return nil
	}
	if errs.IsInvalidRecord(err) {
		res.Skipped++
		return nil
	}
	return err
}

// rejectedCount returns how many queued records a flush left out.
func rejectedCount(err error) int {
	var rejected *persistence.RejectedRecordsError
	if errors.As(err, &rejected) {
		return len(rejected.Failures)
	}
	return 0
}

// finish finalizes the queue even when the run ended early.
func (i *Importer) finish(ctx context.Context, res *Result, cause error) error {
	before := i.p.QueueSize()
	err := i.p.Finalize(context.WithoutCancel(ctx))
	if n := rejectedCount(err); n > 0 {
		res.Persisted -= n
		res.Skipped += n
		if n < before {
			res.Flushes++
		}
		err = nil
	} else if err == nil && before > 0 {
		res.Flushes++
	}
	if err != nil {
		i.logger.Error("Failed to finalize import", zap.Error(err))
		if cause == nil {
			cause = err
		}
	}

	fields := []zap.Field{
		zap.Int("read", res.Read),
		zap.Int("persisted", res.Persisted),
		zap.Int("skipped", res.Skipped),
		zap.Int("flushes", res.Flushes),
		zap.Int64("total", i.p.Count()),
	}
	if cause != nil {
		i.logger.Warn("Import stopped early", append(fields, zap.Error(cause))...)
		return cause
	}
	i.logger.Info("Import complete", fields...)
	return nil
}
