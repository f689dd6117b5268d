package persistence

import "time"

// Metrics receives flush telemetry. Implementations must be safe for concurrent use.
type Metrics interface {
	RecordPersisted(collection string)
	RecordFlush(collection, mode string, records int, duration time.Duration)
	RecordAttemptFailure(collection string, attempt int)
	RecordFlushFailure(collection, reason string)
	SetQueueDepth(collection string, depth int)
}

type nopMetrics struct{}

func (nopMetrics) RecordPersisted(string) {}
func (nopMetrics) RecordFlush(string, string, int, time.Duration) {}
func (nopMetrics) RecordAttemptFailure(string, int) {}
func (nopMetrics) RecordFlushFailure(string, string) {}
func (nopMetrics) SetQueueDepth(string, int) {}
