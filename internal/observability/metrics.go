package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds the Prometheus metrics of the persistence engine.
// It implements persistence.Metrics.
type Collector struct {
	registry *prometheus.Registry

	RecordsPersisted *prometheus.CounterVec
	RecordsFlushed   *prometheus.CounterVec
	Flushes          *prometheus.CounterVec
	FlushDuration    *prometheus.HistogramVec
	AttemptFailures  *prometheus.CounterVec
	FlushFailures    *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
}

// NewCollector returns the process-wide collector, creating it on first use.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	recordsPersisted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Total number of records handed to Persist",
		},
		[]string{"collection"},
	)

	recordsFlushed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_flushed_total",
			Help:      "Total number of records written by successful flushes",
		},
		[]string{"collection", "mode"},
	)

	flushes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of successful flushes",
		},
		[]string{"collection", "mode"},
	)

	flushDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of successful flushes including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "mode"},
	)

	attemptFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_attempt_failures_total",
			Help:      "Total number of failed store write attempts",
		},
		[]string{"collection", "attempt"},
	)

	flushFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Total number of flushes whose batch was not written",
		},
		[]string{"collection", "reason"},
	)

	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of records waiting for the next flush",
		},
		[]string{"collection"},
	)

	registry.MustRegister(
		recordsPersisted,
		recordsFlushed,
		flushes,
		flushDuration,
		attemptFailures,
		flushFailures,
		queueDepth,
	)

	globalCollector = &Collector{
		registry:         registry,
		RecordsPersisted: recordsPersisted,
		RecordsFlushed:   recordsFlushed,
		Flushes:          flushes,
		FlushDuration:    flushDuration,
		AttemptFailures:  attemptFailures,
		FlushFailures:    flushFailures,
		QueueDepth:       queueDepth,
	}
	return globalCollector
}

// ResetForTesting drops the global collector so the next NewCollector starts fresh.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// GetRegistry returns the registry holding the collector's metrics.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordPersisted(collection string) {
	c.RecordsPersisted.WithLabelValues(collection).Inc()
}

func (c *Collector) RecordFlush(collection, mode string, records int, duration time.Duration) {
	c.Flushes.WithLabelValues(collection, mode).Inc()
	c.RecordsFlushed.WithLabelValues(collection, mode).Add(float64(records))
	c.FlushDuration.WithLabelValues(collection, mode).Observe(duration.Seconds())
}

func (c *Collector) RecordAttemptFailure(collection string, attempt int) {
	c.AttemptFailures.WithLabelValues(collection, strconv.Itoa(attempt)).Inc()
}

func (c *Collector) RecordFlushFailure(collection, reason string) {
	c.FlushFailures.WithLabelValues(collection, reason).Inc()
}

func (c *Collector) SetQueueDepth(collection string, depth int) {
	c.QueueDepth.WithLabelValues(collection).Set(float64(depth))
}
