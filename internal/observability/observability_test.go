package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docsink/internal/persistence"
	"docsink/internal/persistence/mocks"
)

var _ persistence.Metrics = (*Collector)(nil)

func TestNewCollector_Singleton(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	c1 := NewCollector("docsink")
	c2 := NewCollector("other")
	assert.Same(t, c1, c2)

	ResetForTesting()
	c3 := NewCollector("docsink")
	assert.NotSame(t, c1, c3)
}

func TestCollector_RecordsFlushTelemetry(t *testing.T) {
	// Arrange
	ResetForTesting()
	defer ResetForTesting()
	c := NewCollector("docsink")

	store := mocks.NewMockStore("books")
	store.On("BulkWrite", mock.Anything, mock.Anything, false).Return(persistence.BulkResult{}, errors.New("busy")).Once()
	store.On("BulkWrite", mock.Anything, mock.Anything, false).Return(persistence.BulkResult{}, nil)

	cfg := persistence.Config{Batch: persistence.DefaultBatchConfig(), Query: persistence.QueryFields("title")}
	cfg.Batch.BatchSize = 2
	cfg.Batch.BackoffTime = 0
	p, err := persistence.New(store, cfg, zap.NewNop(), c)
	require.NoError(t, err)

	// Act
	for _, title := range []string{"a", "b", "c"} {
		_, err := p.Persist(context.Background(), persistence.Record{"title": title})
		require.NoError(t, err)
	}

	// Assert
	assert.Equal(t, float64(3), testutil.ToFloat64(c.RecordsPersisted.WithLabelValues("books")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.RecordsFlushed.WithLabelValues("books", "update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Flushes.WithLabelValues("books", "update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.AttemptFailures.WithLabelValues("books", "1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.QueueDepth.WithLabelValues("books")))

	count, err := testutil.GatherAndCount(c.GetRegistry(), "docsink_flush_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_FlushFailure(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()
	c := NewCollector("docsink")

	c.RecordFlushFailure("books", "store")
	c.RecordFlush("books", "insert", 10, 50*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.FlushFailures.WithLabelValues("books", "store")))
	assert.Equal(t, float64(10), testutil.ToFloat64(c.RecordsFlushed.WithLabelValues("books", "insert")))
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger(LoggerConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck

	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	level.SetLevel(zap.DebugLevel)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, _, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zap.AtomicLevel{
		"debug": zap.NewAtomicLevelAt(zap.DebugLevel),
		"":      zap.NewAtomicLevelAt(zap.InfoLevel),
		"warn":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"error": zap.NewAtomicLevelAt(zap.ErrorLevel),
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want.Level(), got)
	}
}
