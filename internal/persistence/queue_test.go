package persistence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "docsink/internal/errors"
)

func TestRecordQueue_DrainAll(t *testing.T) {
	tests := []struct {
		order    DrainOrder
		expected []int
	}{
		{order: DrainFIFO, expected: []int{0, 1, 2, 3}},
		{order: DrainLIFO, expected: []int{3, 2, 1, 0}},
		{order: "", expected: []int{0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			q := NewRecordQueue(tt.order)
			for i := 0; i < 4; i++ {
				q.Push(Record{"i": i})
			}
			require.Equal(t, 4, q.Size())

			var got []int
			for _, r := range q.DrainAll() {
				got = append(got, r["i"].(int))
			}
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, 0, q.Size())
			assert.Empty(t, q.DrainAll())
		})
	}
}

func TestRecordQueue_ConcurrentPush(t *testing.T) {
	q := NewRecordQueue(DrainFIFO)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(Record{})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.DrainAll(), 1000)
}

func TestParseDrainOrder(t *testing.T) {
	order, err := ParseDrainOrder(" LIFO ")
	require.NoError(t, err)
	assert.Equal(t, DrainLIFO, order)

	order, err = ParseDrainOrder("")
	require.NoError(t, err)
	assert.Equal(t, DrainFIFO, order)

	_, err = ParseDrainOrder("random")
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), c.Value())
	assert.Equal(t, int64(1001), c.Increment())
}

func TestBatchConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBatchConfig().Validate())

	cfg := DefaultBatchConfig()
	cfg.BatchSize = 0
	assert.NoError(t, cfg.Validate())

	cfg = DefaultBatchConfig()
	cfg.BackoffTime = -time.Millisecond
	assert.True(t, errs.IsValidation(cfg.Validate()))

	cfg = DefaultBatchConfig()
	cfg.DrainOrder = "sideways"
	assert.True(t, errs.IsValidation(cfg.Validate()))
}

func TestClassifyAttempt(t *testing.T) {
	assert.Equal(t, attemptSucceeded, classifyAttempt(nil).kind)
	assert.Equal(t, attemptRetryable, classifyAttempt(assert.AnError).kind)
	assert.Equal(t, attemptFatal, classifyAttempt(errs.NewInvalidRecord("x")).kind)
	assert.Equal(t, attemptFatal, classifyAttempt(errs.NewValidation("x")).kind)
}
