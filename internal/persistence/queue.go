package persistence

import (
	"fmt"
	"strings"
	"sync"
)

// DrainOrder controls the order in which DrainAll returns queued records.
type DrainOrder string

const (
	// DrainFIFO returns the oldest record first.
	DrainFIFO DrainOrder = "fifo"
	// DrainLIFO returns the most recently queued record first.
	DrainLIFO DrainOrder = "lifo"
)

// ParseDrainOrder converts a configuration string into a DrainOrder.
// An empty string selects DrainFIFO.
func ParseDrainOrder(s string) (DrainOrder, error) {
	switch DrainOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", DrainFIFO:
		return DrainFIFO, nil
	case DrainLIFO:
		return DrainLIFO, nil
	default:
		return "", fmt.Errorf("unknown drain order %q", s)
	}
}

// RecordQueue is an ordered buffer of records waiting to be written.
// Records only leave the queue through DrainAll.
type RecordQueue struct {
	mu      sync.Mutex
	order   DrainOrder
	records []Record
}

// NewRecordQueue creates an empty queue with the given drain order.
func NewRecordQueue(order DrainOrder) *RecordQueue {
	if order == "" {
		order = DrainFIFO
	}
	return &RecordQueue{order: order}
}

// Push appends a record to the queue.
func (q *RecordQueue) Push(r Record) {
	q.mu.Lock()
	q.records = append(q.records, r)
	q.mu.Unlock()
}

// Size returns the number of queued records.
func (q *RecordQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// DrainAll removes every queued record and returns them in drain order.
func (q *RecordQueue) DrainAll() []Record {
	q.mu.Lock()
	drained := q.records
	q.records = nil
	q.mu.Unlock()

	if q.order == DrainLIFO {
		for i, j := 0, len(drained)-1; i < j; i, j = i+1, j-1 {
			drained[i], drained[j] = drained[j], drained[i]
		}
	}
	return drained
}
