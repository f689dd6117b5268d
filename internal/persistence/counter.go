package persistence

import "sync/atomic"

// Counter tracks how many records have been handed to Persist.
// It only grows and is never reset while the owning Persistence lives.
// The value is a progress and correlation aid, not a document identifier.
type Counter struct {
	n atomic.Int64
}

// Increment adds one and returns the new total.
func (c *Counter) Increment() int64 {
	return c.n.Add(1)
}

// Value returns the current total.
func (c *Counter) Value() int64 {
	return c.n.Load()
}
