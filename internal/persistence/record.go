// Package persistence implements the batched, retrying write path that moves
// application records into a document store.
//
// Records are queued by Persist and written in bulk once the queue reaches the
// configured batch size. Finalize writes whatever remains below that size and
// must be called once after the last Persist.
package persistence

// Record is a caller-defined document: field names mapped to arbitrary values.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
