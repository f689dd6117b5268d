package persistence

import (
	"github.com/google/uuid"
)

// IDField is the document field that carries a document's identity.
const IDField = "_id"

// DocumentFactory builds the document inserted for a record in insert mode.
type DocumentFactory func(r Record) (Record, error)

// NormalizeFunc rewrites a record before it is queued.
type NormalizeFunc func(r Record) (Record, error)

// NewDocument copies the record and assigns a random identity when it has none.
func NewDocument(r Record) (Record, error) {
	doc := r.Clone()
	if doc == nil {
		doc = Record{}
	}
	if id, ok := doc[IDField]; !ok || id == nil || id == "" {
		doc[IDField] = uuid.NewString()
	}
	return doc, nil
}
