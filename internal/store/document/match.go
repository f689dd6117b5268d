// Package document holds the filter and update semantics shared by the
// key-value backed store adapters.
//
// A filter matches a document when every filter field is present in the
// document with an equal value. Numbers compare by value regardless of their
// Go type, so a filter built from an int matches a document decoded from JSON.
// An update assigns its fields onto the matched document.
package document

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"docsink/internal/persistence"
)

// Matches reports whether doc satisfies every field of filter.
// An empty filter matches every document.
func Matches(doc persistence.Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}

// Equal compares two field values. Numeric values of different types are
// equal when they represent the same number. Integers compare exactly.
func Equal(a, b any) bool {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.equal(nb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Apply returns a copy of doc with every field of update assigned.
// The identity field cannot be changed.
func Apply(doc persistence.Record, update map[string]any) (persistence.Record, error) {
	out := doc.Clone()
	if out == nil {
		out = persistence.Record{}
	}
	for k, v := range update {
		if k == persistence.IDField {
			if cur, ok := out[k]; ok && !Equal(cur, v) {
				return nil, fmt.Errorf("update would change %s from %v to %v", k, cur, v)
			}
		}
		out[k] = v
	}
	return out, nil
}

// Upserted builds the document inserted when an upsert matches nothing:
// the filter fields overlaid with the update.
func Upserted(filter, update map[string]any) (persistence.Record, error) {
	doc := make(persistence.Record, len(filter)+len(update))
	for k, v := range filter {
		doc[k] = v
	}
	for k, v := range update {
		doc[k] = v
	}
	return persistence.NewDocument(doc)
}

// Modified reports whether applying an update changed the document.
func Modified(before, after persistence.Record) bool {
	if len(before) != len(after) {
		return true
	}
	for k, v := range after {
		old, ok := before[k]
		if !ok || !Equal(old, v) {
			return true
		}
	}
	return false
}

// keyTag starts every key that is not a plain string. A string id that
// itself starts with keyTag gets a second one, so keys of different types
// never collide.
const keyTag = "~"

// Key renders a document identity as a storage key component. Strings are
// used as-is; other values are tagged by kind. Ids that are Equal share a key.
func Key(id any) string {
	switch v := id.(type) {
	case string:
		if strings.HasPrefix(v, keyTag) {
			return keyTag + v
		}
		return v
	case bool:
		return keyTag + "b" + strconv.FormatBool(v)
	}
	if n, ok := toNumber(id); ok {
		return keyTag + "n" + n.String()
	}
	return keyTag + "v" + fmt.Sprint(id)
}

// number holds a numeric value without losing integer precision.
type number struct {
	kind reflect.Kind // reflect.Int64, reflect.Uint64 or reflect.Float64
	i    int64
	u    uint64
	f    float64
}

const (
	twoTo63 = float64(1 << 63)
	twoTo64 = 2 * twoTo63
)

func toNumber(v any) (number, bool) {
	if v == nil {
		return number{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{kind: reflect.Int64, i: rv.Int()}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return number{kind: reflect.Int64, i: int64(u)}, true
		}
		return number{kind: reflect.Uint64, u: u}, true
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float()), true
	default:
		return number{}, false
	}
}

// normalizeFloat turns integral floats in integer range into integers.
func normalizeFloat(f float64) number {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return number{kind: reflect.Float64, f: f}
	}
	switch {
	case f >= -twoTo63 && f < twoTo63:
		return number{kind: reflect.Int64, i: int64(f)}
	case f >= twoTo63 && f < twoTo64:
		return number{kind: reflect.Uint64, u: uint64(f)}
	default:
		return number{kind: reflect.Float64, f: f}
	}
}

func (n number) equal(o number) bool {
	if n.kind != o.kind {
		return false
	}
	switch n.kind {
	case reflect.Int64:
		return n.i == o.i
	case reflect.Uint64:
		return n.u == o.u
	default:
		return n.f == o.f
	}
}

func (n number) String() string {
	switch n.kind {
	case reflect.Int64:
		return strconv.FormatInt(n.i, 10)
	case reflect.Uint64:
		return strconv.FormatUint(n.u, 10)
	default:
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
}
