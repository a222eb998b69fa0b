// Package rawfeature implements the append-only typed numeric column from
// spec.md §2.1: a per-feature buffer that starts as the narrowest integer
// type able to hold its first value, and auto-promotes to a wider type
// whenever a later value would otherwise overflow.
package rawfeature

import (
	"math"

	"github.com/tealtree/tealtree/internal/tterr"
)

// Kind identifies the raw numeric storage type of a column, matching the
// seven RawFeatureType values in original_source/src/types.h.
type Kind uint8

const (
	KindUint8 Kind = iota + 1
	KindInt8
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindFloat32
)

func (k Kind) String() string {
	switch k {
	case KindUint8:
		return "uint8"
	case KindInt8:
		return "int8"
	case KindUint16:
		return "uint16"
	case KindInt16:
		return "int16"
	case KindUint32:
		return "uint32"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// promotionOrder lists the widening path a column follows as values force
// it to hold more range: start at the narrowest unsigned type, fall back
// to signed the moment a negative value appears, and fall through to
// float32 if a value has a fractional part or exceeds int32 range.
var promotionOrder = []Kind{KindUint8, KindInt8, KindUint16, KindInt16, KindUint32, KindInt32, KindFloat32}

// Column is an append-only, auto-widening numeric buffer. All values are
// retained internally as float64 (the widest representable domain for
// every supported Kind) alongside the narrowest Kind that has fit every
// value appended so far; Values() exposes the float64 view and Kind()
// exposes the promoted type for bucketization and bit-width selection.
type Column struct {
	name   string
	kind   Kind
	values []float64
}

// NewColumn creates an empty column with the given feature name.
func NewColumn(name string) *Column {
	return &Column{name: name, kind: KindUint8}
}

// Name returns the feature's column name.
func (c *Column) Name() string { return c.name }

// Kind returns the narrowest raw type that fits every value appended so
// far.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values appended.
func (c *Column) Len() int { return len(c.values) }

// Values returns the float64 view of every appended value, in append
// order.
func (c *Column) Values() []float64 { return c.values }

// Append adds v, widening the column's Kind until it fits v and every
// value appended before it. Returns a TypePromotionFailure for a NaN/Inf
// value, which no numeric Kind (including float32) can represent
// meaningfully as a feature value.
func (c *Column) Append(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return tterr.NewTypePromotionFailure("column %q: value %v is not finite", c.name, v)
	}
	fitsOld := func(k Kind) bool {
		for _, old := range c.values {
			if !fits(k, old) {
				return false
			}
		}
		return true
	}
	k := c.kind
	for !fits(k, v) || (k != c.kind && !fitsOld(k)) {
		next, ok := widen(k)
		if !ok {
			// float32 is the last rung and fits every finite float64
			// value for TealTree's purposes (precision loss, not range
			// failure); this branch is unreachable for finite v.
			break
		}
		k = next
	}
	if k != c.kind {
		c.kind = k
	}
	c.values = append(c.values, v)
	return nil
}

func fits(k Kind, v float64) bool {
	switch k {
	case KindUint8:
		return v >= 0 && v <= math.MaxUint8 && v == math.Trunc(v)
	case KindInt8:
		return v >= math.MinInt8 && v <= math.MaxInt8 && v == math.Trunc(v)
	case KindUint16:
		return v >= 0 && v <= math.MaxUint16 && v == math.Trunc(v)
	case KindInt16:
		return v >= math.MinInt16 && v <= math.MaxInt16 && v == math.Trunc(v)
	case KindUint32:
		return v >= 0 && v <= math.MaxUint32 && v == math.Trunc(v)
	case KindInt32:
		return v >= math.MinInt32 && v <= math.MaxInt32 && v == math.Trunc(v)
	case KindFloat32:
		return true
	default:
		return false
	}
}

func widen(k Kind) (Kind, bool) {
	for i, cur := range promotionOrder {
		if cur == k {
			if i+1 < len(promotionOrder) {
				return promotionOrder[i+1], true
			}
			return k, false
		}
	}
	return k, false
}
