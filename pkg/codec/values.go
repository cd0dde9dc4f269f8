// Package codec encodes and decodes values against schema types.
//
// Native representations:
//
//	text       string
//	nat        *big.Int (encode also accepts non-negative Go integers)
//	bool       bool
//	principal  principal.Principal
//	record     Record (map[string]any)
//	vec        []any (encode also accepts any slice)
//	variant    Variant
//
// Encode and Decode are pure and safe for concurrent use.
package codec

import (
	"math/big"
	"reflect"
	"strconv"

	"github.com/morezero/contracts-gateway/pkg/principal"
)

// Record is the native form of a record value.
type Record = map[string]any

// Variant is the native form of a variant value. Value is nil for cases without payload.
type Variant struct {
	Case  string
	Value any
}

// NatFromUint64 is a convenience constructor for naturals.
func NatFromUint64(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

// Equal reports whether two native values are structurally equal. Naturals compare by
// value, principals by identity, records and vectors element-wise.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case *big.Int:
		bv, ok := b.(*big.Int)
		if !ok || av == nil || bv == nil {
			return ok && av == bv
		}
		return av.Cmp(bv) == 0
	case principal.Principal:
		bv, ok := b.(principal.Principal)
		return ok && av.Equal(bv)
	case Record:
		bv, ok := b.(Record)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Variant:
		bv, ok := b.(Variant)
		return ok && av.Case == bv.Case && Equal(normalizeUnit(av.Value), normalizeUnit(bv.Value))
	default:
		return reflect.DeepEqual(a, b)
	}
}

// normalizeUnit treats a nil payload and an empty record as the same unit value.
func normalizeUnit(v any) any {
	if v == nil {
		return Record{}
	}
	return v
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
