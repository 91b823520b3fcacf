package params

import (
	"encoding/json"
	"math"
)

// ShouldResetState reports whether freshly parsed parameters must replace
// previously persisted state.
//
// It is false when nothing was saved or no parameter was supplied. Otherwise
// it is true as soon as one parsed name exists in saved with a different
// value. Names missing from saved never force a reset on their own, so adding
// a parameter to the spec list does not invalidate old state.
func ShouldResetState(saved map[string]any, p Parsed) bool {
	if saved == nil || !p.HasAnyParams {
		return false
	}
	for k, v := range p.Values {
		if k == HasAnyParamsKey {
			continue
		}
		stored, ok := saved[k]
		if !ok {
			continue
		}
		if !sameValue(stored, v) {
			return true
		}
	}
	return false
}

// sameValue compares a persisted value with a parsed integer.
// Persisted state usually round-trips through JSON, so numbers may come back
// as float64 or json.Number; non-numeric values never match.
func sameValue(stored any, v int) bool {
	switch x := stored.(type) {
	case int:
		return x == v
	case int8:
		return int64(x) == int64(v)
	case int16:
		return int64(x) == int64(v)
	case int32:
		return int64(x) == int64(v)
	case int64:
		return x == int64(v)
	case uint:
		return v >= 0 && uint64(x) == uint64(v)
	case uint8:
		return v >= 0 && uint64(x) == uint64(v)
	case uint16:
		return v >= 0 && uint64(x) == uint64(v)
	case uint32:
		return v >= 0 && uint64(x) == uint64(v)
	case uint64:
		return v >= 0 && x == uint64(v)
	case float32:
		return float64(x) == float64(v)
	case float64:
		return !math.IsNaN(x) && x == float64(v)
	case json.Number:
		n, err := x.Int64()
		return err == nil && n == int64(v)
	default:
		return false
	}
}
