package params

import (
	"fmt"
	"sort"
)

// HasAnyParamsKey is the reserved key carrying Parsed.HasAnyParams in the flat
// (Map) form. A Spec may not use it as its Name.
const HasAnyParamsKey = "hasAnyParams"

// Spec declares one expected parameter.
// Validate is optional; nil accepts every well-formed integer.
type Spec struct {
	Name     string
	Default  int
	Validate func(int) bool
}

// Reason tells why a provided value was replaced by its default.
type Reason int

const (
	ReasonNotANumber Reason = iota + 1
	ReasonFailedValidator
)

func (r Reason) String() string {
	switch r {
	case ReasonNotANumber:
		return "not_a_number"
	case ReasonFailedValidator:
		return "failed_validator"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ValidationError describes one rejected parameter.
type ValidationError struct {
	Parameter   string `json:"parameter"`
	Provided    string `json:"provided"`
	DefaultUsed int    `json:"default_used"`
	Reason      Reason `json:"reason"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %s (got %q, using default %d)", e.Parameter, e.Reason, e.Provided, e.DefaultUsed)
}

// ValidationHandler observes rejected parameters, one batch per parse.
type ValidationHandler func([]ValidationError)

// Parsed is the fully defaulted result of ParseAndClean.
//
// Values holds exactly one entry per declared Spec. HasAnyParams is true iff
// at least one declared name was present in the source, valid or not.
type Parsed struct {
	Values       map[string]int
	HasAnyParams bool
}

// Int returns the value for name.
func (p Parsed) Int(name string) (int, bool) {
	v, ok := p.Values[name]
	return v, ok
}

// Get returns the value for the spec's name, or its default when absent.
func (p Parsed) Get(s Spec) int {
	if v, ok := p.Values[s.Name]; ok {
		return v
	}
	return s.Default
}

// Names returns the parameter names in sorted order.
func (p Parsed) Names() []string {
	out := make([]string, 0, len(p.Values))
	for k := range p.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Map returns the flat form: every value plus HasAnyParamsKey.
func (p Parsed) Map() map[string]any {
	m := make(map[string]any, len(p.Values)+1)
	for k, v := range p.Values {
		m[k] = v
	}
	m[HasAnyParamsKey] = p.HasAnyParams
	return m
}

// Range returns a validator accepting min <= v <= max.
func Range(min, max int) func(int) bool {
	return func(v int) bool { return v >= min && v <= max }
}

// OneOf returns a validator accepting only the listed values.
func OneOf(allowed ...int) func(int) bool {
	set := make(map[int]struct{}, len(allowed))
	for _, v := range allowed {
		set[v] = struct{}{}
	}
	return func(v int) bool {
		_, ok := set[v]
		return ok
	}
}

// All combines validators; every one must accept.
func All(fns ...func(int) bool) func(int) bool {
	return func(v int) bool {
		for _, fn := range fns {
			if fn != nil && !fn(v) {
				return false
			}
		}
		return true
	}
}
