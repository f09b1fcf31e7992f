package dataset

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/kbukum/datagraph/errors"
)

// ParamKind discriminates the Parameter tagged union.
type ParamKind uint8

const (
	KindNull ParamKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTuple
	KindMap
	KindDatasetRef
)

// Parameter is one canonicalised parameter value. The zero value is Null.
type Parameter struct {
	kind   ParamKind
	boolV  bool
	intV   int64
	floatV float64
	strV   string
	tuple  []Parameter
	keys   []string
	vals   []Parameter
	ref    [32]byte
}

// Null returns the null parameter.
func Null() Parameter { return Parameter{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Parameter { return Parameter{kind: KindBool, boolV: v} }

// Int wraps an integer.
func Int(v int64) Parameter { return Parameter{kind: KindInt, intV: v} }

// Float wraps a float. NaN is rejected at normalisation, not here.
func Float(v float64) Parameter { return Parameter{kind: KindFloat, floatV: v} }

// String wraps a string.
func String(v string) Parameter { return Parameter{kind: KindString, strV: v} }

// Tuple wraps an ordered sequence.
func Tuple(vs ...Parameter) Parameter {
	return Parameter{kind: KindTuple, tuple: vs}
}

// DatasetRef wraps a reference to another dataset by hash.
func DatasetRef(hash [32]byte) Parameter {
	return Parameter{kind: KindDatasetRef, ref: hash}
}

// MapOf wraps a key-sorted mapping.
func MapOf(m map[string]Parameter) Parameter {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Parameter, len(keys))
	for i, k := range keys {
		vals[i] = m[k]
	}
	return Parameter{kind: KindMap, keys: keys, vals: vals}
}

// Kind returns the discriminant.
func (p Parameter) Kind() ParamKind { return p.kind }

// Value converts the canonical form back into plain Go values.
// Tuples become []any, maps become map[string]any, refs become hex hashes.
func (p Parameter) Value() any {
	switch p.kind {
	case KindNull:
		return nil
	case KindBool:
		return p.boolV
	case KindInt:
		return p.intV
	case KindFloat:
		return p.floatV
	case KindString:
		return p.strV
	case KindTuple:
		out := make([]any, len(p.tuple))
		for i, v := range p.tuple {
			out[i] = v.Value()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(p.keys))
		for i, k := range p.keys {
			out[k] = p.vals[i].Value()
		}
		return out
	case KindDatasetRef:
		return fmt.Sprintf("%x", p.ref)
	}
	return nil
}

// Equal compares two parameters structurally.
func (p Parameter) Equal(other Parameter) bool {
	if p.kind != other.kind {
		return false
	}
	switch p.kind {
	case KindNull:
		return true
	case KindBool:
		return p.boolV == other.boolV
	case KindInt:
		return p.intV == other.intV
	case KindFloat:
		return p.floatV == other.floatV
	case KindString:
		return p.strV == other.strV
	case KindTuple:
		if len(p.tuple) != len(other.tuple) {
			return false
		}
		for i := range p.tuple {
			if !p.tuple[i].Equal(other.tuple[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(p.keys) != len(other.keys) {
			return false
		}
		for i := range p.keys {
			if p.keys[i] != other.keys[i] || !p.vals[i].Equal(other.vals[i]) {
				return false
			}
		}
		return true
	case KindDatasetRef:
		return p.ref == other.ref
	}
	return false
}

func (p Parameter) String() string {
	switch p.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", p.boolV)
	case KindInt:
		return fmt.Sprintf("%d", p.intV)
	case KindFloat:
		return fmt.Sprintf("%g", p.floatV)
	case KindString:
		return fmt.Sprintf("%q", p.strV)
	case KindTuple:
		parts := make([]string, len(p.tuple))
		for i, v := range p.tuple {
			parts[i] = v.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindMap:
		parts := make([]string, len(p.keys))
		for i, k := range p.keys {
			parts[i] = fmt.Sprintf("%s: %s", k, p.vals[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindDatasetRef:
		return fmt.Sprintf("ref:%x", p.ref[:4])
	}
	return "?"
}

// FromValue normalises an arbitrary Go value into a Parameter.
// Maps are key-sorted, slices become tuples, and anything outside the
// supported union is rejected with INVALID_PARAMETER.
func FromValue(key string, v any) (Parameter, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Parameter:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Parameter{}, errors.InvalidParameter(key, v)
		}
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Parameter{}, errors.InvalidParameter(key, v)
		}
		return Int(int64(x)), nil
	case float32:
		return fromFloat(key, float64(x))
	case float64:
		return fromFloat(key, x)
	case string:
		return String(x), nil
	case Ref:
		return DatasetRef(x.Hash()), nil
	}
	return fromReflected(key, v)
}

func fromFloat(key string, f float64) (Parameter, error) {
	if math.IsNaN(f) {
		return Parameter{}, errors.InvalidParameter(key, "NaN").
			WithDetail("reason", "NaN has no canonical form")
	}
	return Float(f), nil
}

// fromReflected normalises slices and string-keyed maps of any element
// type. Everything else is rejected.
func fromReflected(key string, v any) (Parameter, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		vs := make([]Parameter, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			p, err := FromValue(key, rv.Index(i).Interface())
			if err != nil {
				return Parameter{}, err
			}
			vs[i] = p
		}
		return Tuple(vs...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Parameter{}, errors.InvalidParameter(key, v).
				WithDetail("reason", "map keys must be strings")
		}
		m := make(map[string]Parameter, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			p, err := FromValue(key, iter.Value().Interface())
			if err != nil {
				return Parameter{}, err
			}
			m[iter.Key().String()] = p
		}
		return MapOf(m), nil
	}
	return Parameter{}, errors.InvalidParameter(key, v)
}

// Params is an immutable, key-sorted parameter mapping.
type Params struct {
	keys []string
	vals []Parameter
}

// NormalizeParams canonicalises a raw parameter map.
func NormalizeParams(raw map[string]any) (Params, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Parameter, len(keys))
	for i, k := range keys {
		p, err := FromValue(k, raw[k])
		if err != nil {
			return Params{}, err
		}
		vals[i] = p
	}
	return Params{keys: keys, vals: vals}, nil
}

// Len returns the number of entries.
func (ps Params) Len() int { return len(ps.keys) }

// Keys returns the sorted keys.
func (ps Params) Keys() []string {
	out := make([]string, len(ps.keys))
	copy(out, ps.keys)
	return out
}

// Get returns the parameter stored under key.
func (ps Params) Get(key string) (Parameter, bool) {
	i := sort.SearchStrings(ps.keys, key)
	if i < len(ps.keys) && ps.keys[i] == key {
		return ps.vals[i], true
	}
	return Parameter{}, false
}

// Equal compares two parameter maps structurally.
func (ps Params) Equal(other Params) bool {
	if len(ps.keys) != len(other.keys) {
		return false
	}
	for i := range ps.keys {
		if ps.keys[i] != other.keys[i] || !ps.vals[i].Equal(other.vals[i]) {
			return false
		}
	}
	return true
}

// Each visits entries in key order.
func (ps Params) Each(fn func(key string, value Parameter)) {
	for i, k := range ps.keys {
		fn(k, ps.vals[i])
	}
}

// ToMap converts back to plain Go values, in a fresh map.
func (ps Params) ToMap() map[string]any {
	out := make(map[string]any, len(ps.keys))
	for i, k := range ps.keys {
		out[k] = ps.vals[i].Value()
	}
	return out
}
