// Package object implements the declarative field-descriptor serdes used
// by every typed method in internal/rpcdef and api: a small set of Kind
// constructors (Int, Float, Bool, String, Null, Any, Array, Map, Object,
// Nullable, Optional, MultiObject) that turn a Go value into a JSON-ready
// value and back for the broker's typed RPC facade.
package object

import (
	"encoding/json"
	"fmt"

	"github.com/myaut/tsload/internal/wire"
)

// Kind deserializes a raw JSON value into a Go value and serializes a Go
// value back into one. Implementations type-check on Deserialize and are
// expected to be stateless and safe for concurrent use across calls.
type Kind interface {
	// Deserialize converts raw into a Go value, or returns a *wire.Error
	// with code message-format (101) on mismatch.
	Deserialize(raw json.RawMessage) (interface{}, error)
	// Serialize converts a Go value into a JSON-ready value, or returns a
	// *wire.Error on an unassigned or unrecognized value.
	Serialize(val interface{}) (interface{}, error)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// scalarKind implements Int/Float/Bool/String. Deserialize type-checks the
// value encoding/json already produced; Serialize additionally normalizes
// the common Go-native forms Field.Get closures return (int64 for Int,
// e.g.) into the JSON-ready shape, since descriptors store fields as
// idiomatic Go types, not raw decoded JSON values.
type scalarKind struct {
	name      string
	check     func(v interface{}) bool
	normalize func(v interface{}) (interface{}, bool)
}

func (k scalarKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected %s, got malformed JSON: %v", k.name, err)
	}
	if !k.check(v) {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected %s, got %T", k.name, v)
	}
	return v, nil
}

func (k scalarKind) Serialize(val interface{}) (interface{}, error) {
	if val != nil {
		if n, ok := k.normalize(val); ok {
			return n, nil
		}
	}
	return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected %s, got %T", k.name, val)
}

// Int is a JSON number with no fractional part (encoding/json decodes all
// numbers to float64; Int additionally requires the value be integral).
func Int() Kind {
	return scalarKind{
		name: "Int",
		check: func(v interface{}) bool {
			f, ok := v.(float64)
			return ok && f == float64(int64(f))
		},
		normalize: func(v interface{}) (interface{}, bool) {
			switch n := v.(type) {
			case int64:
				return float64(n), true
			case int:
				return float64(n), true
			case float64:
				return n, true
			default:
				return nil, false
			}
		},
	}
}

// Float accepts any JSON number.
func Float() Kind {
	return scalarKind{
		name: "Float",
		check: func(v interface{}) bool {
			_, ok := v.(float64)
			return ok
		},
		normalize: func(v interface{}) (interface{}, bool) {
			switch n := v.(type) {
			case float64:
				return n, true
			case int64:
				return float64(n), true
			default:
				return nil, false
			}
		},
	}
}

// Bool accepts a JSON boolean.
func Bool() Kind {
	return scalarKind{
		name:      "Bool",
		check:     func(v interface{}) bool { _, ok := v.(bool); return ok },
		normalize: func(v interface{}) (interface{}, bool) { b, ok := v.(bool); return b, ok },
	}
}

// String accepts a JSON string.
func String() Kind {
	return scalarKind{
		name:      "String",
		check:     func(v interface{}) bool { _, ok := v.(string); return ok },
		normalize: func(v interface{}) (interface{}, bool) { s, ok := v.(string); return s, ok },
	}
}

// nullKind accepts only JSON null.
type nullKind struct{}

func (nullKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	if !isJSONNull(raw) {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected Null, got %s", string(raw))
	}
	return nil, nil
}

func (nullKind) Serialize(val interface{}) (interface{}, error) {
	if val != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected nil for Null kind, got %T", val)
	}
	return nil, nil
}

// Null is the Kind accepting only JSON null.
func Null() Kind { return nullKind{} }

// anyKind passes values through unchanged, for free-form JSON such as
// configuration maps.
type anyKind struct{}

func (anyKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "malformed JSON: %v", err)
	}
	return v, nil
}

func (anyKind) Serialize(val interface{}) (interface{}, error) {
	return val, nil
}

// Any is a passthrough Kind for free-form JSON.
func Any() Kind { return anyKind{} }

// arrayKind recurses element-wise over a JSON array.
type arrayKind struct{ elem Kind }

func Array(elem Kind) Kind { return arrayKind{elem: elem} }

func (k arrayKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected array, got %s", string(raw))
	}
	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		v, err := k.elem.Deserialize(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (k arrayKind) Serialize(val interface{}) (interface{}, error) {
	items, ok := val.([]interface{})
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected []interface{}, got %T", val)
	}
	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		v, err := k.elem.Serialize(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// mapKind recurses value-wise over a JSON object with string keys.
type mapKind struct{ elem Kind }

func Map(elem Kind) Kind { return mapKind{elem: elem} }

func (k mapKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected object, got %s", string(raw))
	}
	out := make(map[string]interface{}, len(obj))
	for key, item := range obj {
		v, err := k.elem.Deserialize(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (k mapKind) Serialize(val interface{}) (interface{}, error) {
	obj, ok := val.(map[string]interface{})
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected map[string]interface{}, got %T", val)
	}
	out := make(map[string]interface{}, len(obj))
	for key, item := range obj {
		v, err := k.elem.Serialize(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// nullableKind accepts T or JSON null, and is the only way to express
// "present and null"; an Optional field set to explicit null reads back
// as absent.
type nullableKind struct{ elem Kind }

func Nullable(elem Kind) Kind { return nullableKind{elem: elem} }

func (k nullableKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	if isJSONNull(raw) {
		return nil, nil
	}
	return k.elem.Deserialize(raw)
}

func (k nullableKind) Serialize(val interface{}) (interface{}, error) {
	if val == nil {
		return nil, nil
	}
	return k.elem.Serialize(val)
}

// optionalKind marks a field as possibly absent from the dictionary
// altogether; absent fields are not emitted on serialize and not required
// on deserialize. It is handled specially by Object's field walk rather
// than by Deserialize/Serialize, which only run when a value is present.
type optionalKind struct{ elem Kind }

func Optional(elem Kind) Kind { return optionalKind{elem: elem} }

func (k optionalKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	return k.elem.Deserialize(raw)
}

func (k optionalKind) Serialize(val interface{}) (interface{}, error) {
	return k.elem.Serialize(val)
}

func isOptional(k Kind) (Kind, bool) {
	if o, ok := k.(optionalKind); ok {
		return o.elem, true
	}
	return k, false
}

// IsOptional reports whether k is an Optional-wrapped Kind, returning the
// wrapped element Kind. Exported for callers outside this package (e.g.
// internal/rpcdef's argument binder) that need to tell an absent optional
// field from a missing required one without a field value in hand.
func IsOptional(k Kind) (Kind, bool) { return isOptional(k) }
