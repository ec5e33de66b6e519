package object

import (
	"encoding/json"
	"fmt"

	"github.com/myaut/tsload/internal/wire"
)

// Field describes one named, typed slot of an ObjectDescriptor. Get/Set are
// small closures bound to a concrete Go type at descriptor-construction
// time (in the api package); there is no runtime attribute enumeration,
// the field list is built once, statically.
type Field struct {
	Name string
	Kind Kind
	Get  func(obj interface{}) interface{}
	Set  func(obj interface{}, val interface{})
}

// ObjectDescriptor is a named record type: a zero-value constructor plus an
// ordered field list. It implements Kind so it can nest inside Array, Map,
// Nullable and other ObjectDescriptors.
type ObjectDescriptor struct {
	Name   string
	New    func() interface{}
	Fields []Field
}

// Object adapts an *ObjectDescriptor for use as a nested field Kind.
func Object(d *ObjectDescriptor) Kind { return d }

func (d *ObjectDescriptor) Deserialize(raw json.RawMessage) (interface{}, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: expected object, got %s", d.Name, string(raw))
	}

	obj := d.New()
	for _, f := range d.Fields {
		fieldRaw, present := m[f.Name]
		if base, optional := isOptional(f.Kind); optional {
			// An explicit null reads back the same as an absent field;
			// Nullable is the way to express present-and-null.
			if !present || isJSONNull(fieldRaw) {
				continue
			}
			val, err := base.Deserialize(fieldRaw)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
			}
			f.Set(obj, val)
			continue
		}
		if !present {
			return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: missing required field %q", d.Name, f.Name)
		}

		val, err := f.Kind.Deserialize(fieldRaw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
		}
		f.Set(obj, val)
	}

	return obj, nil
}

func (d *ObjectDescriptor) Serialize(val interface{}) (interface{}, error) {
	if val == nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: cannot serialize nil object", d.Name)
	}

	out := make(map[string]interface{}, len(d.Fields))
	for _, f := range d.Fields {
		fv := f.Get(val)

		if base, optional := isOptional(f.Kind); optional {
			if fv == nil {
				continue
			}
			sv, err := base.Serialize(fv)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
			}
			out[f.Name] = sv
			continue
		}

		if _, nullable := f.Kind.(nullableKind); nullable && fv == nil {
			out[f.Name] = nil
			continue
		}

		if fv == nil {
			return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s.%s: unassigned non-optional field", d.Name, f.Name)
		}

		sv, err := f.Kind.Serialize(fv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
		}
		out[f.Name] = sv
	}

	return out, nil
}

// MultiObject is a tagged sum: on deserialize it reads tagField from the raw
// object, selects the concrete descriptor from variants, and recurses; on
// serialize it writes the tag back out alongside the chosen variant's
// fields. classOf maps a concrete Go value back to its tag at serialize
// time; it is a plain function, built once per descriptor, so lookups
// are by tag name rather than by type identity.
func MultiObject(tagField string, variants map[string]*ObjectDescriptor, classOf func(obj interface{}) (tag string, ok bool)) Kind {
	return &multiObjectKind{tagField: tagField, variants: variants, classOf: classOf}
}

type multiObjectKind struct {
	tagField string
	variants map[string]*ObjectDescriptor
	classOf  func(obj interface{}) (string, bool)
}

func (k *multiObjectKind) Deserialize(raw json.RawMessage) (interface{}, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "expected tagged object, got %s", string(raw))
	}

	tagRaw, present := m[k.tagField]
	if !present {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "tagged object missing tag field %q", k.tagField)
	}

	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "tag field %q must be a string", k.tagField)
	}

	descriptor, ok := k.variants[tag]
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "unknown tag %q for field %q", tag, k.tagField)
	}

	return descriptor.Deserialize(raw)
}

func (k *multiObjectKind) Serialize(val interface{}) (interface{}, error) {
	tag, ok := k.classOf(val)
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "value of type %T has no known tag for field %q", val, k.tagField)
	}

	descriptor, ok := k.variants[tag]
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "unknown class tag %q", tag)
	}

	serialized, err := descriptor.Serialize(val)
	if err != nil {
		return nil, err
	}

	out, ok := serialized.(map[string]interface{})
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "variant %q did not serialize to an object", tag)
	}
	out[k.tagField] = tag

	return out, nil
}
