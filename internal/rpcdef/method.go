// Package rpcdef implements the method/interface descriptor facade: a
// static declaration of a method's named, typed arguments and typed
// result, used both to synthesize caller-side method proxies (see Bind
// and Binder) and to wrap server-side handlers (see Handler). Descriptors
// are built once per process, not discovered by walking struct fields at
// call time.
package rpcdef

import (
	"encoding/json"
	"fmt"

	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/wire"
)

// Arg names one named, typed argument of a Method, in wire-order.
type Arg struct {
	Name string
	Kind object.Kind
}

// Method is (named typed arguments, typed result). Result defaults to
// object.Null() when a
// method returns nothing meaningful (e.g. authMasterKey).
type Method struct {
	Name   string
	Args   []Arg
	Result object.Kind
}

// NewMethod declares a method. result may be nil, meaning Null().
func NewMethod(name string, result object.Kind, args ...Arg) *Method {
	if result == nil {
		result = object.Null()
	}
	return &Method{Name: name, Args: args, Result: result}
}

// SerializeArgs converts a Go-side named argument map into the wire `msg`
// object (encoding/json emits its keys in sorted order, not the declared
// argument order). Missing arguments are only tolerated for
// Optional-kinded args.
func (m *Method) SerializeArgs(kwargs map[string]interface{}) (json.RawMessage, error) {
	out := make(map[string]interface{}, len(m.Args))
	for _, a := range m.Args {
		v, present := kwargs[a.Name]
		if !present {
			if _, optional := isOptionalArg(a.Kind); optional {
				continue
			}
			return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: missing argument %q", m.Name, a.Name)
		}
		sv, err := a.Kind.Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %q: %w", m.Name, a.Name, err)
		}
		out[a.Name] = sv
	}
	return json.Marshal(out)
}

// DeserializeArgs converts a wire `msg` object back into a Go-side named
// argument map, keyed exactly by the method's declared argument names.
func (m *Method) DeserializeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: msg must be a dictionary, not %s", m.Name, string(raw))
	}

	out := make(map[string]interface{}, len(m.Args))
	for _, a := range m.Args {
		argRaw, present := in[a.Name]
		if !present {
			if _, optional := isOptionalArg(a.Kind); optional {
				continue
			}
			return nil, wire.NewProtocolError(wire.ErrMessageFormat, "%s: missing argument %q", m.Name, a.Name)
		}
		v, err := a.Kind.Deserialize(argRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %q: %w", m.Name, a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

// SerializeResult converts a handler's Go-side result into the wire
// `response` value.
func (m *Method) SerializeResult(val interface{}) (json.RawMessage, error) {
	sv, err := m.Result.Serialize(val)
	if err != nil {
		return nil, fmt.Errorf("%s: result: %w", m.Name, err)
	}
	return json.Marshal(sv)
}

// DeserializeResult converts a wire `response` value into the Go-side
// result a caller's method proxy returns.
func (m *Method) DeserializeResult(raw json.RawMessage) (interface{}, error) {
	return m.Result.Deserialize(raw)
}

// Interface is an ordered, named set of methods. The api package declares
// one per agent role; caller-side proxies (Binder) and the server dispatch
// tables of internal/localagent are built from them.
type Interface struct {
	Name    string
	Methods map[string]*Method
	order   []string
}

// NewInterface declares an interface from an ordered method list.
func NewInterface(name string, methods ...*Method) *Interface {
	iface := &Interface{Name: name, Methods: make(map[string]*Method, len(methods))}
	for _, m := range methods {
		iface.Methods[m.Name] = m
		iface.order = append(iface.order, m.Name)
	}
	return iface
}

// Method looks up a declared method by name.
func (i *Interface) Method(name string) (*Method, bool) {
	m, ok := i.Methods[name]
	return m, ok
}

func isOptionalArg(k object.Kind) (object.Kind, bool) {
	return object.IsOptional(k)
}
