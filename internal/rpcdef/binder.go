package rpcdef

import (
	"context"
	"encoding/json"

	"github.com/myaut/tsload/internal/wire"
)

// Caller sends a command addressed to dstAgentID and returns its raw
// wire result (or an error, typically a *wire.Error). client.Client
// implements this against a live connection; tests can fake it.
type Caller interface {
	Call(ctx context.Context, dstAgentID int64, method *Method, args map[string]interface{}) (json.RawMessage, error)
}

// Binder is a bound (Caller, destination agent, Interface) triple. Callers
// pass a method name and a kwargs map to Invoke; the method is looked up
// in the interface and its result decoded through the method's Result
// kind. There are no generated per-method Go wrappers.
type Binder struct {
	caller     Caller
	dstAgentID int64
	iface      *Interface
}

// Bind constructs a Binder for iface's methods, addressed to dstAgentID
// over caller.
func Bind(caller Caller, dstAgentID int64, iface *Interface) *Binder {
	return &Binder{caller: caller, dstAgentID: dstAgentID, iface: iface}
}

// Invoke calls the named method with kwargs and returns its decoded
// result.
func (b *Binder) Invoke(ctx context.Context, methodName string, kwargs map[string]interface{}) (interface{}, error) {
	m, ok := b.iface.Method(methodName)
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrCommandNotFound, "%s has no method %q", b.iface.Name, methodName)
	}
	raw, err := b.caller.Call(ctx, b.dstAgentID, m, kwargs)
	if err != nil {
		return nil, err
	}
	return m.DeserializeResult(raw)
}
