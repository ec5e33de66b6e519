package rpcdef

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/wire"
)

func TestHandlerInvokeSynchronous(t *testing.T) {
	m := NewMethod("double", object.Int(), Arg{Name: "n", Kind: object.Int()})
	h := NewHandler(m, func(ctx *CallContext, args map[string]interface{}) (interface{}, error) {
		return object.Int64(args["n"]) * 2, nil
	})

	raw, err := h.Invoke(nil, json.RawMessage(`{"n":21}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(raw) != "42" {
		t.Errorf("result = %s, want 42", raw)
	}
}

func TestHandlerInvokeWaitsOnFuture(t *testing.T) {
	m := NewMethod("delayed", object.String(), Arg{Name: "s", Kind: object.String()})
	h := NewHandler(m, func(ctx *CallContext, args map[string]interface{}) (interface{}, error) {
		f := NewFuture()
		go func() {
			time.Sleep(time.Millisecond)
			f.Resolve(object.Str(args["s"]) + "!")
		}()
		return f, nil
	})

	raw, err := h.Invoke(nil, json.RawMessage(`{"s":"hi"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(raw) != `"hi!"` {
		t.Errorf("result = %s, want \"hi!\"", raw)
	}
}

func TestHandlerInvokePropagatesProtocolError(t *testing.T) {
	m := NewMethod("fails", nil)
	h := NewHandler(m, func(ctx *CallContext, args map[string]interface{}) (interface{}, error) {
		return nil, wire.NewProtocolError(wire.ErrAccessDenied, "nope")
	})

	_, err := h.Invoke(nil, json.RawMessage(`{}`))
	pe, ok := err.(*wire.Error)
	if !ok {
		t.Fatalf("err = %T, want *wire.Error", err)
	}
	if pe.Code != wire.ErrAccessDenied {
		t.Errorf("Code = %d, want %d", pe.Code, wire.ErrAccessDenied)
	}
}
