package rpcdef

import (
	"context"
	"encoding/json"
)

// HandlerFunc implements one Method's server-side behavior. It returns
// either the Go-side result value Method.Result will serialize, or a
// *Future the caller isn't ready to resolve yet (e.g. a workload agent
// waiting on a subprocess). Returning a *wire.Error as err routes an error
// frame back to the caller instead of a response.
type HandlerFunc func(ctx *CallContext, args map[string]interface{}) (interface{}, error)

// Handler binds a Method to its HandlerFunc and does the raw-JSON <->
// Go-value translation around it.
type Handler struct {
	Method *Method
	fn     HandlerFunc
}

// NewHandler wraps fn as the implementation of m.
func NewHandler(m *Method, fn HandlerFunc) *Handler {
	return &Handler{Method: m, fn: fn}
}

// Invoke deserializes raw args, runs the handler, waits out any *Future it
// returns, and serializes the result. The returned error, if any, is
// either a *wire.Error (propagate as-is) or a plain error (caller should
// wrap it as an internal-error).
func (h *Handler) Invoke(ctx *CallContext, raw json.RawMessage) (json.RawMessage, error) {
	args, err := h.Method.DeserializeArgs(raw)
	if err != nil {
		return nil, err
	}

	result, err := h.fn(ctx, args)
	if err != nil {
		return nil, err
	}

	if future, ok := result.(*Future); ok {
		result, err = future.Wait(context.Background())
		if err != nil {
			return nil, err
		}
	}

	return h.Method.SerializeResult(result)
}
