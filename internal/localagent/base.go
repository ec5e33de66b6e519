// Package localagent implements in-process agents embedded directly in
// the broker at reserved agent ids, without a socket in between: a
// small base struct any concrete agent composes, plus a statically-built
// command dispatch table instead of runtime method lookup.
package localagent

import (
	"encoding/json"

	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// Base implements broker.LocalAgent's identity and command dispatch by
// name, against handlers bound once at construction time via Bind.
type Base struct {
	id        int64
	agentType string
	agentUUID string
	handlers  map[string]*rpcdef.Handler
}

// NewBase returns an empty dispatch table for the given reserved agent
// id and well-known identity.
func NewBase(id int64, agentType, agentUUID string) *Base {
	return &Base{
		id:        id,
		agentType: agentType,
		agentUUID: agentUUID,
		handlers:  make(map[string]*rpcdef.Handler),
	}
}

func (b *Base) AgentID() int64    { return b.id }
func (b *Base) AgentType() string { return b.agentType }
func (b *Base) AgentUUID() string { return b.agentUUID }

// Bind registers h under its method's name. Call once per method during
// the concrete agent's construction; HandleCommand only ever reads the
// table afterward.
func (b *Base) Bind(h *rpcdef.Handler) {
	b.handlers[h.Method.Name] = h
}

// HandleCommand implements broker.LocalAgent.
func (b *Base) HandleCommand(ctx *rpcdef.CallContext, cmd string, raw json.RawMessage) (json.RawMessage, error) {
	h, ok := b.handlers[cmd]
	if !ok {
		return nil, wire.NewProtocolError(wire.ErrCommandNotFound, "agent %d has no command %q", b.id, cmd)
	}
	return h.Invoke(ctx, raw)
}
