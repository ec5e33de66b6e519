package localagent

import (
	"crypto/subtle"

	"github.com/myaut/tsload/api"
	"github.com/myaut/tsload/internal/broker"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// Well-known identity of the root agent.
const (
	RootAgentType = "root"
	RootAgentUUID = "{14f498da-a689-4341-8869-e4a292b143b6}"
)

// RootAgent implements the broker-global entry point every fresh
// connection reaches first: hello (announce identity, move CONNECTED ->
// ESTABLISHED), authMasterKey (grant MASTER), and listClients (inventory
// of connected agents, gated by the caller's own ACL like any other
// command).
type RootAgent struct {
	*Base
	masterKey string
	brk       *broker.Broker
}

// NewRootAgent constructs the root agent bound to brk's connection table
// and authenticated by masterKey (see broker.GenerateMasterKey).
func NewRootAgent(masterKey string, brk *broker.Broker) *RootAgent {
	a := &RootAgent{Base: NewBase(flow.AgentIDRoot, RootAgentType, RootAgentUUID), masterKey: masterKey, brk: brk}

	a.Bind(rpcdef.NewHandler(api.RootInterface.Methods["hello"], a.hello))
	a.Bind(rpcdef.NewHandler(api.RootInterface.Methods["authMasterKey"], a.authMasterKey))
	a.Bind(rpcdef.NewHandler(api.RootInterface.Methods["listClients"], a.listClients))

	return a
}

func (a *RootAgent) hello(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	agentType := object.Str(args["agentType"])
	agentUUID := object.Str(args["agentUuid"])

	ctx.Conn.SetAgentInfo(agentType, agentUUID)
	ctx.Conn.SetState(wire.StateEstablished)

	a.brk.NotifyAgentRegister(ctx.Conn)

	return &api.HelloResponse{AgentID: ctx.Conn.AgentID()}, nil
}

func (a *RootAgent) authMasterKey(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	key := object.Str(args["masterKey"])
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.masterKey)) != 1 {
		return nil, wire.NewProtocolError(wire.ErrInvalidData, "Master key invalid")
	}
	ctx.Conn.SetAuthLevel(wire.AuthMaster)
	return nil, nil
}

func (a *RootAgent) listClients(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	conns := a.brk.ListConnections()
	out := make([]interface{}, 0, len(conns))
	for _, c := range conns {
		out = append(out, &api.ClientDescriptor{
			ID:       c.AgentID,
			Type:     c.AgentType,
			UUID:     c.AgentUUID,
			AuthType: int64(c.AuthLevel),
			State:    int64(c.State),
			Endpoint: c.Endpoint,
		})
	}
	return out, nil
}
