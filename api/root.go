// Package api declares the broker's typed RPC surface: one
// *rpcdef.Interface per agent role (root, user, experiment service,
// load), each built once from ObjectDescriptor/Kind values.
// internal/localagent binds handlers to these interfaces' methods;
// client wraps them as typed caller-side proxies.
package api

import (
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
)

// HelloResponse is returned by RootAgent.hello: the agent id the broker
// assigned this connection.
type HelloResponse struct {
	AgentID int64
}

var HelloResponseDescriptor = &object.ObjectDescriptor{
	Name: "HelloResponse",
	New:  func() interface{} { return &HelloResponse{} },
	Fields: []object.Field{
		{Name: "agentId", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*HelloResponse).AgentID },
			Set: func(o interface{}, v interface{}) { o.(*HelloResponse).AgentID = object.Int64(v) }},
	},
}

// ClientDescriptor is one entry of RootAgent.listClients' result: the
// identity, connection state and auth level of a connected agent, local
// agents included.
type ClientDescriptor struct {
	ID       int64
	Type     string
	UUID     string
	AuthType int64
	State    int64
	Endpoint string
}

var ClientDescriptorDescriptor = &object.ObjectDescriptor{
	Name: "ClientDescriptor",
	New:  func() interface{} { return &ClientDescriptor{} },
	Fields: []object.Field{
		{Name: "id", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).ID },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).ID = object.Int64(v) }},
		{Name: "type", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).Type },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).Type = object.Str(v) }},
		{Name: "uuid", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).UUID },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).UUID = object.Str(v) }},
		{Name: "authType", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).AuthType },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).AuthType = object.Int64(v) }},
		{Name: "state", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).State },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).State = object.Int64(v) }},
		{Name: "endpoint", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*ClientDescriptor).Endpoint },
			Set: func(o interface{}, v interface{}) { o.(*ClientDescriptor).Endpoint = object.Str(v) }},
	},
}

// RootInterface is the entry-point interface every fresh connection
// reaches at agent id flow.AgentIDRoot via the default listener flows:
// hello and authMasterKey need no prior authentication, listClients does.
var RootInterface = rpcdef.NewInterface("RootAgent",
	rpcdef.NewMethod("hello", object.Object(HelloResponseDescriptor),
		rpcdef.Arg{Name: "agentType", Kind: object.String()},
		rpcdef.Arg{Name: "agentUuid", Kind: object.String()},
	),
	rpcdef.NewMethod("authMasterKey", nil,
		rpcdef.Arg{Name: "masterKey", Kind: object.String()},
	),
	rpcdef.NewMethod("listClients", object.Array(object.Object(ClientDescriptorDescriptor))),
)
