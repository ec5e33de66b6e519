package api

import (
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
)

// UserDescriptor is returned by UserAgent.authUser: the principal's
// display name and the auth tier granted to the calling connection
// (wire.AuthAdmin, wire.AuthOperator or wire.AuthUser as an integer).
type UserDescriptor struct {
	Name string
	Role int64
}

var UserDescriptorDescriptor = &object.ObjectDescriptor{
	Name: "UserDescriptor",
	New:  func() interface{} { return &UserDescriptor{} },
	Fields: []object.Field{
		{Name: "name", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*UserDescriptor).Name },
			Set: func(o interface{}, v interface{}) { o.(*UserDescriptor).Name = object.Str(v) }},
		{Name: "role", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*UserDescriptor).Role },
			Set: func(o interface{}, v interface{}) { o.(*UserDescriptor).Role = object.Int64(v) }},
	},
}

// UserInterface is the entry-point interface for username/password
// authentication, reachable at agent id flow.AgentIDUser without prior
// auth.
var UserInterface = rpcdef.NewInterface("UserAgent",
	rpcdef.NewMethod("authUser", object.Object(UserDescriptorDescriptor),
		rpcdef.Arg{Name: "userName", Kind: object.String()},
		rpcdef.Arg{Name: "userPassword", Kind: object.String()},
	),
)
