package localagent

import (
	"sync"

	"github.com/myaut/tsload/api"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/userstore"
	"github.com/myaut/tsload/internal/wire"
)

// Well-known identity of the user agent.
const (
	UserAgentType = "user"
	UserAgentUUID = "{2701b3b1-cd8f-457e-9bdd-2323153f16e5}"
)

// UserAgent implements username/password authentication: it resolves the
// principal in the user store, elevates the calling connection's auth
// level per the principal's role, attaches a role-scoped ACL, and
// remembers which principal each connection authenticated as.
type UserAgent struct {
	*Base
	store *userstore.Store

	mu         sync.Mutex
	principals map[int64]userstore.Principal
}

// NewUserAgent constructs the user agent backed by store.
func NewUserAgent(store *userstore.Store) *UserAgent {
	a := &UserAgent{
		Base:       NewBase(flow.AgentIDUser, UserAgentType, UserAgentUUID),
		store:      store,
		principals: make(map[int64]userstore.Principal),
	}
	a.Bind(rpcdef.NewHandler(api.UserInterface.Methods["authUser"], a.authUser))
	return a
}

// PrincipalFor reports which principal a connection authenticated as.
func (a *UserAgent) PrincipalFor(agentID int64) (userstore.Principal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.principals[agentID]
	return p, ok
}

func (a *UserAgent) authUser(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	userName := object.Str(args["userName"])
	userPassword := object.Str(args["userPassword"])

	principal, err := a.store.Authenticate(userName, userPassword)
	if err != nil {
		// ErrNoSuchUser and ErrBadPassword are deliberately folded into
		// one message: no username enumeration over the wire.
		return nil, wire.NewProtocolError(wire.ErrInvalidData, "authentication failed")
	}

	srcAgentID := ctx.Conn.AgentID()

	var level wire.AuthLevel
	switch principal.Role {
	case userstore.RoleAdmin:
		level = wire.AuthAdmin
	case userstore.RoleOperator:
		level = wire.AuthOperator
		ctx.Conn.GrantACL(
			flow.AnyCommand(srcAgentID, flow.AgentIDExpSvc),
			flow.AnyDst(srcAgentID, "getHostInfo"),
			flow.AnyDst(srcAgentID, "getWorkloadStatus"),
		)
	default:
		level = wire.AuthUser
		ctx.Conn.GrantACL(
			flow.Rule(srcAgentID, flow.AgentIDExpSvc, "listExperiments"),
			flow.Rule(srcAgentID, flow.AgentIDExpSvc, "getExperiment"),
		)
	}
	ctx.Conn.SetAuthLevel(level)

	a.mu.Lock()
	a.principals[srcAgentID] = principal
	a.mu.Unlock()

	return &api.UserDescriptor{Name: principal.Name, Role: int64(level)}, nil
}
