package flow

// Reserved local agent ids. Agent ids 0-7 are reserved for
// in-process agents embedded directly in the broker; remote connections
// are assigned ids sequentially starting at 8.
const (
	AgentIDRoot   int64 = 0
	AgentIDUser   int64 = 1
	AgentIDExpSvc int64 = 2
	FirstRemoteID int64 = 8
)

// DefaultListenerFlows is the broker-global ACL entry point list: the set
// of (any source, local agent, command) triples an otherwise
// unauthenticated connection is admitted to, so a fresh connection can
// reach hello on the root agent and authMasterKey/authUser before it has
// any other access.
func DefaultListenerFlows() RuleSet {
	return RuleSet{
		AnySrc(AgentIDRoot, "hello"),
		AnySrc(AgentIDRoot, "authMasterKey"),
		AnySrc(AgentIDUser, "authUser"),
	}
}
