// Package flow implements the broker's routing bookkeeping: the access
// control rule language (AccessRule), in-flight call records (Flow) keyed
// by destination (agent, msg-id), and the listener-flow mechanism that
// admits unauthenticated peers to specific entry-point commands.
package flow

// AccessRule wildcard-matches a routed command by source agent,
// destination agent and command name. A zero value field (SrcAgentID == 0
// with SrcAny, etc.) means "any" for that dimension, spelled out as
// explicit bools since agent-id 0 (the root agent) is itself a valid,
// non-wildcard id.
type AccessRule struct {
	SrcAgentID int64
	SrcAny     bool

	DstAgentID int64
	DstAny     bool

	Command string
	CmdAny   bool
}

// Rule builds a fully-specified AccessRule.
func Rule(srcAgentID, dstAgentID int64, command string) AccessRule {
	return AccessRule{SrcAgentID: srcAgentID, DstAgentID: dstAgentID, Command: command}
}

// AnySrc builds an AccessRule matching any source agent.
func AnySrc(dstAgentID int64, command string) AccessRule {
	return AccessRule{SrcAny: true, DstAgentID: dstAgentID, Command: command}
}

// AnyDst builds an AccessRule matching any destination agent.
func AnyDst(srcAgentID int64, command string) AccessRule {
	return AccessRule{SrcAgentID: srcAgentID, DstAny: true, Command: command}
}

// AnyCommand builds an AccessRule matching any command between two agents.
func AnyCommand(srcAgentID, dstAgentID int64) AccessRule {
	return AccessRule{SrcAgentID: srcAgentID, DstAgentID: dstAgentID, CmdAny: true}
}

// Matches reports whether the rule admits a command routed from
// srcAgentID to dstAgentID.
func (r AccessRule) Matches(srcAgentID, dstAgentID int64, command string) bool {
	if !r.SrcAny && r.SrcAgentID != srcAgentID {
		return false
	}
	if !r.DstAny && r.DstAgentID != dstAgentID {
		return false
	}
	if !r.CmdAny && r.Command != command {
		return false
	}
	return true
}

// RuleSet is an ordered list of AccessRules, used for a per-connection
// ACL and for the broker-global listener-flow list. Every rule is an
// allow rule.
type RuleSet []AccessRule

// Allows reports whether any rule in the set admits the command. The
// broker's listener-flow routing does not use it: it forwards the command
// once per matching rule.
func (rs RuleSet) Allows(srcAgentID, dstAgentID int64, command string) bool {
	for _, r := range rs {
		if r.Matches(srcAgentID, dstAgentID, command) {
			return true
		}
	}
	return false
}
