package broker

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// HandleFrame decodes one raw frame received on conn and routes it.
// Malformed frames produce a message-format error frame addressed back
// to the sender rather than closing the connection.
func (b *Broker) HandleFrame(conn *wire.Conn, raw []byte) {
	var msg wire.Message
	if err := msg.UnmarshalJSON(raw); err != nil {
		b.sendError(conn, 0, wire.ErrMessageFormat, "%v", err)
		return
	}
	b.Process(conn, msg)
}

// Process routes one decoded message arriving on src. Commands are
// forwarded per the listener-flow/ACL rules; responses and errors are
// matched against the flow table and rewritten back to their original
// caller. This is also the entry point local agents' outbound calls feed
// into, so a call between two in-process agents crosses the same
// routing, flow and listener machinery as any remote call.
func (b *Broker) Process(src *wire.Conn, msg wire.Message) {
	if msg.Kind == wire.KindCommand {
		b.routeCommand(src, msg)
		return
	}
	b.routeReply(src, msg)
}

// sendError synthesizes an error frame back to the source of a command.
// The frame carries the source's own agent id and the message id the
// source chose, so its pending call resolves.
func (b *Broker) sendError(src *wire.Conn, msgID int64, code int, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	b.log.Debug("routing error",
		zap.Int64("agent_id", src.AgentID()), zap.Int64("msg_id", msgID),
		zap.Int("code", code), zap.String("error", text))
	_ = src.Send(wire.NewError(src.AgentID(), msgID, text, code))
}

// checkACL reports whether an authenticated source may route command to
// dstAgentID. MASTER and ADMIN connections bypass the rule set entirely;
// OPERATOR and USER go through the per-connection grants.
func (b *Broker) checkACL(src *wire.Conn, srcAgentID, dstAgentID int64, command string) bool {
	switch src.AuthLevel() {
	case wire.AuthMaster, wire.AuthAdmin:
		return true
	}
	return src.ACL().Allows(srcAgentID, dstAgentID, command)
}

func (b *Broker) routeCommand(src *wire.Conn, msg wire.Message) {
	srcAgentID := src.AgentID()

	switch src.State() {
	case wire.StateConnected, wire.StateEstablished:
	default:
		b.sendError(src, msg.ID, wire.ErrInvalidState, "connection state is %s", src.State())
		return
	}

	dst, ok := b.connFor(msg.AgentID)
	if !ok || dst.State() == wire.StateDisconnected {
		b.sendError(src, msg.ID, wire.ErrInvalidAgent, "Invalid agent #%d", msg.AgentID)
		return
	}

	// Unauthenticated peers may only reach listener-flow entry points.
	// Every matching listener rule produces its own flow and its own
	// delivery; a handler behind two matching rules sees the command
	// twice.
	if src.AuthLevel() == wire.AuthNone {
		matched := false
		for _, rule := range b.listenerFlows {
			if !rule.Matches(srcAgentID, msg.AgentID, msg.Cmd) {
				continue
			}
			matched = true
			b.forward(src, dst, msg)
		}
		if !matched {
			b.sendError(src, msg.ID, wire.ErrAccessDenied, "Access is denied")
		}
		return
	}

	if !b.checkACL(src, srcAgentID, msg.AgentID, msg.Cmd) {
		b.sendError(src, msg.ID, wire.ErrAccessDenied, "Access is denied")
		return
	}
	b.forward(src, dst, msg)
}

// forward records the flow for one command delivery, rewrites the
// message id to a freshly allocated one from the broker's shared
// generator, and hands the command to the destination. The flow is in
// the table before the command leaves, so a response racing back cannot
// miss it.
func (b *Broker) forward(src, dst *wire.Conn, msg wire.Message) {
	dstMsgID := b.nextDstMsgID()
	f := flow.Flow{
		SrcAgentID: src.AgentID(),
		DstAgentID: msg.AgentID,
		Command:    msg.Cmd,
		SrcMsgID:   msg.ID,
		DstMsgID:   dstMsgID,
	}
	b.flows.Add(f)
	b.log.Debug("routed command",
		zap.Int64("src", f.SrcAgentID), zap.Int64("dst", f.DstAgentID),
		zap.String("cmd", f.Command),
		zap.Int64("src_msg", f.SrcMsgID), zap.Int64("dst_msg", f.DstMsgID))

	fwd := msg
	fwd.ID = dstMsgID

	if peer, ok := b.localPeerFor(msg.AgentID); ok {
		go b.dispatchLocal(src, peer, fwd)
		return
	}

	if err := dst.Send(fwd); err != nil {
		if popped, ok := b.flows.Pop(f.DstAgentID, f.DstMsgID); ok {
			b.sendError(src, popped.SrcMsgID, wire.ErrConnectionErr,
				"cannot deliver to agent #%d: %v", f.DstAgentID, err)
		}
	}
}

// dispatchLocal runs a forwarded command against an in-process agent and
// feeds the reply back through Process under the local agent's own
// connection, so the flow table pairs it with the original caller the
// same way it would for a remote responder. Runs on its own goroutine: a
// handler that itself issues calls through the bus suspends here without
// stalling other traffic.
func (b *Broker) dispatchLocal(src *wire.Conn, peer *localPeer, msg wire.Message) {
	ctx := &rpcdef.CallContext{Conn: src, MsgID: msg.ID}

	result, err := func() (result json.RawMessage, err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic in local agent handler",
					zap.Int64("agent_id", peer.agent.AgentID()), zap.String("cmd", msg.Cmd),
					zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = wire.NewProtocolError(wire.ErrInternal, "internal error in %s", msg.Cmd)
			}
		}()
		return peer.agent.HandleCommand(ctx, msg.Cmd, msg.Args)
	}()

	var reply wire.Message
	if err != nil {
		pe := wire.AsError(err)
		if pe.Code == wire.ErrInternal {
			b.log.Error("local agent handler failed",
				zap.Int64("agent_id", peer.agent.AgentID()), zap.String("cmd", msg.Cmd),
				zap.Error(err))
		}
		reply = wire.NewError(src.AgentID(), msg.ID, pe.Message, pe.Code)
	} else {
		reply = wire.NewResponse(src.AgentID(), msg.ID, result)
	}
	b.Process(peer.conn, reply)
}

// routeReply pops the flow a response or error frame completes, rewrites
// the frame's addressing back to the original caller's agent id and
// message id, and delivers it. A reply with no matching flow is dropped:
// the originator is gone or the flow was never valid.
func (b *Broker) routeReply(src *wire.Conn, msg wire.Message) {
	f, ok := b.flows.Pop(src.AgentID(), msg.ID)
	if !ok {
		if ce := b.log.Check(b.DroppedReplyLogLevel, "dropping reply for unknown flow"); ce != nil {
			ce.Write(zap.Int64("agent_id", src.AgentID()), zap.Int64("msg_id", msg.ID))
		}
		return
	}

	caller, ok := b.connFor(f.SrcAgentID)
	if !ok {
		return
	}

	out := msg
	out.AgentID = f.SrcAgentID
	out.ID = f.SrcMsgID
	_ = caller.Send(out)
}
