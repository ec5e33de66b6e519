package flow

import "sync"

// Flow records one in-flight routed command: it remembers which
// connection and message id to send the eventual response or error frame
// back to, and the message id it was rewritten to on the destination
// side.
type Flow struct {
	SrcAgentID int64
	DstAgentID int64
	Command    string
	SrcMsgID   int64
	DstMsgID   int64
}

// key is the lookup key a response/error frame arrives under: the
// destination agent that sent the original command saw it addressed to
// itself, and rewrote the reply with the msg-id it was given.
type key struct {
	dstAgentID int64
	dstMsgID   int64
}

// Table is a broker-wide map from (dst-agent-id, dst-msg-id) to the Flow
// that was created when the original command was routed. It is safe for
// concurrent use: commands and their eventual responses may be handled on
// different connection goroutines.
type Table struct {
	mu    sync.Mutex
	flows map[key]Flow
}

// NewTable returns an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[key]Flow)}
}

// Add records a newly routed command's Flow.
func (t *Table) Add(f Flow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flows[key{f.DstAgentID, f.DstMsgID}] = f
}

// Pop looks up and removes the Flow for a response or error arriving from
// dstAgentID addressed to dstMsgID. ok is false if no such flow is
// pending — the frame is stale or forged.
func (t *Table) Pop(dstAgentID, dstMsgID int64) (Flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{dstAgentID, dstMsgID}
	f, ok := t.flows[k]
	if ok {
		delete(t.flows, k)
	}
	return f, ok
}

// DropAll removes every Flow whose source or destination is agentID,
// called when that agent's connection is torn down, and returns them.
// The flows are abandoned: no frame is sent to the side still alive.
func (t *Table) DropAll(agentID int64) []Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []Flow
	for k, f := range t.flows {
		if f.SrcAgentID == agentID || f.DstAgentID == agentID {
			dropped = append(dropped, f)
			delete(t.flows, k)
		}
	}
	return dropped
}

// Len reports the number of in-flight flows, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}
