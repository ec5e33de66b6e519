// Package broker implements the message broker: the connection table,
// the local agent registry, command routing with flow bookkeeping, and
// the listener mechanisms that admit unauthenticated peers and notify
// interested parties of peer lifecycle events.
package broker

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// LocalAgent is implemented by in-process agents embedded directly in the
// broker at a reserved agent id (root, user, experiment service). Defined
// here, in the lower package, so broker never imports internal/localagent
// and the dependency only runs one way.
type LocalAgent interface {
	AgentID() int64
	AgentType() string
	AgentUUID() string
	HandleCommand(ctx *rpcdef.CallContext, cmd string, raw json.RawMessage) (json.RawMessage, error)
}

// AgentListener subscribes to lifecycle events of peers of one agent
// type: OnRegister fires when such a peer completes hello, OnDisconnect
// when its connection is swept. Either callback may be nil.
type AgentListener struct {
	AgentType    string
	OnRegister   func(conn *wire.Conn)
	OnDisconnect func(conn *wire.Conn)
}

// Broker is the shared routing fabric: the connection table (remote
// peers and local agents alike), the local agent registry, the in-flight
// flow table, the broker-global listener-flow rules every fresh
// connection is admitted to before it authenticates, and the agent
// listener subscriptions.
type Broker struct {
	log *zap.Logger

	// DroppedReplyLogLevel is the level at which a response or error
	// frame with no matching flow is logged. Such frames are dropped
	// either way; how loudly is deployment policy.
	DroppedReplyLogLevel zapcore.Level

	mu             sync.RWMutex
	conns          map[int64]*wire.Conn
	localAgents    map[int64]*localPeer
	listenerAgents []AgentListener

	nextAgentID int64
	nextMsgID   int64

	flows         *flow.Table
	listenerFlows flow.RuleSet

	maxFrameBytes int
}

// New constructs an empty Broker. listenerFlows is typically
// flow.DefaultListenerFlows(), overridable for tests.
func New(log *zap.Logger, listenerFlows flow.RuleSet, maxFrameBytes int) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		log:                  log,
		DroppedReplyLogLevel: zapcore.DebugLevel,
		conns:                make(map[int64]*wire.Conn),
		localAgents:          make(map[int64]*localPeer),
		nextAgentID:          flow.FirstRemoteID - 1,
		flows:                flow.NewTable(),
		listenerFlows:        listenerFlows,
		maxFrameBytes:        maxFrameBytes,
	}
}

// nextDstMsgID allocates the next rewrite id from the broker's shared
// outbound message id generator.
func (b *Broker) nextDstMsgID() int64 {
	return atomic.AddInt64(&b.nextMsgID, 1)
}

// AddListenerFlow appends broker-global allow rules for unauthenticated
// peers. Must be called before the broker starts accepting connections.
func (b *Broker) AddListenerFlow(rules ...flow.AccessRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listenerFlows = append(b.listenerFlows, rules...)
}

// ListenAgents subscribes to register/disconnect events for peers of the
// given agent type.
func (b *Broker) ListenAgents(l AgentListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listenerAgents = append(b.listenerAgents, l)
}

// NotifyAgentRegister fires register listeners for a peer that has just
// completed hello. Called by the root agent once the peer's type and
// uuid are bound.
func (b *Broker) NotifyAgentRegister(conn *wire.Conn) {
	agentType, _ := conn.AgentInfo()
	b.mu.RLock()
	listeners := make([]AgentListener, len(b.listenerAgents))
	copy(listeners, b.listenerAgents)
	b.mu.RUnlock()
	for _, l := range listeners {
		if l.AgentType == agentType && l.OnRegister != nil {
			l.OnRegister(conn)
		}
	}
}

func (b *Broker) notifyAgentDisconnect(conn *wire.Conn) {
	agentType, _ := conn.AgentInfo()
	b.mu.RLock()
	listeners := make([]AgentListener, len(b.listenerAgents))
	copy(listeners, b.listenerAgents)
	b.mu.RUnlock()
	for _, l := range listeners {
		if l.AgentType == agentType && l.OnDisconnect != nil {
			l.OnDisconnect(conn)
		}
	}
}

// Accept wraps a freshly accepted net.Conn, assigns it the next remote
// agent id and registers it in the connection table in state CONNECTED.
func (b *Broker) Accept(nc net.Conn) *wire.Conn {
	conn := wire.NewConn(nc, b.maxFrameBytes)
	id := atomic.AddInt64(&b.nextAgentID, 1)
	conn.SetAgentID(id)
	conn.SetState(wire.StateConnected)

	b.mu.Lock()
	b.conns[id] = conn
	b.mu.Unlock()

	b.log.Info("agent connected", zap.Int64("agent_id", id), zap.String("endpoint", conn.Endpoint()))
	return conn
}

// Disconnect marks a connection DISCONNECTED and abandons its in-flight
// flows. The connection record itself stays in the table until the next
// cleanup tick removes it and fires disconnect listeners.
func (b *Broker) Disconnect(conn *wire.Conn) {
	id := conn.AgentID()
	conn.Close()

	if dropped := b.flows.DropAll(id); len(dropped) > 0 {
		b.log.Debug("abandoned flows of disconnected agent",
			zap.Int64("agent_id", id), zap.Int("flows", len(dropped)))
	}

	b.log.Info("agent disconnected", zap.Int64("agent_id", id))
}

func (b *Broker) connFor(agentID int64) (*wire.Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[agentID]
	return c, ok
}

func (b *Broker) localPeerFor(agentID int64) (*localPeer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.localAgents[agentID]
	return p, ok
}

// ConnCount reports the number of connections still in the table,
// including local agents, for tests and diagnostics.
func (b *Broker) ConnCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// FlowCount reports the number of in-flight flows.
func (b *Broker) FlowCount() int {
	return b.flows.Len()
}

// ClientInfo is the broker's view of one connection, local agents
// included, as reported by the root agent's listClients call.
type ClientInfo struct {
	AgentID   int64
	AgentType string
	AgentUUID string
	State     wire.State
	Endpoint  string
	AuthLevel wire.AuthLevel
}

// ListConnections snapshots every connection's identity and state.
func (b *Broker) ListConnections() []ClientInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ClientInfo, 0, len(b.conns))
	for id, c := range b.conns {
		agentType, agentUUID := c.AgentInfo()
		out = append(out, ClientInfo{
			AgentID:   id,
			AgentType: agentType,
			AgentUUID: agentUUID,
			State:     c.State(),
			Endpoint:  c.Endpoint(),
			AuthLevel: c.AuthLevel(),
		})
	}
	return out
}

// Sweep removes DISCONNECTED connections from the table, firing
// disconnect listeners and dropping any flows that still reference them.
// Running it twice with no new disconnects has no effect.
func (b *Broker) Sweep() {
	b.mu.Lock()
	var dead []*wire.Conn
	for id, c := range b.conns {
		if c.State() == wire.StateDisconnected {
			dead = append(dead, c)
			delete(b.conns, id)
		}
	}
	b.mu.Unlock()

	for _, c := range dead {
		b.flows.DropAll(c.AgentID())
		b.notifyAgentDisconnect(c)
		b.log.Info("cleaned client", zap.Int64("agent_id", c.AgentID()))
	}
}

// RunSweeper runs Sweep on interval until stop is closed.
func (b *Broker) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.Sweep()
		case <-stop:
			return
		}
	}
}
