package broker

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// localPeer pairs an in-process agent with its synthetic connection
// record and the pending-call table for calls the agent itself issues
// over the bus.
type localPeer struct {
	agent LocalAgent
	conn  *wire.Conn

	mu      sync.Mutex
	pending map[int64]*rpcdef.Future
}

// RegisterLocalAgent embeds an in-process agent at its reserved agent
// id. The agent's connection record is MASTER-authenticated at creation
// and never downgraded. The returned LocalClient lets the agent issue
// its own calls to other peers, local or remote, through the broker's
// normal routing. Must be called before the broker starts accepting
// connections.
func (b *Broker) RegisterLocalAgent(agent LocalAgent) *LocalClient {
	peer := &localPeer{
		agent:   agent,
		pending: make(map[int64]*rpcdef.Future),
	}
	peer.conn = wire.NewLocalConn(agent.AgentID(), agent.AgentType(), agent.AgentUUID(),
		func(m wire.Message) error {
			return b.deliverToLocalPeer(peer, m)
		})

	b.mu.Lock()
	b.localAgents[agent.AgentID()] = peer
	b.conns[agent.AgentID()] = peer.conn
	b.mu.Unlock()

	b.log.Info("registered local agent",
		zap.Int64("agent_id", agent.AgentID()), zap.String("agent_type", agent.AgentType()))

	return &LocalClient{b: b, peer: peer}
}

// deliverToLocalPeer is the send path of a local agent's synthetic
// connection. Commands never arrive here — the broker short-circuits
// them into dispatchLocal before delivery — so the only traffic is
// replies to calls the agent itself issued.
func (b *Broker) deliverToLocalPeer(peer *localPeer, m wire.Message) error {
	switch m.Kind {
	case wire.KindResponse:
		peer.resolve(m.ID, m.Result, nil)
	case wire.KindError:
		peer.resolve(m.ID, nil, wire.NewProtocolError(m.ErrCode, m.ErrText))
	default:
		b.log.Warn("dropping unexpected command delivered to local agent",
			zap.Int64("agent_id", peer.agent.AgentID()), zap.String("cmd", m.Cmd))
	}
	return nil
}

func (p *localPeer) addPending(msgID int64, f *rpcdef.Future) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[msgID] = f
}

func (p *localPeer) removePending(msgID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, msgID)
}

func (p *localPeer) resolve(msgID int64, result json.RawMessage, err error) {
	p.mu.Lock()
	f, ok := p.pending[msgID]
	if ok {
		delete(p.pending, msgID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		f.Reject(err)
		return
	}
	f.Resolve(result)
}

// LocalClient is the caller-side proxy of an in-process agent: its Call
// feeds a command frame into the broker's own routing instead of a
// socket, and blocks until the reply frame is routed back. It implements
// rpcdef.Caller, so typed interface proxies bind to it the same way they
// bind to a remote client connection.
type LocalClient struct {
	b    *Broker
	peer *localPeer
}

// AgentID returns the owning local agent's id.
func (lc *LocalClient) AgentID() int64 {
	return lc.peer.agent.AgentID()
}

// Call implements rpcdef.Caller.
func (lc *LocalClient) Call(ctx context.Context, dstAgentID int64, method *rpcdef.Method, kwargs map[string]interface{}) (json.RawMessage, error) {
	argsRaw, err := method.SerializeArgs(kwargs)
	if err != nil {
		return nil, err
	}

	msgID := lc.peer.conn.NextMsgID()
	future := rpcdef.NewFuture()
	lc.peer.addPending(msgID, future)

	lc.b.Process(lc.peer.conn, wire.NewCommand(dstAgentID, msgID, method.Name, argsRaw))

	val, err := future.Wait(ctx)
	if err != nil {
		lc.peer.removePending(msgID)
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return val.(json.RawMessage), nil
}

// Bind returns a typed proxy for iface addressed to dstAgentID.
func (lc *LocalClient) Bind(dstAgentID int64, iface *rpcdef.Interface) *rpcdef.Binder {
	return rpcdef.Bind(lc, dstAgentID, iface)
}
