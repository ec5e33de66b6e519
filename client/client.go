// Package client implements the agent-side half of the wire protocol:
// dialing, the hello/authMasterKey/authUser handshake, a pending-call
// table keyed by outbound message id, and dispatch of inbound commands
// against locally registered handlers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/myaut/tsload/api"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// Client is a single connection to a broker, usable concurrently by
// multiple goroutines making calls. Agents that serve commands of their
// own (e.g. load agents answering getHostInfo) register handlers before
// the handshake; a client with no handlers rejects inbound commands with
// command-not-found.
type Client struct {
	log  *zap.Logger
	conn *wire.Conn

	agentID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*rpcdef.Future
	handlers map[string]*rpcdef.Handler
}

// New wraps an established transport (TCP socket, in-memory pipe) as a
// client and starts its read loop. The returned Client has not yet
// called hello. On a fresh, unauthenticated connection the broker's
// default listener flows admit only hello, authMasterKey and authUser.
func New(nc net.Conn, maxFrameBytes int, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	conn := wire.NewConn(nc, maxFrameBytes)
	conn.SetState(wire.StateConnected)

	c := &Client{
		log:      log,
		conn:     conn,
		pending:  make(map[int64]*rpcdef.Future),
		handlers: make(map[string]*rpcdef.Handler),
	}
	go c.readLoop()
	return c
}

// Dial opens a TCP connection to addr and returns the wrapped client.
func Dial(addr string, maxFrameBytes int, log *zap.Logger) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(nc, maxFrameBytes, log), nil
}

// AgentID returns the id the broker assigned this connection, or zero
// before Hello completes.
func (c *Client) AgentID() int64 {
	return c.agentID.Load()
}

// RegisterHandler exposes a method implementation to inbound commands.
func (c *Client) RegisterHandler(h *rpcdef.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[h.Method.Name] = h
}

// Close tears down the connection and fails every pending call.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.failAllPending(wire.NewProtocolError(wire.ErrConnectionErr, "connection closed"))
	return err
}

func (c *Client) readLoop() {
	for {
		raw, err := c.conn.ReadFrame()
		if err != nil {
			c.conn.Close()
			c.failAllPending(wire.NewProtocolError(wire.ErrConnectionErr, "connection lost: %v", err))
			return
		}

		var msg wire.Message
		if err := msg.UnmarshalJSON(raw); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		if msg.Kind == wire.KindCommand {
			go c.dispatchCommand(msg)
			continue
		}

		c.mu.Lock()
		f, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.log.Warn("dropping reply for unknown call", zap.Int64("msg_id", msg.ID))
			continue
		}

		if msg.Kind == wire.KindError {
			f.Reject(wire.NewProtocolError(msg.ErrCode, msg.ErrText))
		} else {
			f.Resolve(msg.Result)
		}
	}
}

// dispatchCommand serves one inbound command on its own goroutine, so a
// handler that issues nested calls back through the broker does not
// stall the read loop its own replies arrive on.
func (c *Client) dispatchCommand(msg wire.Message) {
	selfID := c.agentID.Load()
	// A command may race ahead of our own hello response (the broker
	// dispatches register listeners from inside hello); with no id bound
	// yet there is nothing to check the destination against.
	if selfID != 0 && msg.AgentID != selfID {
		_ = c.conn.Send(wire.NewError(selfID, msg.ID,
			fmt.Sprintf("invalid destination agent: ours is %d, received is %d", selfID, msg.AgentID),
			wire.ErrInvalidAgent))
		return
	}

	c.mu.Lock()
	h, ok := c.handlers[msg.Cmd]
	c.mu.Unlock()
	if !ok {
		_ = c.conn.Send(wire.NewError(selfID, msg.ID,
			fmt.Sprintf("agent %d has no command %q", selfID, msg.Cmd), wire.ErrCommandNotFound))
		return
	}

	ctx := &rpcdef.CallContext{MsgID: msg.ID}
	result, err := h.Invoke(ctx, msg.Args)
	if err != nil {
		pe := wire.AsError(err)
		_ = c.conn.Send(wire.NewError(selfID, msg.ID, pe.Message, pe.Code))
		return
	}
	_ = c.conn.Send(wire.NewResponse(selfID, msg.ID, result))
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, f := range c.pending {
		f.Reject(err)
		delete(c.pending, id)
	}
}

// Call implements rpcdef.Caller: it sends a command addressed to
// dstAgentID and blocks until its response or error frame arrives, or
// ctx is done.
func (c *Client) Call(ctx context.Context, dstAgentID int64, method *rpcdef.Method, kwargs map[string]interface{}) (json.RawMessage, error) {
	argsRaw, err := method.SerializeArgs(kwargs)
	if err != nil {
		return nil, err
	}

	id := c.conn.NextMsgID()
	future := rpcdef.NewFuture()

	c.mu.Lock()
	c.pending[id] = future
	c.mu.Unlock()

	if err := c.conn.Send(wire.NewCommand(dstAgentID, id, method.Name, argsRaw)); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	val, err := future.Wait(ctx)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return val.(json.RawMessage), nil
}

// Proxy returns a typed interface proxy addressed to dstAgentID over
// this connection.
func (c *Client) Proxy(dstAgentID int64, iface *rpcdef.Interface) *rpcdef.Binder {
	return rpcdef.Bind(c, dstAgentID, iface)
}

// Hello performs the entry-point handshake: it announces
// agentType/agentUUID to the root agent, moves the connection to
// ESTABLISHED and returns the agent id the broker assigned this
// connection. An empty agentUUID gets a freshly generated one; agents
// that want a stable identity across reconnects pass their own.
func (c *Client) Hello(ctx context.Context, agentType, agentUUID string) (*api.HelloResponse, error) {
	if agentUUID == "" {
		agentUUID = uuid.NewString()
	}
	result, err := c.Proxy(flow.AgentIDRoot, api.RootInterface).Invoke(ctx, "hello", map[string]interface{}{
		"agentType": agentType,
		"agentUuid": agentUUID,
	})
	if err != nil {
		return nil, err
	}
	hello := result.(*api.HelloResponse)
	c.agentID.Store(hello.AgentID)
	c.conn.SetAgentID(hello.AgentID)
	c.conn.SetState(wire.StateEstablished)
	return hello, nil
}

// AuthMasterKey authenticates the connection as MASTER.
func (c *Client) AuthMasterKey(ctx context.Context, masterKey string) error {
	_, err := c.Proxy(flow.AgentIDRoot, api.RootInterface).Invoke(ctx, "authMasterKey", map[string]interface{}{
		"masterKey": masterKey,
	})
	return err
}

// AuthUser authenticates the connection by username/password and
// returns the principal's display name and granted role tier.
func (c *Client) AuthUser(ctx context.Context, userName, userPassword string) (*api.UserDescriptor, error) {
	result, err := c.Proxy(flow.AgentIDUser, api.UserInterface).Invoke(ctx, "authUser", map[string]interface{}{
		"userName":     userName,
		"userPassword": userPassword,
	})
	if err != nil {
		return nil, err
	}
	return result.(*api.UserDescriptor), nil
}

// ListClients returns every agent currently connected to the broker, for
// connections authenticated at MASTER or ADMIN (or granted an explicit
// ACL entry for listClients).
func (c *Client) ListClients(ctx context.Context) ([]*api.ClientDescriptor, error) {
	result, err := c.Proxy(flow.AgentIDRoot, api.RootInterface).Invoke(ctx, "listClients", nil)
	if err != nil {
		return nil, err
	}
	items := result.([]interface{})
	out := make([]*api.ClientDescriptor, len(items))
	for i, item := range items {
		out[i] = item.(*api.ClientDescriptor)
	}
	return out, nil
}
