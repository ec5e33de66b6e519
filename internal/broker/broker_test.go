package broker_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/myaut/tsload/api"
	"github.com/myaut/tsload/client"
	"github.com/myaut/tsload/internal/broker"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/localagent"
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/userstore"
	"github.com/myaut/tsload/internal/wire"
)

const testMasterKey = "d2f1a0be-9f41-4d70-8b86-51f4c10ad3a1"

var (
	echoMethod = rpcdef.NewMethod("echo", object.String(),
		rpcdef.Arg{Name: "s", Kind: object.String()})
	echoInterface = rpcdef.NewInterface("Echo", echoMethod)

	pingMethod    = rpcdef.NewMethod("ping", object.String())
	pingInterface = rpcdef.NewInterface("Ping", pingMethod)
)

type bus struct {
	t      *testing.T
	brk    *broker.Broker
	expsvc *localagent.ExpSvcAgent
}

func newBus(t *testing.T, extraFlows ...flow.AccessRule) *bus {
	brk := broker.New(nil, flow.DefaultListenerFlows(), 0)
	brk.AddListenerFlow(extraFlows...)

	brk.RegisterLocalAgent(localagent.NewRootAgent(testMasterKey, brk))

	store := userstore.New()
	for _, u := range []struct {
		username, name, password string
		role                     userstore.Role
	}{
		{"alice", "Alice Liddell", "wonderland", userstore.RoleUser},
		{"oscar", "Oscar Wilde", "earnest", userstore.RoleOperator},
		{"ada", "Ada Lovelace", "analytical", userstore.RoleAdmin},
	} {
		if err := store.AddUser(u.username, u.name, u.password, u.role); err != nil {
			t.Fatalf("AddUser(%s): %v", u.username, err)
		}
	}
	brk.RegisterLocalAgent(localagent.NewUserAgent(store))

	expsvc := localagent.NewExpSvcAgent(nil)
	expsvc.Attach(brk, brk.RegisterLocalAgent(expsvc))

	return &bus{t: t, brk: brk, expsvc: expsvc}
}

// serve pumps frames from conn into the broker the way brokerd's
// per-connection goroutine does.
func (b *bus) serve(conn *wire.Conn) {
	defer b.brk.Disconnect(conn)
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			return
		}
		b.brk.HandleFrame(conn, raw)
	}
}

// connect attaches a client to the bus over an in-memory pipe.
func (b *bus) connect() (*client.Client, *wire.Conn) {
	clientEnd, serverEnd := net.Pipe()
	conn := b.brk.Accept(serverEnd)
	go b.serve(conn)

	c := client.New(clientEnd, 0, nil)
	b.t.Cleanup(func() { c.Close() })
	return c, conn
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func protocolCode(t *testing.T, err error) int {
	t.Helper()
	pe, ok := err.(*wire.Error)
	if !ok {
		t.Fatalf("err = %v (%T), want *wire.Error", err, err)
	}
	return pe.Code
}

func TestHandshakeAssignsFirstRemoteID(t *testing.T) {
	b := newBus(t)
	c, conn := b.connect()

	hello, err := c.Hello(testCtx(t), "cli", "uuid-A")
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if hello.AgentID != flow.FirstRemoteID {
		t.Errorf("AgentID = %d, want %d", hello.AgentID, flow.FirstRemoteID)
	}
	if conn.State() != wire.StateEstablished {
		t.Errorf("state = %v, want ESTABLISHED", conn.State())
	}
	agentType, agentUUID := conn.AgentInfo()
	if agentType != "cli" || agentUUID != "uuid-A" {
		t.Errorf("AgentInfo = (%q, %q), want (cli, uuid-A)", agentType, agentUUID)
	}
	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d after handshake, want 0", b.brk.FlowCount())
	}
}

func TestAuthMasterKey(t *testing.T) {
	b := newBus(t)
	c, conn := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}
	if conn.AuthLevel() != wire.AuthMaster {
		t.Errorf("auth level = %v, want MASTER", conn.AuthLevel())
	}
}

func TestAuthMasterKeyRejectsWrongKey(t *testing.T) {
	b := newBus(t)
	c, conn := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	err := c.AuthMasterKey(ctx, "not-the-key")
	if code := protocolCode(t, err); code != wire.ErrInvalidData {
		t.Errorf("code = %d, want %d", code, wire.ErrInvalidData)
	}
	if conn.AuthLevel() != wire.AuthNone {
		t.Errorf("auth level = %v, want NONE", conn.AuthLevel())
	}
}

func TestUnauthenticatedCommandDenied(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	_, err := c.Proxy(flow.AgentIDExpSvc, api.ExpSvcInterface).Invoke(ctx, "listAgents", nil)
	if code := protocolCode(t, err); code != wire.ErrAccessDenied {
		t.Errorf("code = %d, want %d", code, wire.ErrAccessDenied)
	}
	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d after denied command, want 0", b.brk.FlowCount())
	}
}

func TestInvalidAgent(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	_, err := c.Proxy(99, echoInterface).Invoke(ctx, "echo", map[string]interface{}{"s": "x"})
	pe, ok := err.(*wire.Error)
	if !ok {
		t.Fatalf("err = %v (%T), want *wire.Error", err, err)
	}
	if pe.Code != wire.ErrInvalidAgent {
		t.Errorf("code = %d, want %d", pe.Code, wire.ErrInvalidAgent)
	}
	if pe.Message != "Invalid agent #99" {
		t.Errorf("message = %q, want %q", pe.Message, "Invalid agent #99")
	}
}

func TestCommandNotFound(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	_, err := c.Proxy(flow.AgentIDRoot, echoInterface).Invoke(ctx, "echo", map[string]interface{}{"s": "x"})
	if code := protocolCode(t, err); code != wire.ErrCommandNotFound {
		t.Errorf("code = %d, want %d", code, wire.ErrCommandNotFound)
	}
}

func TestExperimentLifecycle(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	expsvc := c.Proxy(flow.AgentIDExpSvc, api.ExpSvcInterface)

	desc := "ramp-up throughput"
	if _, err := expsvc.Invoke(ctx, "createExperiment", map[string]interface{}{
		"profile": &api.ExperimentProfile{
			Name:        "ramp",
			Description: &desc,
			Steps:       []string{"warm", "measure"},
		},
	}); err != nil {
		t.Fatalf("createExperiment: %v", err)
	}

	// A second create with the same name is an invalid-state error.
	_, err := expsvc.Invoke(ctx, "createExperiment", map[string]interface{}{
		"profile": &api.ExperimentProfile{Name: "ramp", Steps: []string{}},
	})
	if code := protocolCode(t, err); code != wire.ErrInvalidState {
		t.Errorf("duplicate create code = %d, want %d", code, wire.ErrInvalidState)
	}

	result, err := expsvc.Invoke(ctx, "getExperiment", map[string]interface{}{"name": "ramp"})
	if err != nil {
		t.Fatalf("getExperiment: %v", err)
	}
	profile := result.(*api.ExperimentProfile)
	if profile.Name != "ramp" || profile.Description == nil || *profile.Description != desc {
		t.Errorf("got %+v, want name=ramp description=%q", profile, desc)
	}

	missing, err := expsvc.Invoke(ctx, "getExperiment", map[string]interface{}{"name": "nope"})
	if err != nil {
		t.Fatalf("getExperiment(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("getExperiment(missing) = %v, want nil", missing)
	}

	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d after calls, want 0", b.brk.FlowCount())
	}
}

func TestAuthUserRolesAndACL(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	cases := []struct {
		username, password, name string
		wantRole                 int64
	}{
		{"alice", "wonderland", "Alice Liddell", int64(wire.AuthUser)},
		{"oscar", "earnest", "Oscar Wilde", int64(wire.AuthOperator)},
		{"ada", "analytical", "Ada Lovelace", int64(wire.AuthAdmin)},
	}
	for _, tc := range cases {
		c, _ := b.connect()
		if _, err := c.Hello(ctx, "cli", "uuid-"+tc.username); err != nil {
			t.Fatalf("Hello(%s): %v", tc.username, err)
		}
		user, err := c.AuthUser(ctx, tc.username, tc.password)
		if err != nil {
			t.Fatalf("AuthUser(%s): %v", tc.username, err)
		}
		if user.Name != tc.name || user.Role != tc.wantRole {
			t.Errorf("AuthUser(%s) = {%s %d}, want {%s %d}",
				tc.username, user.Name, user.Role, tc.name, tc.wantRole)
		}
	}

	// USER tier: read-only experiment access, no create.
	c, _ := b.connect()
	if _, err := c.Hello(ctx, "cli", "uuid-user-acl"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if _, err := c.AuthUser(ctx, "alice", "wonderland"); err != nil {
		t.Fatalf("AuthUser: %v", err)
	}
	expsvc := c.Proxy(flow.AgentIDExpSvc, api.ExpSvcInterface)
	if _, err := expsvc.Invoke(ctx, "listExperiments", nil); err != nil {
		t.Errorf("listExperiments as USER: %v", err)
	}
	_, err := expsvc.Invoke(ctx, "createExperiment", map[string]interface{}{
		"profile": &api.ExperimentProfile{Name: "x", Steps: []string{}},
	})
	if code := protocolCode(t, err); code != wire.ErrAccessDenied {
		t.Errorf("createExperiment as USER code = %d, want %d", code, wire.ErrAccessDenied)
	}

	// ADMIN tier bypasses the ACL entirely.
	c, _ = b.connect()
	if _, err := c.Hello(ctx, "cli", "uuid-admin-acl"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if _, err := c.AuthUser(ctx, "ada", "analytical"); err != nil {
		t.Fatalf("AuthUser: %v", err)
	}
	if _, err := c.ListClients(ctx); err != nil {
		t.Errorf("ListClients as ADMIN: %v", err)
	}
}

func TestAuthUserRejectsBadCredentials(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	_, err := c.AuthUser(ctx, "alice", "not-her-password")
	if code := protocolCode(t, err); code != wire.ErrInvalidData {
		t.Errorf("code = %d, want %d", code, wire.ErrInvalidData)
	}
	_, err = c.AuthUser(ctx, "nobody", "whatever")
	if code := protocolCode(t, err); code != wire.ErrInvalidData {
		t.Errorf("code = %d, want %d", code, wire.ErrInvalidData)
	}
}

func TestListClientsIncludesLocalAgents(t *testing.T) {
	b := newBus(t)
	c, _ := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	clients, err := c.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	byID := make(map[int64]*api.ClientDescriptor, len(clients))
	for _, cd := range clients {
		byID[cd.ID] = cd
	}
	root, ok := byID[flow.AgentIDRoot]
	if !ok {
		t.Fatalf("listClients misses the root agent: %v", clients)
	}
	if root.Type != "root" || root.Endpoint != "local" || root.AuthType != int64(wire.AuthMaster) {
		t.Errorf("root descriptor = %+v", root)
	}
	self, ok := byID[c.AgentID()]
	if !ok {
		t.Fatalf("listClients misses the caller itself: %v", clients)
	}
	if self.Type != "cli" || self.UUID != "uuid-A" || self.State != int64(wire.StateEstablished) {
		t.Errorf("self descriptor = %+v", self)
	}
}

func TestRemoteToRemoteCall(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	responder, _ := b.connect()
	responder.RegisterHandler(rpcdef.NewHandler(echoMethod,
		func(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
			return object.Str(args["s"]) + "!", nil
		}))
	respHello, err := responder.Hello(ctx, "load", "uuid-responder")
	if err != nil {
		t.Fatalf("responder Hello: %v", err)
	}

	caller, _ := b.connect()
	if _, err := caller.Hello(ctx, "cli", "uuid-caller"); err != nil {
		t.Fatalf("caller Hello: %v", err)
	}
	if err := caller.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	result, err := caller.Proxy(respHello.AgentID, echoInterface).Invoke(ctx, "echo",
		map[string]interface{}{"s": "hi"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if result != "hi!" {
		t.Errorf("echo = %v, want hi!", result)
	}
	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d after call, want 0", b.brk.FlowCount())
	}
}

func TestLocalAgentLoopback(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	base := localagent.NewBase(5, "monitor", "{a6a8c9e2-56c7-44f3-9e3b-dc892e01a76f}")
	base.Bind(rpcdef.NewHandler(pingMethod,
		func(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
			return "pong", nil
		}))
	lc := b.brk.RegisterLocalAgent(base)

	// A local agent calling itself crosses the same routing as any call.
	result, err := lc.Bind(5, pingInterface).Invoke(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("self ping: %v", err)
	}
	if result != "pong" {
		t.Errorf("self ping = %v, want pong", result)
	}

	// Local agent to local agent.
	names, err := lc.Bind(flow.AgentIDExpSvc, api.ExpSvcInterface).Invoke(ctx, "listExperiments", nil)
	if err != nil {
		t.Fatalf("listExperiments over loopback: %v", err)
	}
	if len(names.([]interface{})) != 0 {
		t.Errorf("listExperiments = %v, want empty", names)
	}

	// Routing errors surface on the local caller's future too.
	_, err = lc.Bind(77, pingInterface).Invoke(ctx, "ping", nil)
	if code := protocolCode(t, err); code != wire.ErrInvalidAgent {
		t.Errorf("code = %d, want %d", code, wire.ErrInvalidAgent)
	}

	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d after loopback calls, want 0", b.brk.FlowCount())
	}
}

func TestExpSvcFetchesHostInfoFromLoadAgent(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	loader, _ := b.connect()
	loader.RegisterHandler(rpcdef.NewHandler(api.LoadInterface.Methods["getHostInfo"],
		func(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
			return &api.HostInfo{
				Hostname:    "bench01",
				Domainname:  "lab",
				OSName:      "linux",
				Release:     "6.8",
				MachineArch: "x86_64",
				NumCPUs:     2,
				NumCores:    16,
				MemTotal:    64 << 30,
			}, nil
		}))
	if _, err := loader.Hello(ctx, "load", "uuid-load-1"); err != nil {
		t.Fatalf("loader Hello: %v", err)
	}

	observer, _ := b.connect()
	if _, err := observer.Hello(ctx, "cli", "uuid-observer"); err != nil {
		t.Fatalf("observer Hello: %v", err)
	}
	if err := observer.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}
	expsvc := observer.Proxy(flow.AgentIDExpSvc, api.ExpSvcInterface)

	deadline := time.Now().Add(5 * time.Second)
	for {
		result, err := expsvc.Invoke(ctx, "listAgents", nil)
		if err != nil {
			t.Fatalf("listAgents: %v", err)
		}
		agents := result.([]interface{})
		if len(agents) == 1 {
			d := agents[0].(*api.LoadAgentDescriptor)
			if d.Host != nil {
				if d.UUID != "uuid-load-1" || d.Host.Hostname != "bench01" {
					t.Errorf("descriptor = %+v host = %+v", d, d.Host)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("host info never arrived: %v", agents)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnectAbandonsPendingFlows(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	block := make(chan struct{})
	responder, _ := b.connect()
	responder.RegisterHandler(rpcdef.NewHandler(echoMethod,
		func(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
			<-block
			return "", nil
		}))
	respHello, err := responder.Hello(ctx, "load", "uuid-blocked")
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}

	caller, _ := b.connect()
	if _, err := caller.Hello(ctx, "cli", "uuid-caller"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := caller.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Fatalf("AuthMasterKey: %v", err)
	}

	callErr := make(chan error, 1)
	go func() {
		shortCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := caller.Proxy(respHello.AgentID, echoInterface).Invoke(shortCtx, "echo",
			map[string]interface{}{"s": "x"})
		callErr <- err
	}()

	waitFor(t, func() bool { return b.brk.FlowCount() == 1 })
	responder.Close()
	close(block)

	if err := <-callErr; err == nil {
		t.Errorf("call against dead responder succeeded")
	}
	waitFor(t, func() bool { return b.brk.FlowCount() == 0 })
}

func TestSweepIsIdempotentAndFiresDisconnectListeners(t *testing.T) {
	b := newBus(t)
	ctx := testCtx(t)

	disconnects := make(chan int64, 4)
	b.brk.ListenAgents(broker.AgentListener{
		AgentType: "cli",
		OnDisconnect: func(conn *wire.Conn) {
			disconnects <- conn.AgentID()
		},
	})

	c, conn := b.connect()
	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	before := b.brk.ConnCount()

	c.Close()
	waitFor(t, func() bool { return conn.State() == wire.StateDisconnected })

	b.brk.Sweep()
	b.brk.Sweep()

	if got := b.brk.ConnCount(); got != before-1 {
		t.Errorf("ConnCount = %d after sweep, want %d", got, before-1)
	}
	select {
	case id := <-disconnects:
		if id != conn.AgentID() {
			t.Errorf("disconnect listener fired for %d, want %d", id, conn.AgentID())
		}
	case <-time.After(time.Second):
		t.Fatalf("disconnect listener never fired")
	}
	select {
	case id := <-disconnects:
		t.Errorf("disconnect listener fired twice (second id %d)", id)
	default:
	}
}

func TestCommandInStateNewIsRejected(t *testing.T) {
	b := newBus(t)

	conn := wire.NewConn(nil, 0) // never accepted: still NEW
	b.brk.Process(conn, wire.NewCommand(flow.AgentIDRoot, 1, "hello", json.RawMessage(`{}`)))

	if b.brk.FlowCount() != 0 {
		t.Errorf("FlowCount = %d, want 0 for a command in state NEW", b.brk.FlowCount())
	}
}

func TestReplyWithoutFlowIsDropped(t *testing.T) {
	b := newBus(t)
	c, conn := b.connect()
	ctx := testCtx(t)

	if _, err := c.Hello(ctx, "cli", "uuid-A"); err != nil {
		t.Fatalf("Hello: %v", err)
	}

	// A response no command ever asked for: silently dropped.
	b.brk.Process(conn, wire.NewResponse(conn.AgentID(), 424242, json.RawMessage(`"stale"`)))

	// The connection keeps working afterwards.
	if err := c.AuthMasterKey(ctx, testMasterKey); err != nil {
		t.Errorf("AuthMasterKey after stale reply: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// rawPeer speaks the framed protocol directly, for asserting exact wire
// shapes.
type rawPeer struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func (b *bus) connectRaw() *rawPeer {
	clientEnd, serverEnd := net.Pipe()
	conn := b.brk.Accept(serverEnd)
	go b.serve(conn)
	b.t.Cleanup(func() { clientEnd.Close() })
	return &rawPeer{t: b.t, nc: clientEnd, r: bufio.NewReader(clientEnd)}
}

func (p *rawPeer) send(frame string) {
	p.t.Helper()
	if _, err := p.nc.Write(append([]byte(frame), 0x00)); err != nil {
		p.t.Fatalf("write frame: %v", err)
	}
}

func (p *rawPeer) recv() map[string]json.RawMessage {
	p.t.Helper()
	frame, err := p.r.ReadBytes(0x00)
	if err != nil {
		p.t.Fatalf("read frame: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(frame[:len(frame)-1], &decoded); err != nil {
		p.t.Fatalf("decode frame %q: %v", frame, err)
	}
	return decoded
}

func TestWireLevelHandshakeAndDenial(t *testing.T) {
	b := newBus(t)
	p := b.connectRaw()

	p.send(`{"agentId":0,"id":1,"cmd":"hello","msg":{"agentType":"cli","agentUuid":"uuid-A"}}`)
	reply := p.recv()
	if string(reply["agentId"]) != "8" || string(reply["id"]) != "1" {
		t.Errorf("hello reply addressing = %s/%s, want 8/1", reply["agentId"], reply["id"])
	}
	if string(reply["response"]) != `{"agentId":8}` {
		t.Errorf("hello response = %s, want {\"agentId\":8}", reply["response"])
	}
	if _, hasErr := reply["error"]; hasErr {
		t.Fatalf("hello failed: %s", reply["error"])
	}

	p.send(`{"agentId":2,"id":2,"cmd":"listAgents","msg":{}}`)
	denied := p.recv()
	var errText string
	if err := json.Unmarshal(denied["error"], &errText); err != nil {
		t.Fatalf("denied frame has no error: %v", denied)
	}
	if errText != "Access is denied" || string(denied["code"]) != "201" {
		t.Errorf("denial = %q code %s, want \"Access is denied\" code 201", errText, denied["code"])
	}
	if string(denied["agentId"]) != "8" || string(denied["id"]) != "2" {
		t.Errorf("denial addressing = %s/%s, want 8/2", denied["agentId"], denied["id"])
	}

	p.send(`{"agentId":0,"id":3,"cmd":"authMasterKey","msg":{"masterKey":"` + testMasterKey + `"}}`)
	authed := p.recv()
	if string(authed["response"]) != "null" {
		t.Errorf("authMasterKey response = %s, want null", authed["response"])
	}
}

func TestListenerFlowFanOut(t *testing.T) {
	// A second listener rule matching hello produces a second,
	// independent dispatch with its own flow.
	b := newBus(t, flow.AnySrc(flow.AgentIDRoot, "hello"))
	p := b.connectRaw()

	p.send(`{"agentId":0,"id":1,"cmd":"hello","msg":{"agentType":"cli","agentUuid":"uuid-A"}}`)
	first := p.recv()
	second := p.recv()
	for i, reply := range []map[string]json.RawMessage{first, second} {
		if string(reply["id"]) != "1" {
			t.Errorf("reply %d id = %s, want 1", i, reply["id"])
		}
		if string(reply["response"]) != `{"agentId":8}` {
			t.Errorf("reply %d response = %s", i, reply["response"])
		}
	}
}
