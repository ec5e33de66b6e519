package localagent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myaut/tsload/api"
	"github.com/myaut/tsload/internal/broker"
	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

// Well-known identity of the experiment service agent.
const (
	ExpSvcAgentType = "expsvc"
	ExpSvcAgentUUID = "{8390b21d-3abb-4de6-a3df-0ccd164908ee}"
)

// hostInfoTimeout bounds the inventory call issued to a freshly
// registered load agent.
const hostInfoTimeout = 30 * time.Second

type loadAgentRecord struct {
	agentID int64
	uuid    string
	host    *api.HostInfo
}

// ExpSvcAgent is the experiment service: it stores workload profiles
// and tracks connected load agents. When a load agent registers, the
// service calls back to it over the bus for its host inventory — the
// outbound leg of the local agent embedding, crossing the same routing
// and flow machinery as any remote call.
type ExpSvcAgent struct {
	*Base
	log    *zap.Logger
	client *broker.LocalClient

	mu         sync.Mutex
	profiles   map[string]*api.ExperimentProfile
	loadAgents map[string]*loadAgentRecord
}

// NewExpSvcAgent constructs the experiment service agent.
func NewExpSvcAgent(log *zap.Logger) *ExpSvcAgent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &ExpSvcAgent{
		Base:       NewBase(flow.AgentIDExpSvc, ExpSvcAgentType, ExpSvcAgentUUID),
		log:        log,
		profiles:   make(map[string]*api.ExperimentProfile),
		loadAgents: make(map[string]*loadAgentRecord),
	}

	a.Bind(rpcdef.NewHandler(api.ExpSvcInterface.Methods["createExperiment"], a.createExperiment))
	a.Bind(rpcdef.NewHandler(api.ExpSvcInterface.Methods["getExperiment"], a.getExperiment))
	a.Bind(rpcdef.NewHandler(api.ExpSvcInterface.Methods["listExperiments"], a.listExperiments))
	a.Bind(rpcdef.NewHandler(api.ExpSvcInterface.Methods["listAgents"], a.listAgents))

	return a
}

// Attach binds the agent to its broker-side client proxy and subscribes
// to load agent lifecycle events. Call after RegisterLocalAgent.
func (a *ExpSvcAgent) Attach(brk *broker.Broker, client *broker.LocalClient) {
	a.client = client
	brk.ListenAgents(broker.AgentListener{
		AgentType:    "load",
		OnRegister:   a.onLoadAgentRegister,
		OnDisconnect: a.onLoadAgentDisconnect,
	})
}

func (a *ExpSvcAgent) onLoadAgentRegister(conn *wire.Conn) {
	agentID := conn.AgentID()
	_, agentUUID := conn.AgentInfo()

	a.mu.Lock()
	if _, dup := a.loadAgents[agentUUID]; dup {
		a.mu.Unlock()
		a.log.Warn("load agent re-registered without disconnect",
			zap.String("agent_uuid", agentUUID), zap.Int64("agent_id", agentID))
		return
	}
	a.loadAgents[agentUUID] = &loadAgentRecord{agentID: agentID, uuid: agentUUID}
	a.mu.Unlock()

	a.log.Info("registered load agent",
		zap.String("agent_uuid", agentUUID), zap.Int64("agent_id", agentID))

	// The register listener fires from inside the hello dispatch; fetch
	// the inventory on a fresh goroutine so hello's own response is not
	// held up behind our call to the still-handshaking peer.
	go a.fetchHostInfo(agentID, agentUUID)
}

func (a *ExpSvcAgent) fetchHostInfo(agentID int64, agentUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), hostInfoTimeout)
	defer cancel()

	proxy := a.client.Bind(agentID, api.LoadInterface)
	result, err := proxy.Invoke(ctx, "getHostInfo", nil)
	if err != nil {
		a.log.Warn("getHostInfo failed",
			zap.String("agent_uuid", agentUUID), zap.Int64("agent_id", agentID), zap.Error(err))
		return
	}
	host := result.(*api.HostInfo)

	a.mu.Lock()
	if rec, ok := a.loadAgents[agentUUID]; ok && rec.agentID == agentID {
		rec.host = host
	}
	a.mu.Unlock()

	a.log.Info("load agent inventory",
		zap.String("agent_uuid", agentUUID), zap.String("hostname", host.Hostname))
}

func (a *ExpSvcAgent) onLoadAgentDisconnect(conn *wire.Conn) {
	_, agentUUID := conn.AgentInfo()

	a.mu.Lock()
	if rec, ok := a.loadAgents[agentUUID]; ok && rec.agentID == conn.AgentID() {
		delete(a.loadAgents, agentUUID)
	}
	a.mu.Unlock()

	a.log.Info("load agent gone", zap.String("agent_uuid", agentUUID))
}

func (a *ExpSvcAgent) createExperiment(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	profile := args["profile"].(*api.ExperimentProfile)
	if profile.Name == "" {
		return nil, wire.NewProtocolError(wire.ErrInvalidData, "experiment name must not be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.profiles[profile.Name]; exists {
		return nil, wire.NewProtocolError(wire.ErrInvalidState, "experiment %q already exists", profile.Name)
	}
	a.profiles[profile.Name] = profile
	return nil, nil
}

func (a *ExpSvcAgent) getExperiment(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	name := object.Str(args["name"])

	a.mu.Lock()
	defer a.mu.Unlock()
	profile, ok := a.profiles[name]
	if !ok {
		return nil, nil
	}
	return profile, nil
}

func (a *ExpSvcAgent) listExperiments(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]interface{}, 0, len(a.profiles))
	for name := range a.profiles {
		out = append(out, name)
	}
	return out, nil
}

func (a *ExpSvcAgent) listAgents(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]interface{}, 0, len(a.loadAgents))
	for _, rec := range a.loadAgents {
		out = append(out, &api.LoadAgentDescriptor{
			AgentID: rec.agentID,
			UUID:    rec.uuid,
			Host:    rec.host,
		})
	}
	return out, nil
}
