package api

import (
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
)

// ExperimentProfile describes one experiment: a name, an optional
// description, an ordered list of step names, and an optional maximum
// duration. The experiment service agent (internal/localagent) keeps
// these in memory only; nothing is persisted.
type ExperimentProfile struct {
	Name          string
	Description   *string
	Steps         []string
	MaxDurationMs *int64
}

var ExperimentProfileDescriptor = &object.ObjectDescriptor{
	Name: "ExperimentProfile",
	New:  func() interface{} { return &ExperimentProfile{} },
	Fields: []object.Field{
		{Name: "name", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*ExperimentProfile).Name },
			Set: func(o interface{}, v interface{}) { o.(*ExperimentProfile).Name = object.Str(v) }},
		{Name: "description", Kind: object.Nullable(object.String()),
			Get: func(o interface{}) interface{} { return object.FromNullableStr(o.(*ExperimentProfile).Description) },
			Set: func(o interface{}, v interface{}) { o.(*ExperimentProfile).Description = object.NullableStr(v) }},
		{Name: "steps", Kind: object.Array(object.String()),
			Get: func(o interface{}) interface{} {
				p := o.(*ExperimentProfile)
				out := make([]interface{}, len(p.Steps))
				for i, s := range p.Steps {
					out[i] = s
				}
				return out
			},
			Set: func(o interface{}, v interface{}) {
				items := v.([]interface{})
				out := make([]string, len(items))
				for i, item := range items {
					out[i] = object.Str(item)
				}
				o.(*ExperimentProfile).Steps = out
			}},
		{Name: "maxDurationMs", Kind: object.Optional(object.Int()),
			Get: func(o interface{}) interface{} { return object.FromNullableInt64(o.(*ExperimentProfile).MaxDurationMs) },
			Set: func(o interface{}, v interface{}) { o.(*ExperimentProfile).MaxDurationMs = object.NullableInt64(v) }},
	},
}

// LoadAgentDescriptor is one entry of ExpSvcAgent.listAgents' result: a
// load agent the experiment service has seen register, with the host
// inventory it fetched from that agent (absent while the fetch is still
// in flight or failed).
type LoadAgentDescriptor struct {
	AgentID int64
	UUID    string
	Host    *HostInfo
}

var LoadAgentDescriptorDescriptor = &object.ObjectDescriptor{
	Name: "LoadAgentDescriptor",
	New:  func() interface{} { return &LoadAgentDescriptor{} },
	Fields: []object.Field{
		{Name: "agentId", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*LoadAgentDescriptor).AgentID },
			Set: func(o interface{}, v interface{}) { o.(*LoadAgentDescriptor).AgentID = object.Int64(v) }},
		{Name: "uuid", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*LoadAgentDescriptor).UUID },
			Set: func(o interface{}, v interface{}) { o.(*LoadAgentDescriptor).UUID = object.Str(v) }},
		{Name: "host", Kind: object.Optional(object.Object(HostInfoDescriptor)),
			Get: func(o interface{}) interface{} {
				d := o.(*LoadAgentDescriptor)
				if d.Host == nil {
					return nil
				}
				return d.Host
			},
			Set: func(o interface{}, v interface{}) {
				if v != nil {
					o.(*LoadAgentDescriptor).Host = v.(*HostInfo)
				}
			}},
	},
}

// ExpSvcInterface declares the experiment service's management surface at
// agent id flow.AgentIDExpSvc. MASTER, ADMIN and OPERATOR connections
// reach every method; USER connections only listExperiments and
// getExperiment.
var ExpSvcInterface = rpcdef.NewInterface("ExpSvcAgent",
	rpcdef.NewMethod("createExperiment", nil,
		rpcdef.Arg{Name: "profile", Kind: object.Object(ExperimentProfileDescriptor)},
	),
	rpcdef.NewMethod("getExperiment", object.Nullable(object.Object(ExperimentProfileDescriptor)),
		rpcdef.Arg{Name: "name", Kind: object.String()},
	),
	rpcdef.NewMethod("listExperiments", object.Array(object.String())),
	rpcdef.NewMethod("listAgents", object.Array(object.Object(LoadAgentDescriptorDescriptor))),
)
