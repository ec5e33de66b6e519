package api

import (
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
)

// Workload parameter variants (bool/integer/float/string/strset/size/
// time/filepath/cpuobject/disk). Each is a distinct Go type so MultiObject's
// classOf can switch on it directly instead of carrying an explicit tag
// field on the Go struct itself.
type (
	BoolParam struct{ Value bool }
	IntParam  struct{ Value int64 }
	FloatParam struct{ Value float64 }
	StringParam struct{ Value string }
	StrSetParam struct{ Values []string }
	SizeParam   struct{ Bytes int64 }
	TimeParam   struct{ Millis int64 }
	FilePathParam struct{ Path string }
	CPUObjectParam struct {
		CPUID int64
		Count int64
	}
	DiskParam struct {
		Path  string
		Count int64
	}
)

var (
	boolParamDescriptor = &object.ObjectDescriptor{
		Name: "BoolParam", New: func() interface{} { return &BoolParam{} },
		Fields: []object.Field{
			{Name: "value", Kind: object.Bool(),
				Get: func(o interface{}) interface{} { return o.(*BoolParam).Value },
				Set: func(o interface{}, v interface{}) { o.(*BoolParam).Value = object.BoolVal(v) }},
		},
	}
	intParamDescriptor = &object.ObjectDescriptor{
		Name: "IntParam", New: func() interface{} { return &IntParam{} },
		Fields: []object.Field{
			{Name: "value", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*IntParam).Value },
				Set: func(o interface{}, v interface{}) { o.(*IntParam).Value = object.Int64(v) }},
		},
	}
	floatParamDescriptor = &object.ObjectDescriptor{
		Name: "FloatParam", New: func() interface{} { return &FloatParam{} },
		Fields: []object.Field{
			{Name: "value", Kind: object.Float(),
				Get: func(o interface{}) interface{} { return o.(*FloatParam).Value },
				Set: func(o interface{}, v interface{}) { o.(*FloatParam).Value = object.Float64(v) }},
		},
	}
	stringParamDescriptor = &object.ObjectDescriptor{
		Name: "StringParam", New: func() interface{} { return &StringParam{} },
		Fields: []object.Field{
			{Name: "value", Kind: object.String(),
				Get: func(o interface{}) interface{} { return o.(*StringParam).Value },
				Set: func(o interface{}, v interface{}) { o.(*StringParam).Value = object.Str(v) }},
		},
	}
	strSetParamDescriptor = &object.ObjectDescriptor{
		Name: "StrSetParam", New: func() interface{} { return &StrSetParam{} },
		Fields: []object.Field{
			{Name: "values", Kind: object.Array(object.String()),
				Get: func(o interface{}) interface{} {
					p := o.(*StrSetParam)
					out := make([]interface{}, len(p.Values))
					for i, s := range p.Values {
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
					o.(*StrSetParam).Values = out
				}},
		},
	}
	sizeParamDescriptor = &object.ObjectDescriptor{
		Name: "SizeParam", New: func() interface{} { return &SizeParam{} },
		Fields: []object.Field{
			{Name: "bytes", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*SizeParam).Bytes },
				Set: func(o interface{}, v interface{}) { o.(*SizeParam).Bytes = object.Int64(v) }},
		},
	}
	timeParamDescriptor = &object.ObjectDescriptor{
		Name: "TimeParam", New: func() interface{} { return &TimeParam{} },
		Fields: []object.Field{
			{Name: "millis", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*TimeParam).Millis },
				Set: func(o interface{}, v interface{}) { o.(*TimeParam).Millis = object.Int64(v) }},
		},
	}
	filePathParamDescriptor = &object.ObjectDescriptor{
		Name: "FilePathParam", New: func() interface{} { return &FilePathParam{} },
		Fields: []object.Field{
			{Name: "path", Kind: object.String(),
				Get: func(o interface{}) interface{} { return o.(*FilePathParam).Path },
				Set: func(o interface{}, v interface{}) { o.(*FilePathParam).Path = object.Str(v) }},
		},
	}
	cpuObjectParamDescriptor = &object.ObjectDescriptor{
		Name: "CPUObjectParam", New: func() interface{} { return &CPUObjectParam{} },
		Fields: []object.Field{
			{Name: "cpuId", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*CPUObjectParam).CPUID },
				Set: func(o interface{}, v interface{}) { o.(*CPUObjectParam).CPUID = object.Int64(v) }},
			{Name: "count", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*CPUObjectParam).Count },
				Set: func(o interface{}, v interface{}) { o.(*CPUObjectParam).Count = object.Int64(v) }},
		},
	}
	diskParamDescriptor = &object.ObjectDescriptor{
		Name: "DiskParam", New: func() interface{} { return &DiskParam{} },
		Fields: []object.Field{
			{Name: "path", Kind: object.String(),
				Get: func(o interface{}) interface{} { return o.(*DiskParam).Path },
				Set: func(o interface{}, v interface{}) { o.(*DiskParam).Path = object.Str(v) }},
			{Name: "count", Kind: object.Int(),
				Get: func(o interface{}) interface{} { return o.(*DiskParam).Count },
				Set: func(o interface{}, v interface{}) { o.(*DiskParam).Count = object.Int64(v) }},
		},
	}
)

// WorkloadParamKind is the tagged union of every parameter variant above,
// selected by the "type" field on the wire.
var WorkloadParamKind = object.MultiObject("type", map[string]*object.ObjectDescriptor{
	"bool":      boolParamDescriptor,
	"integer":   intParamDescriptor,
	"float":     floatParamDescriptor,
	"string":    stringParamDescriptor,
	"strset":    strSetParamDescriptor,
	"size":      sizeParamDescriptor,
	"time":      timeParamDescriptor,
	"filepath":  filePathParamDescriptor,
	"cpuobject": cpuObjectParamDescriptor,
	"disk":      diskParamDescriptor,
}, func(val interface{}) (string, bool) {
	switch val.(type) {
	case *BoolParam:
		return "bool", true
	case *IntParam:
		return "integer", true
	case *FloatParam:
		return "float", true
	case *StringParam:
		return "string", true
	case *StrSetParam:
		return "strset", true
	case *SizeParam:
		return "size", true
	case *TimeParam:
		return "time", true
	case *FilePathParam:
		return "filepath", true
	case *CPUObjectParam:
		return "cpuobject", true
	case *DiskParam:
		return "disk", true
	default:
		return "", false
	}
})

// WorkloadProfile configures one workload run: a name, an optional
// human-readable description (Nullable — present-and-null is valid and
// distinct from absent), a set of named typed parameters, and an
// optional start delay.
type WorkloadProfile struct {
	Name         string
	Description  *string
	Params       map[string]interface{}
	StartDelayMs *int64
}

var WorkloadProfileDescriptor = &object.ObjectDescriptor{
	Name: "WorkloadProfile",
	New:  func() interface{} { return &WorkloadProfile{} },
	Fields: []object.Field{
		{Name: "name", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*WorkloadProfile).Name },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadProfile).Name = object.Str(v) }},
		{Name: "description", Kind: object.Nullable(object.String()),
			Get: func(o interface{}) interface{} { return object.FromNullableStr(o.(*WorkloadProfile).Description) },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadProfile).Description = object.NullableStr(v) }},
		{Name: "params", Kind: object.Map(WorkloadParamKind),
			Get: func(o interface{}) interface{} { return o.(*WorkloadProfile).Params },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadProfile).Params = v.(map[string]interface{}) }},
		{Name: "startDelayMs", Kind: object.Optional(object.Int()),
			Get: func(o interface{}) interface{} { return object.FromNullableInt64(o.(*WorkloadProfile).StartDelayMs) },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadProfile).StartDelayMs = object.NullableInt64(v) }},
	},
}

// WorkloadStatus reports a running workload's progress.
type WorkloadStatus struct {
	Name      string
	Running   bool
	ExitCode  *int64
}

var WorkloadStatusDescriptor = &object.ObjectDescriptor{
	Name: "WorkloadStatus",
	New:  func() interface{} { return &WorkloadStatus{} },
	Fields: []object.Field{
		{Name: "name", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*WorkloadStatus).Name },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadStatus).Name = object.Str(v) }},
		{Name: "running", Kind: object.Bool(),
			Get: func(o interface{}) interface{} { return o.(*WorkloadStatus).Running },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadStatus).Running = object.BoolVal(v) }},
		{Name: "exitCode", Kind: object.Nullable(object.Int()),
			Get: func(o interface{}) interface{} { return object.FromNullableInt64(o.(*WorkloadStatus).ExitCode) },
			Set: func(o interface{}, v interface{}) { o.(*WorkloadStatus).ExitCode = object.NullableInt64(v) }},
	},
}

// HostInfo describes the machine a load agent runs on. The experiment
// service asks every freshly registered load agent for it.
type HostInfo struct {
	Hostname    string
	Domainname  string
	OSName      string
	Release     string
	MachineArch string
	NumCPUs     int64
	NumCores    int64
	MemTotal    int64
}

var HostInfoDescriptor = &object.ObjectDescriptor{
	Name: "HostInfo",
	New:  func() interface{} { return &HostInfo{} },
	Fields: []object.Field{
		{Name: "hostname", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).Hostname },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).Hostname = object.Str(v) }},
		{Name: "domainname", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).Domainname },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).Domainname = object.Str(v) }},
		{Name: "osname", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).OSName },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).OSName = object.Str(v) }},
		{Name: "release", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).Release },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).Release = object.Str(v) }},
		{Name: "machineArch", Kind: object.String(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).MachineArch },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).MachineArch = object.Str(v) }},
		{Name: "numCPUs", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).NumCPUs },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).NumCPUs = object.Int64(v) }},
		{Name: "numCores", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).NumCores },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).NumCores = object.Int64(v) }},
		{Name: "memTotal", Kind: object.Int(),
			Get: func(o interface{}) interface{} { return o.(*HostInfo).MemTotal },
			Set: func(o interface{}, v interface{}) { o.(*HostInfo).MemTotal = object.Int64(v) }},
	},
}

// LoadInterface declares the load agent's surface: host inventory plus
// the workload lifecycle. Load agents are remote peers, so handlers for
// these methods live in the agent processes (see client.RegisterHandler),
// not in internal/localagent.
var LoadInterface = rpcdef.NewInterface("LoadAgent",
	rpcdef.NewMethod("getHostInfo", object.Object(HostInfoDescriptor)),
	rpcdef.NewMethod("configureWorkload", nil,
		rpcdef.Arg{Name: "profile", Kind: object.Object(WorkloadProfileDescriptor)},
	),
	rpcdef.NewMethod("getWorkloadStatus", object.Object(WorkloadStatusDescriptor),
		rpcdef.Arg{Name: "name", Kind: object.String()},
	),
	rpcdef.NewMethod("stopWorkload", nil,
		rpcdef.Arg{Name: "name", Kind: object.String()},
	),
)
