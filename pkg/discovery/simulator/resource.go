package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
)

// ResourceSpec describes a simulated host
type ResourceSpec struct {
	GUID       string
	Name       string
	Hypervisor types.HypervisorType
	ZoneID     string
	PodID      string
	ClusterID  string
	PrivateIP  string
	CPUs       int
	CPUSpeed   int
	Memory     int64
	Tags       []string
}

// StageResult scripts how a rolling maintenance stage answers
type StageResult struct {
	Result           bool
	Details          string
	AvoidMaintenance bool
	// Unavailable is how many attempts fail with AgentUnavailable first
	Unavailable int
	// Pending is how many attempts answer started-but-not-finished first
	Pending int
}

// Call is one command received by a Resource
type Call struct {
	Command agent.Command
	At      time.Time
}

// Resource is a direct-connect host that executes commands in memory
type Resource struct {
	mu          sync.Mutex
	spec        ResourceSpec
	stages      map[agent.Stage]*StageResult
	hasScript   bool
	rejectReady bool
	maintainNak bool
	calls       []Call
	connected   bool
	username    string
	password    string
}

// NewResource creates a resource whose stages all succeed
func NewResource(spec ResourceSpec) *Resource {
	if spec.Hypervisor == "" {
		spec.Hypervisor = types.HypervisorSimulator
	}
	if spec.Name == "" {
		spec.Name = spec.GUID
	}
	if spec.CPUs == 0 {
		spec.CPUs = 8
	}
	if spec.CPUSpeed == 0 {
		spec.CPUSpeed = 2000
	}
	if spec.Memory == 0 {
		spec.Memory = 16 << 30
	}
	return &Resource{
		spec:      spec,
		stages:    make(map[agent.Stage]*StageResult),
		hasScript: true,
	}
}

// Spec returns the resource description
func (r *Resource) Spec() ResourceSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// SetStage scripts the answer of one rolling maintenance stage
func (r *Resource) SetStage(stage agent.Stage, result StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage] = &result
}

// SetHasScript controls whether the host reports a maintenance script
func (r *Resource) SetHasScript(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasScript = ok
}

// RejectReady makes the handshake fail
func (r *Resource) RejectReady(reject bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejectReady = reject
}

// RejectMaintain makes MaintainCommand answer false
func (r *Resource) RejectMaintain(reject bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maintainNak = reject
}

// Calls returns the commands received so far
func (r *Resource) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Stages returns the rolling maintenance stages executed, in order,
// excluding script checks and retried attempts
func (r *Resource) Stages() []agent.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []agent.Stage
	for _, c := range r.calls {
		cmd, ok := c.Command.(agent.RollingMaintenanceCommand)
		if !ok || cmd.CheckMaintenanceScript {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == cmd.Stage {
			continue
		}
		out = append(out, cmd.Stage)
	}
	return out
}

// Credentials returns the last credentials pushed with UpdateHostPasswordCommand
func (r *Resource) Credentials() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.username, r.password
}

// Connected reports whether the transport currently holds the resource
func (r *Resource) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Resource) Type() types.HostType { return types.HostTypeRouting }

func (r *Resource) Hypervisor() types.HypervisorType { return r.spec.Hypervisor }

func (r *Resource) Startup(ctx context.Context) ([]*agent.StartupCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return []*agent.StartupCommand{{
		GUID:              r.spec.GUID,
		Name:              r.spec.Name,
		Type:              types.HostTypeRouting,
		Hypervisor:        r.spec.Hypervisor,
		HypervisorVersion: "sim-1.0",
		DataCenter:        r.spec.ZoneID,
		Pod:               r.spec.PodID,
		Cluster:           r.spec.ClusterID,
		PrivateIP:         r.spec.PrivateIP,
		CPUs:              r.spec.CPUs,
		CPUSpeed:          r.spec.CPUSpeed,
		Memory:            r.spec.Memory,
		Version:           "burrow-sim",
		HostTags:          r.spec.Tags,
	}}, nil
}

func (r *Resource) Execute(ctx context.Context, cmd agent.Command) (*agent.Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Command: cmd, At: time.Now()})

	switch c := cmd.(type) {
	case agent.ReadyCommand:
		if r.rejectReady {
			return &agent.Answer{Result: false, Details: "simulated handshake rejection"}, nil
		}
		r.connected = true
		return &agent.Answer{Result: true}, nil

	case agent.MaintainCommand:
		return &agent.Answer{Result: !r.maintainNak}, nil

	case agent.RollingMaintenanceCommand:
		return r.rolling(c)

	case agent.UpdateHostPasswordCommand:
		r.username, r.password = c.Username, c.Password
		return &agent.Answer{Result: true}, nil

	case agent.SetupVMVncCommand, agent.PrepareUnmanageCommand:
		return &agent.Answer{Result: true}, nil

	default:
		return &agent.Answer{Result: false, Details: "unsupported command " + cmd.Name()}, nil
	}
}

// rolling is called with r.mu held
func (r *Resource) rolling(cmd agent.RollingMaintenanceCommand) (*agent.Answer, error) {
	if cmd.CheckMaintenanceScript {
		details := ""
		if !r.hasScript {
			details = "no maintenance script for stage " + string(cmd.Stage)
		}
		return &agent.Answer{Result: r.hasScript, ScriptDefined: r.hasScript, Details: details}, nil
	}

	res, ok := r.stages[cmd.Stage]
	if !ok {
		return &agent.Answer{Result: true, Started: true, Finished: true}, nil
	}
	if res.Unavailable > 0 {
		res.Unavailable--
		return nil, fault.New(fault.KindAgentUnavailable, "simulated agent restart during %s", cmd.Stage).WithEntity(r.spec.GUID)
	}
	if res.Pending > 0 {
		res.Pending--
		return &agent.Answer{Result: true, Started: true}, nil
	}
	return &agent.Answer{
		Result:           res.Result,
		Details:          res.Details,
		Started:          true,
		Finished:         true,
		AvoidMaintenance: res.AvoidMaintenance,
	}, nil
}

func (r *Resource) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
}
