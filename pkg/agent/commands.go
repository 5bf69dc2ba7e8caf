package agent

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Command is a request carried to a host's agent
type Command interface {
	// Name identifies the command in logs and metrics
	Name() string
	// AllowedInMaintenance reports whether the command is delivered while the
	// agent channel is paused for maintenance
	AllowedInMaintenance() bool
}

// Answer is the structured reply to a Command
type Answer struct {
	Result  bool
	Details string

	// Rolling maintenance stage fields
	Started          bool
	Finished         bool
	AvoidMaintenance bool
	ScriptDefined    bool
}

// ReadyCommand completes the agent handshake
type ReadyCommand struct {
	HostID string
}

func (ReadyCommand) Name() string               { return "Ready" }
func (ReadyCommand) AllowedInMaintenance() bool { return true }

// MaintainCommand tells the agent its host is entering maintenance
type MaintainCommand struct{}

func (MaintainCommand) Name() string               { return "Maintain" }
func (MaintainCommand) AllowedInMaintenance() bool { return true }

// Stage is one step of a rolling maintenance run on a host
type Stage string

const (
	StagePreFlight       Stage = "PreFlight"
	StagePreMaintenance  Stage = "PreMaintenance"
	StageMaintenance     Stage = "Maintenance"
	StagePostMaintenance Stage = "PostMaintenance"
)

// RollingMaintenanceCommand runs the host's maintenance hook for one stage.
// With CheckMaintenanceScript set the agent only reports whether a hook exists.
type RollingMaintenanceCommand struct {
	Stage                  Stage
	Payload                string
	Timeout                time.Duration
	CheckMaintenanceScript bool
}

func (c RollingMaintenanceCommand) Name() string {
	if c.CheckMaintenanceScript {
		return "RollingMaintenance/CheckScript"
	}
	return "RollingMaintenance/" + string(c.Stage)
}

func (RollingMaintenanceCommand) AllowedInMaintenance() bool { return true }

// VMVncDetail is the console access record pushed for a stuck VM
type VMVncDetail struct {
	VMName   string
	Password string
}

// SetupVMVncCommand pushes console details for VMs that failed to evacuate
type SetupVMVncCommand struct {
	VMs []VMVncDetail
}

func (SetupVMVncCommand) Name() string               { return "SetupVMVnc" }
func (SetupVMVncCommand) AllowedInMaintenance() bool { return false }

// UpdateHostPasswordCommand rotates the credentials the agent logs in with
type UpdateHostPasswordCommand struct {
	Username string
	Password string
	HostIP   string
}

func (UpdateHostPasswordCommand) Name() string               { return "UpdateHostPassword" }
func (UpdateHostPasswordCommand) AllowedInMaintenance() bool { return true }

// PrepareUnmanageCommand asks the agent to detach from management
type PrepareUnmanageCommand struct{}

func (PrepareUnmanageCommand) Name() string               { return "PrepareUnmanage" }
func (PrepareUnmanageCommand) AllowedInMaintenance() bool { return true }

// StartupCommand describes a host as reported by its resource at connect time
type StartupCommand struct {
	GUID              string
	Name              string
	Type              types.HostType
	Hypervisor        types.HypervisorType
	HypervisorVersion string
	DataCenter        string // Zone id or name
	Pod               string // Pod id or name
	Cluster           string // Cluster id or name
	PrivateIP         string
	PrivateNetmask    string
	PrivateMAC        string
	PublicIP          string
	StorageIP         string
	StorageIPDeux     string
	CPUs              int
	CPUSpeed          int
	Memory            int64
	Capabilities      string
	Version           string
	HostTags          []string
	Details           map[string]string
}

// ServerResource is the host endpoint a discoverer found. For direct-connect
// hosts it is also the command executor.
type ServerResource interface {
	Type() types.HostType
	Hypervisor() types.HypervisorType
	// Startup initializes the resource and reports what it manages
	Startup(ctx context.Context) ([]*StartupCommand, error)
	Execute(ctx context.Context, cmd Command) (*Answer, error)
	Disconnected()
}
