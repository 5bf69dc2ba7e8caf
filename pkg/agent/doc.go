/*
Package agent defines how Burrow talks to the process running on each host.

Commands and answers are plain structs. A Command names itself and says
whether it may be delivered while the host's agent channel is paused for
maintenance; MaintainCommand and the rolling maintenance stages are, console
detail pushes are not. RollingMaintenanceCommand carries the stage name, the
operator payload and the stage timeout; its Answer reports Started and
Finished separately so callers can poll a long-running hook.

# Transport

Transport is the only way the rest of Burrow reaches an agent:

	answer, err := transport.Send(ctx, host.ID, agent.MaintainCommand{})
	if fault.Is(err, fault.KindAgentUnavailable) {
		// retry later
	}

DirectTransport is the in-process implementation used for direct-connect
hosts, where the ServerResource returned by a discoverer executes commands
itself. It persists connectivity changes through the store using the status
table in NextStatus:

	AgentConnected     any            -> Connecting
	Ready              Connecting, Up -> Up
	AgentDisconnected  connected      -> Disconnected
	PingTimeout        Up, Alert      -> Alert
	HostDown           reachable      -> Down
	Error              any            -> Error
	Remove             any            -> Removed

# Out-of-band restart

SSHRestarter logs into a host with the credentials stored in its details and
restarts the agent service. It is used when cancelling maintenance on
KVM/LXC hosts whose agent is not connected.
*/
package agent
