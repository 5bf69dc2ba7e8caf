/*
Package manager replicates the table of management servers and the hosts
each of them owns, using Raft.

Every management server runs a Manager. The leader applies four commands
to the OwnershipFSM:

	register_server     a server joined (or bootstrapped) the cluster
	deregister_server   a server left; its claims are dropped with it
	claim_host          a server holds the agent connection of a host
	release_host        the claim of that server on a host is gone

Claims follow the ManagementServerID recorded on hosts when agents connect
and disconnect. The leader's reconciler calls SyncClaims to bring the table
in line with the inventory, so followers only ever read it.

# Propagation

Manager implements the peer lookup used by the resource manager: PeerFor
returns the server owning a host and APIAddr the address that server
registered for forwarded requests. The Router delivers the forwarded
request to that server's HandlePropagatedEvent. Servers hosted in the same
process register with one Router; requests for any other server go to the
remote Channel set with SetRemote (the gRPC client in package api). A
server reachable through neither is unreachable and the caller gets no
answer.

# Raft setup

Timeouts are tuned for a LAN so that a new leader is elected within a few
seconds:

	HeartbeatTimeout    500ms
	ElectionTimeout     500ms
	CommitTimeout        50ms
	LeaderLeaseTimeout  250ms

The log and stable stores are raft-boltdb files (raft-log.db and
raft-stable.db) next to the snapshots in the data directory. With
Config.InMemory the transport, log and snapshots stay in process, which is
how the tests run several servers at once. Join links the in-memory
transports of the two servers.

# Joining

The leader issues join tokens (GenerateJoinToken, valid for 24 hours). A new
server calls Join with the leader and a token; the leader validates it in
Admit, adds the server as a voter and registers it with its raft and API
addresses. Across processes the same Admit call arrives over gRPC. Only
token digests are stored.

	leader, _ := manager.NewManager(&manager.Config{NodeID: "mgmt-1", InMemory: true})
	leader.Bootstrap(ctx)
	token, _ := leader.GenerateJoinToken()

	follower, _ := manager.NewManager(&manager.Config{NodeID: "mgmt-2", InMemory: true})
	follower.Join(leader, token.Token)

Writes on a follower fail with a Precondition fault naming the leader.
*/
package manager
