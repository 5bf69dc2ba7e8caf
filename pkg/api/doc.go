/*
Package api carries requests between management servers over gRPC.

The cluster service (burrow.v1.Cluster) has two unary methods:

	Execute   run a propagated host request on the server owning the host
	Admit     let a new management server join the raft cluster

Messages are plain Go structs sent with a JSON codec registered under the
"json" content subtype; the Client selects it for every call. The standard
grpc health service is registered next to it and reports SERVING for
burrow.v1.Cluster until Stop.

# Interceptors

Every call runs through MetricsInterceptor, which records
burrow_api_requests_total and burrow_api_request_duration_seconds, and
LeaderOnlyInterceptor, which answers FailedPrecondition when Admit reaches a
follower.

# Errors

Faults cross the wire as status codes and come back as faults of the same
kind:

	InvalidParameter       InvalidArgument
	NotFound               NotFound
	Precondition           FailedPrecondition
	AgentUnavailable       Unavailable
	Timeout                DeadlineExceeded
	InsufficientCapacity   ResourceExhausted
	Conflict               Aborted

A peer with no registered API address, or one answering Unavailable, gives
Execute a nil answer and no error, which the resource manager reports as an
unreachable peer.

# Usage

	srv := api.NewServer(api.Config{NodeID: "mgmt-1", Handler: resources, Admitter: mgr, IsLeader: mgr.IsLeader})
	go srv.Start("127.0.0.1:7947")

	client := api.NewClient(mgr)
	router.SetRemote(client)
*/
package api
