package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ServiceName is the fully qualified name of the cluster service
const ServiceName = "burrow.v1.Cluster"

const (
	executeMethod = "/" + ServiceName + "/Execute"
	admitMethod   = "/" + ServiceName + "/Admit"
)

// ExecuteRequest carries a propagated host request to the owning server
type ExecuteRequest struct {
	PeerID       string `json:"peer_id"`
	HostID       string `json:"host_id"`
	Payload      []byte `json:"payload"`
	ExpectAnswer bool   `json:"expect_answer"`
}

// ExecuteResponse holds the owning server's answer. Answer is empty when
// no answer was requested.
type ExecuteResponse struct {
	Answer []byte `json:"answer,omitempty"`
}

// AdmitRequest asks the leader to let a management server join
type AdmitRequest struct {
	NodeID     string `json:"node_id"`
	Address    string `json:"address"`
	APIAddress string `json:"api_address"`
	Token      string `json:"token"`
}

// AdmitResponse confirms the server was added as a voter
type AdmitResponse struct {
	LeaderID   string                 `json:"leader_id"`
	AdmittedAt *timestamppb.Timestamp `json:"admitted_at"`
}

// ClusterServer is the server side of the cluster service
type ClusterServer interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
	Admit(ctx context.Context, req *AdmitRequest) (*AdmitResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClusterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Admit", Handler: admitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/cluster",
}

// RegisterClusterServer registers srv on s
func RegisterClusterServer(s grpc.ServiceRegistrar, srv ClusterServer) {
	s.RegisterService(&serviceDesc, srv)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func admitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AdmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterServer).Admit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: admitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterServer).Admit(ctx, req.(*AdmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}
