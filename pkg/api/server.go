package api

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Config holds what a Server answers for
type Config struct {
	// NodeID is this management server's id
	NodeID string

	// Handler runs requests forwarded by other servers
	Handler manager.EventHandler

	// Admitter lets new servers into the cluster
	Admitter manager.Admitter

	// IsLeader gates Admit; nil treats this server as the leader
	IsLeader func() bool
}

// Server implements the cluster gRPC service
type Server struct {
	nodeID   string
	handler  manager.EventHandler
	admitter manager.Admitter
	grpc     *grpc.Server
	health   *health.Server
	logger   zerolog.Logger
}

// NewServer creates a new API server with the cluster and health services
// registered
func NewServer(cfg Config) *Server {
	isLeader := cfg.IsLeader
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	logger := log.WithNode("api", cfg.NodeID)

	s := &Server{
		nodeID:   cfg.NodeID,
		handler:  cfg.Handler,
		admitter: cfg.Admitter,
		health:   health.NewServer(),
		logger:   logger,
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(
		MetricsInterceptor(logger),
		LeaderOnlyInterceptor(isLeader),
	))

	RegisterClusterServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve answers calls on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Cluster API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
}

// Execute runs a propagated host request on this server
func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.PeerID != "" && req.PeerID != s.nodeID {
		return nil, status.Errorf(codes.NotFound, "request for %s reached %s", req.PeerID, s.nodeID)
	}
	if s.handler == nil {
		return nil, status.Error(codes.Unavailable, "no resource manager is attached")
	}

	if !req.ExpectAnswer {
		go s.handler.HandlePropagatedEvent(context.WithoutCancel(ctx), req.Payload)
		return &ExecuteResponse{}, nil
	}
	return &ExecuteResponse{Answer: s.handler.HandlePropagatedEvent(ctx, req.Payload)}, nil
}

// Admit validates the join token and adds the caller as a voter
func (s *Server) Admit(ctx context.Context, req *AdmitRequest) (*AdmitResponse, error) {
	if req.NodeID == "" || req.Address == "" {
		return nil, status.Error(codes.InvalidArgument, "node id and address are required")
	}
	if s.admitter == nil {
		return nil, status.Error(codes.Unavailable, "this server does not admit members")
	}
	if err := s.admitter.Admit(req.NodeID, req.Address, req.APIAddress, req.Token); err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info().Str(log.FieldNodeID, req.NodeID).Str("address", req.Address).Msg("Management server admitted")
	return &AdmitResponse{LeaderID: s.nodeID, AdmittedAt: timestamppb.Now()}, nil
}
