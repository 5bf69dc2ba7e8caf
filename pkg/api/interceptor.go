package api

import (
	"context"
	"strings"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LeaderOnlyInterceptor rejects membership changes on servers that do not
// lead the raft cluster, so a joining server learns to retry elsewhere
func LeaderOnlyInterceptor(isLeader func() bool) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if isLeaderMethod(info.FullMethod) && !isLeader() {
			return nil, status.Errorf(
				codes.FailedPrecondition,
				"%s must be sent to the raft leader",
				methodName(info.FullMethod),
			)
		}
		return handler(ctx, req)
	}
}

// MetricsInterceptor counts and times every call and logs failures
func MetricsInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		code := status.Code(err)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()

		if err != nil {
			logger.Warn().Err(err).Str("method", method).Str("code", code.String()).Msg("Cluster API call failed")
		} else {
			logger.Debug().Str("method", method).Dur("duration", timer.Duration()).Msg("Cluster API call")
		}
		return resp, err
	}
}

// methodName extracts the method from a full path
// (e.g., "/burrow.v1.Cluster/Admit" -> "Admit")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// isLeaderMethod reports whether the call changes raft membership
func isLeaderMethod(fullMethod string) bool {
	switch methodName(fullMethod) {
	case "Admit":
		return true
	}
	return false
}
