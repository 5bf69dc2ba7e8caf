package api

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestLeaderOnlyInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		leader   bool
		wantCode codes.Code
	}{
		{name: "admit on leader", method: admitMethod, leader: true, wantCode: codes.OK},
		{name: "admit on follower", method: admitMethod, leader: false, wantCode: codes.FailedPrecondition},
		{name: "execute on follower", method: executeMethod, leader: false, wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := LeaderOnlyInterceptor(func() bool { return tt.leader })
			resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, okHandler)
			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode == codes.OK {
				assert.Equal(t, "ok", resp)
			}
		})
	}
}

func TestMetricsInterceptorPassesThrough(t *testing.T) {
	interceptor := MetricsInterceptor(zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: executeMethod}

	resp, err := interceptor(context.Background(), nil, info, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	boom := status.Error(codes.Internal, "boom")
	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, boom
	})
	assert.Equal(t, boom, err)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "Admit", methodName("/burrow.v1.Cluster/Admit"))
	assert.Equal(t, "Execute", methodName(executeMethod))
	assert.True(t, isLeaderMethod(admitMethod))
	assert.False(t, isLeaderMethod(executeMethod))
}

func TestStatusRoundTrip(t *testing.T) {
	tests := []struct {
		kind fault.Kind
		code codes.Code
	}{
		{fault.KindInvalidParameter, codes.InvalidArgument},
		{fault.KindPrecondition, codes.FailedPrecondition},
		{fault.KindAgentUnavailable, codes.Unavailable},
		{fault.KindInsufficientCapacity, codes.ResourceExhausted},
		{fault.KindInternal, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := toStatus(fault.New(tt.kind, "host is busy").WithEntity("h1"))
			assert.Equal(t, tt.code, status.Code(err))

			back := fromStatus(err)
			assert.True(t, fault.Is(back, tt.kind))
			assert.Equal(t, string(tt.kind)+": host is busy [h1]", back.Error())
		})
	}

	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("plain"))))
	assert.NoError(t, toStatus(nil))
}
