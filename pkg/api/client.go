package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DefaultCallTimeout bounds a propagated request when the caller's context
// has no deadline
const DefaultCallTimeout = 30 * time.Second

// Resolver maps a management server id to the address its API listens on
type Resolver interface {
	// APIAddr returns "" when the server is not registered
	APIAddr(peerID string) string
}

// Client calls the cluster service of other management servers. It keeps
// one connection per address.
type Client struct {
	resolver Resolver
	timeout  time.Duration
	dialOpts []grpc.DialOption

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	logger zerolog.Logger
}

// NewClient creates a client resolving peers through resolver. opts are
// appended to the default dial options.
func NewClient(resolver Resolver, opts ...grpc.DialOption) *Client {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	return &Client{
		resolver: resolver,
		timeout:  DefaultCallTimeout,
		dialOpts: append(dialOpts, opts...),
		conns:    make(map[string]*grpc.ClientConn),
		logger:   log.WithComponent("api-client"),
	}
}

func (c *Client) conn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Execute delivers payload to peerID. A peer without a registered address,
// or one that cannot be reached, yields a nil answer and no error.
func (c *Client) Execute(ctx context.Context, peerID, hostID string, payload []byte, expectAnswer bool) ([]byte, error) {
	addr := c.resolver.APIAddr(peerID)
	if addr == "" {
		c.logger.Warn().Str("peer", peerID).Str(log.FieldHostID, hostID).Msg("Peer has no registered API address")
		return nil, nil
	}
	conn, err := c.conn(addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	req := &ExecuteRequest{PeerID: peerID, HostID: hostID, Payload: payload, ExpectAnswer: expectAnswer}
	resp := new(ExecuteResponse)
	if err := conn.Invoke(ctx, executeMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.NotFound:
			c.logger.Warn().Err(err).Str("peer", peerID).Str(log.FieldHostID, hostID).Msg("Peer is not reachable")
			return nil, nil
		}
		return nil, fromStatus(err)
	}
	if !expectAnswer {
		return nil, nil
	}
	return resp.Answer, nil
}

// Admit asks the leader listening on addr to let this server join
func (c *Client) Admit(ctx context.Context, addr string, req *AdmitRequest) (*AdmitResponse, error) {
	conn, err := c.conn(addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(AdmitResponse)
	if err := conn.Invoke(ctx, admitMethod, req, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

// Close closes every cached connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}
