package manager

import (
	"context"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
)

// EventHandler runs a request forwarded from another management server
type EventHandler interface {
	HandlePropagatedEvent(ctx context.Context, payload []byte) []byte
}

// Channel carries a propagated request to a management server outside
// this process
type Channel interface {
	Execute(ctx context.Context, peerID, hostID string, payload []byte, expectAnswer bool) ([]byte, error)
}

// Router delivers propagated host requests to the management servers
// hosted in this process and hands the rest to a remote Channel
type Router struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	remote   Channel
	logger   zerolog.Logger
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]EventHandler),
		logger:   log.WithComponent("router"),
	}
}

// Register makes peerID reachable through h
func (r *Router) Register(peerID string, h EventHandler) {
	r.mu.Lock()
	r.handlers[peerID] = h
	r.mu.Unlock()
}

// SetRemote routes requests for unregistered peers through ch
func (r *Router) SetRemote(ch Channel) {
	r.mu.Lock()
	r.remote = ch
	r.mu.Unlock()
}

// Unregister makes peerID unreachable
func (r *Router) Unregister(peerID string) {
	r.mu.Lock()
	delete(r.handlers, peerID)
	r.mu.Unlock()
}

// Execute hands payload to peerID. A peer that is neither registered nor
// reachable through the remote channel yields a nil answer and no error.
// Without expectAnswer the request runs in the background and the answer
// is nil.
func (r *Router) Execute(ctx context.Context, peerID, hostID string, payload []byte, expectAnswer bool) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[peerID]
	remote := r.remote
	r.mu.RUnlock()

	if !ok && remote != nil {
		return remote.Execute(ctx, peerID, hostID, payload, expectAnswer)
	}
	if !ok {
		r.logger.Warn().Str("peer", peerID).Str(log.FieldHostID, hostID).Msg("Peer is not reachable")
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !expectAnswer {
		go h.HandlePropagatedEvent(context.WithoutCancel(ctx), payload)
		return nil, nil
	}
	return h.HandlePropagatedEvent(ctx, payload), nil
}
