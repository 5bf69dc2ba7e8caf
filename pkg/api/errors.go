package api

import (
	"strings"

	"github.com/cuemby/burrow/pkg/fault"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[fault.Kind]codes.Code{
	fault.KindInvalidParameter:     codes.InvalidArgument,
	fault.KindNotFound:             codes.NotFound,
	fault.KindPrecondition:         codes.FailedPrecondition,
	fault.KindNoTransition:         codes.FailedPrecondition,
	fault.KindAgentUnavailable:     codes.Unavailable,
	fault.KindTimeout:              codes.DeadlineExceeded,
	fault.KindInsufficientCapacity: codes.ResourceExhausted,
	fault.KindConflict:             codes.Aborted,
	fault.KindInternal:             codes.Internal,
}

var codeKinds = map[codes.Code]fault.Kind{
	codes.InvalidArgument:    fault.KindInvalidParameter,
	codes.NotFound:           fault.KindNotFound,
	codes.FailedPrecondition: fault.KindPrecondition,
	codes.Unavailable:        fault.KindAgentUnavailable,
	codes.DeadlineExceeded:   fault.KindTimeout,
	codes.ResourceExhausted:  fault.KindInsufficientCapacity,
	codes.Aborted:            fault.KindConflict,
}

// toStatus turns a fault into a grpc status error
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, ok := kindCodes[fault.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus turns a grpc status error back into a fault
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fault.Wrap(fault.KindInternal, err, "cluster api call failed")
	}
	kind, ok := codeKinds[st.Code()]
	if !ok {
		kind = fault.KindInternal
	}
	return fault.New(kind, "%s", strings.TrimPrefix(st.Message(), string(kind)+": "))
}
