package resource

import (
	"context"
	"encoding/json"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/resourcestate"
)

// PeerLocator finds the management server that owns a host's agent connection
type PeerLocator interface {
	// PeerFor returns the owning node id, or "" when the host is not claimed
	PeerFor(hostID string) string
}

// ClusterChannel carries requests between management servers
type ClusterChannel interface {
	// Execute delivers payload to peerID for hostID. A nil answer without
	// error means the peer could not be reached.
	Execute(ctx context.Context, peerID, hostID string, payload []byte, expectAnswer bool) ([]byte, error)
}

// PropagatedEvent is a host operation forwarded to the owning peer
type PropagatedEvent struct {
	HostID             string              `json:"host_id"`
	Event              resourcestate.Event `json:"event"`
	Forced             bool                `json:"forced,omitempty"`
	ForceDeleteStorage bool                `json:"force_delete_storage,omitempty"`
	Username           string              `json:"username,omitempty"`
	Password           string              `json:"password,omitempty"`
}

// PropagatedAnswer is the peer's reply to a PropagatedEvent
type PropagatedAnswer struct {
	Result      bool       `json:"result"`
	Unsupported bool       `json:"unsupported,omitempty"`
	Kind        fault.Kind `json:"kind,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// propagate forwards ev when another node owns the host. handled is false
// when the operation has to run locally.
func (m *Manager) propagate(ctx context.Context, ev PropagatedEvent) (result bool, handled bool, err error) {
	if m.peers == nil || m.channel == nil {
		return false, false, nil
	}
	peer := m.peers.PeerFor(ev.HostID)
	if peer == "" || peer == m.nodeID {
		return false, false, nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return false, true, fault.Wrap(fault.KindInternal, err, "failed to encode %s request", ev.Event).WithEntity(ev.HostID)
	}

	m.logger.Debug().
		Str(log.FieldHostID, ev.HostID).
		Str("peer", peer).
		Str("event", string(ev.Event)).
		Msg("Propagating resource event to owning peer")

	data, err := m.channel.Execute(ctx, peer, ev.HostID, payload, true)
	if err != nil {
		return false, true, fault.Wrap(fault.KindAgentUnavailable, err, "peer %s did not answer %s", peer, ev.Event).WithEntity(ev.HostID)
	}
	if data == nil {
		return false, true, fault.New(fault.KindAgentUnavailable, "peer %s is unreachable for %s", peer, ev.Event).WithEntity(ev.HostID)
	}

	var answer PropagatedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return false, true, fault.Wrap(fault.KindInternal, err, "undecodable answer from peer %s", peer).WithEntity(ev.HostID)
	}
	if answer.Unsupported {
		return false, false, nil
	}
	if answer.Error != "" {
		kind := answer.Kind
		if kind == "" {
			kind = fault.KindInternal
		}
		return false, true, fault.New(kind, "peer %s: %s", peer, answer.Error).WithEntity(ev.HostID)
	}
	return answer.Result, true, nil
}

// HandlePropagatedEvent executes a request forwarded by another node. It
// always runs locally, so two nodes never bounce a request between them.
func (m *Manager) HandlePropagatedEvent(ctx context.Context, payload []byte) []byte {
	var ev PropagatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return encodeAnswer(false, fault.Wrap(fault.KindInvalidParameter, err, "malformed propagated event"))
	}

	var (
		result bool
		err    error
	)
	switch ev.Event {
	case resourcestate.EventAdminAskMaintenance:
		result, err = m.maintain(ctx, ev.HostID)
	case resourcestate.EventAdminCancelMaintenance:
		result, err = m.cancelMaintenance(ctx, ev.HostID)
	case resourcestate.EventDeleteHost:
		result, err = m.deleteHost(ctx, ev.HostID, ev.Forced, ev.ForceDeleteStorage)
	case resourcestate.EventUnmanaged:
		result, err = m.umanageHost(ctx, ev.HostID)
	case resourcestate.EventUpdatePassword:
		result, err = m.updateHostPassword(ctx, ev.HostID, ev.Username, ev.Password)
	default:
		data, _ := json.Marshal(PropagatedAnswer{Unsupported: true})
		return data
	}
	return encodeAnswer(result, err)
}

func encodeAnswer(result bool, err error) []byte {
	answer := PropagatedAnswer{Result: result}
	if err != nil {
		answer.Kind = fault.KindOf(err)
		answer.Error = err.Error()
	}
	// PropagatedAnswer has no field that can fail to encode
	data, _ := json.Marshal(answer)
	return data
}
