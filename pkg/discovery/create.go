package discovery

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/resourcestate"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// CreateHostRequest carries what a resource reported at startup. Resource is
// nil for hosts whose agent connected on its own.
type CreateHostRequest struct {
	Startup  *agent.StartupCommand
	Resource agent.ServerResource
	Details  map[string]string
	HostTags []string
}

// CreateHostVO resolves the host's placement, lets the adapters build the
// record and persists it. A failure after the record exists forces it into
// the Error resource state and status.
func (c *Coordinator) CreateHostVO(ctx context.Context, req CreateHostRequest) (*types.Host, error) {
	startup := req.Startup
	if startup == nil || startup.GUID == "" {
		return nil, fault.InvalidParameter("startup command without a guid")
	}

	zone, err := c.zoneByIDOrName(startup.DataCenter)
	if err != nil {
		return nil, err
	}
	var pod *types.Pod
	if startup.Pod != "" {
		if pod, err = c.podByIDOrName(zone.ID, startup.Pod); err != nil {
			return nil, err
		}
	}
	var cluster *types.Cluster
	if startup.Cluster != "" {
		if pod == nil {
			return nil, fault.InvalidParameter("host %s reports cluster %s without a pod", startup.GUID, startup.Cluster)
		}
		if cluster, err = c.clusterByIDOrName(pod, startup.Cluster, startup.Hypervisor); err != nil {
			return nil, err
		}
		if cluster.Hypervisor != startup.Hypervisor {
			return nil, fault.InvalidParameter("host %s runs %s but cluster %s runs %s",
				startup.GUID, startup.Hypervisor, cluster.Name, cluster.Hypervisor)
		}
	}

	host, isNew, err := c.buildHost(startup, zone, pod, cluster, req)
	if err != nil {
		return nil, err
	}

	event := registry.EventCreateHostForConnected
	if req.Resource != nil {
		event = registry.EventCreateHostForDirectConnect
	}
	host, err = c.adapters.DispatchCreate(event, host, startup, req.Resource)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fault.New(fault.KindInternal, "no resource state adapter accepted %s host %s", startup.Hypervisor, startup.GUID)
	}

	err = c.store.Update(func(tx storage.Store) error {
		if isNew {
			if err := tx.CreateHost(host); err != nil {
				return err
			}
		} else {
			current, err := tx.GetHost(host.ID)
			if err != nil {
				return err
			}
			host.ResourceState = current.ResourceState
			if err := tx.UpdateHost(host); err != nil {
				return err
			}
		}

		if host.PrivateIP != "" {
			if err := tx.AllocatePrivateIP(&types.PrivateIPAllocation{IP: host.PrivateIP, HostID: host.ID, ZoneID: host.ZoneID}); err != nil {
				return err
			}
		}
		if cluster != nil && cluster.GUID == "" {
			current, err := tx.GetCluster(cluster.ID)
			if err != nil {
				return err
			}
			if current.GUID == "" {
				current.GUID = uuid.New().String()
				if err := tx.UpdateCluster(current); err != nil {
					return err
				}
			}
		}
		return c.capacity.CreateCapacityRows(tx, host)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist host %s: %w", startup.GUID, err)
	}

	if err := c.finishCreate(ctx, host, isNew); err != nil {
		c.forceError(host, err)
		return nil, err
	}
	return host, nil
}

func (c *Coordinator) finishCreate(ctx context.Context, host *types.Host, isNew bool) error {
	if isNew || host.ResourceState == types.ResourceStateCreating {
		if err := c.states.ResourceStateTransitTo(ctx, host, resourcestate.EventCreate, nil); err != nil {
			return err
		}
	}
	return c.transport.AgentStatusTransitTo(host, agent.StatusEventAgentConnected, c.nodeID)
}

// forceError is best effort: the original failure is what the caller sees
func (c *Coordinator) forceError(host *types.Host, cause error) {
	err := c.store.Update(func(tx storage.Store) error {
		current, err := tx.GetHost(host.ID)
		if err != nil {
			return err
		}
		current.ResourceState = types.ResourceStateError
		current.Status = types.HostStatusError
		return tx.UpdateHost(current)
	})
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldHostID, host.ID).Msg("Failed to mark host as errored")
		return
	}
	host.ResourceState = types.ResourceStateError
	host.Status = types.HostStatusError
	c.logger.Error().Err(cause).Str(log.FieldHostID, host.ID).Msg("Host registration failed, host moved to Error")
}

// buildHost prepares the record for the adapters. A live host with the same
// guid is updated in place.
func (c *Coordinator) buildHost(startup *agent.StartupCommand, zone *types.Zone, pod *types.Pod, cluster *types.Cluster, req CreateHostRequest) (*types.Host, bool, error) {
	host, err := c.store.GetHostByGUID(startup.GUID)
	isNew := false
	switch {
	case err == nil:
	case fault.Is(err, fault.KindNotFound):
		isNew = true
		host = &types.Host{
			GUID:   startup.GUID,
			Status: types.HostStatusCreating,
		}
	default:
		return nil, false, fmt.Errorf("failed to look up host %s: %w", startup.GUID, err)
	}

	host.Name = startup.Name
	if host.Name == "" {
		host.Name = startup.GUID
	}
	host.Type = startup.Type
	if host.Type == "" && req.Resource != nil {
		host.Type = req.Resource.Type()
	}
	host.ZoneID = zone.ID
	if pod != nil {
		host.PodID = pod.ID
	}
	if cluster != nil {
		host.ClusterID = cluster.ID
	}
	host.PrivateIP = startup.PrivateIP
	host.PrivateNetmask = startup.PrivateNetmask
	host.PrivateMAC = startup.PrivateMAC
	host.PublicIP = startup.PublicIP
	host.StorageIP = startup.StorageIP
	host.StorageIPDeux = startup.StorageIPDeux
	host.Hypervisor = startup.Hypervisor
	host.HypervisorVersion = startup.HypervisorVersion
	host.CPUs = startup.CPUs
	host.CPUSpeed = startup.CPUSpeed
	host.TotalMemory = startup.Memory
	host.Capabilities = startup.Capabilities
	host.Version = startup.Version
	host.Tags = mergeTags(req.HostTags, startup.HostTags)

	for k, v := range startup.Details {
		host.SetDetail(k, v)
	}
	for k, v := range req.Details {
		host.SetDetail(k, v)
	}
	return host, isNew, nil
}

// createHostAndAgent registers a direct-connect resource and brings its
// agent online: startup, CreateHostVO, handshake, InternalCreated
func (c *Coordinator) createHostAndAgent(ctx context.Context, resource agent.ServerResource, details map[string]string, hostTags []string) (*types.Host, error) {
	host, err := c.createHost(ctx, resource, details, hostTags)
	if err != nil {
		return nil, err
	}
	if err := c.connect(ctx, host, resource); err != nil {
		return nil, err
	}
	return host, nil
}

func (c *Coordinator) createHost(ctx context.Context, resource agent.ServerResource, details map[string]string, hostTags []string) (*types.Host, error) {
	cmds, err := resource.Startup(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindAgentUnavailable, err, "resource failed to start")
	}
	if len(cmds) == 0 {
		return nil, fault.New(fault.KindAgentUnavailable, "resource reported nothing at startup")
	}

	return c.CreateHostVO(ctx, CreateHostRequest{
		Startup:  cmds[0],
		Resource: resource,
		Details:  details,
		HostTags: hostTags,
	})
}

func (c *Coordinator) connect(ctx context.Context, host *types.Host, resource agent.ServerResource) error {
	if err := c.transport.Connect(ctx, host, resource); err != nil {
		c.forceError(host, err)
		return fmt.Errorf("failed to connect host %s: %w", host.ID, err)
	}
	if err := c.states.ResourceStateTransitTo(ctx, host, resourcestate.EventInternalCreated, nil); err != nil {
		c.forceError(host, err)
		return err
	}

	c.transport.NotifyMonitorsOfNewlyAddedHost(host.ID)
	metrics.HostsDiscovered.WithLabelValues(string(host.Hypervisor)).Inc()
	c.logger.Info().
		Str(log.FieldHostID, host.ID).
		Str("name", host.Name).
		Str(log.FieldClusterID, host.ClusterID).
		Msg("Host added")
	return nil
}

// CreateHostAndAgentDeferred registers a resource of a cluster that is being
// populated in bulk. Only the first host of the cluster connects right away;
// the others are recorded as Disconnected with deferred.connect set and are
// connected later by ConnectDeferred.
//
// The first-in-cluster check counts live rows under a process-wide lock, so
// two management servers registering the same new cluster at once may both
// treat one of their hosts as first. That race is accepted.
func (c *Coordinator) CreateHostAndAgentDeferred(ctx context.Context, resource agent.ServerResource, details map[string]string, hostTags []string) (*types.Host, error) {
	c.addHostLock.Lock()
	host, first, err := c.createDeferred(ctx, resource, details, hostTags)
	c.addHostLock.Unlock()
	if err != nil {
		return nil, err
	}

	if first {
		if err := c.connect(ctx, host, resource); err != nil {
			return nil, err
		}
		return host, nil
	}

	c.transport.Attach(host.ID, resource)
	err = c.store.Update(func(tx storage.Store) error {
		current, err := tx.GetHost(host.ID)
		if err != nil {
			return err
		}
		current.SetDetail(types.DetailDeferredConnect, "true")
		return tx.UpdateHost(current)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark host %s deferred: %w", host.ID, err)
	}
	if err := c.transport.AgentStatusTransitTo(host, agent.StatusEventAgentDisconnected, c.nodeID); err != nil {
		return nil, err
	}
	host.SetDetail(types.DetailDeferredConnect, "true")

	c.logger.Info().Str(log.FieldHostID, host.ID).Str(log.FieldClusterID, host.ClusterID).Msg("Host registered, connection deferred")
	return host, nil
}

func (c *Coordinator) createDeferred(ctx context.Context, resource agent.ServerResource, details map[string]string, hostTags []string) (*types.Host, bool, error) {
	host, err := c.createHost(ctx, resource, details, hostTags)
	if err != nil {
		return nil, false, err
	}
	if host.ClusterID == "" {
		return host, true, nil
	}
	count, err := c.dir.CountHostsInCluster(host.ClusterID)
	if err != nil {
		return nil, false, err
	}
	return host, count <= 1, nil
}

// ConnectDeferred completes the handshake of a host registered by
// CreateHostAndAgentDeferred
func (c *Coordinator) ConnectDeferred(ctx context.Context, hostID string) error {
	host, err := c.dir.Get(hostID)
	if err != nil {
		return err
	}
	if host.Detail(types.DetailDeferredConnect) != "true" {
		return fault.Precondition("host is not waiting for a deferred connection").WithEntity(hostID)
	}

	if err := c.transport.Reconnect(ctx, hostID); err != nil {
		return fmt.Errorf("failed to connect deferred host %s: %w", hostID, err)
	}

	err = c.store.Update(func(tx storage.Store) error {
		current, err := tx.GetHost(hostID)
		if err != nil {
			return err
		}
		delete(current.Details, types.DetailDeferredConnect)
		return tx.UpdateHost(current)
	})
	if err != nil {
		return err
	}

	host, err = c.dir.Get(hostID)
	if err != nil {
		return err
	}
	if err := c.states.ResourceStateTransitTo(ctx, host, resourcestate.EventInternalCreated, nil); err != nil {
		return err
	}
	c.transport.NotifyMonitorsOfNewlyAddedHost(hostID)
	metrics.HostsDiscovered.WithLabelValues(string(host.Hypervisor)).Inc()
	return nil
}

func (c *Coordinator) zoneByIDOrName(ref string) (*types.Zone, error) {
	if ref == "" {
		return nil, fault.InvalidParameter("host did not report a zone")
	}
	if zone, err := c.store.GetZone(ref); err == nil {
		return zone, nil
	}
	zone, err := c.store.GetZoneByName(ref)
	if err != nil {
		return nil, fault.InvalidParameter("zone %s does not exist", ref)
	}
	return zone, nil
}

func (c *Coordinator) podByIDOrName(zoneID, ref string) (*types.Pod, error) {
	if pod, err := c.store.GetPod(ref); err == nil && pod.ZoneID == zoneID {
		return pod, nil
	}
	pod, err := c.store.GetPodByName(zoneID, ref)
	if err != nil {
		return nil, fault.InvalidParameter("pod %s does not exist in zone %s", ref, zoneID)
	}
	return pod, nil
}

func (c *Coordinator) clusterByIDOrName(pod *types.Pod, ref string, hypervisor types.HypervisorType) (*types.Cluster, error) {
	if cluster, err := c.store.GetCluster(ref); err == nil && cluster.Removed == nil && cluster.PodID == pod.ID {
		return cluster, nil
	}
	cluster, _, err := c.findOrCreateCluster(pod, ref, hypervisor)
	return cluster, err
}
