package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketZones        = []byte("zones")
	bucketPods         = []byte("pods")
	bucketClusters     = []byte("clusters")
	bucketHosts        = []byte("hosts")
	bucketVMs          = []byte("vms")
	bucketPools        = []byte("storage_pools")
	bucketPoolHostRefs = []byte("pool_host_refs")
	bucketCapacity     = []byte("capacity")
	bucketDedicated    = []byte("dedicated_resources")
	bucketAnnotations  = []byte("annotations")
	bucketPrivateIPs   = []byte("private_ips")
)

var allBuckets = [][]byte{
	bucketZones,
	bucketPods,
	bucketClusters,
	bucketHosts,
	bucketVMs,
	bucketPools,
	bucketPoolHostRefs,
	bucketCapacity,
	bucketDedicated,
	bucketAnnotations,
	bucketPrivateIPs,
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Update runs fn in one read-write transaction
func (s *BoltStore) Update(fn func(tx Store) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *BoltStore) view(fn func(tx *txStore) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *BoltStore) update(fn func(tx *txStore) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// Zone operations
func (s *BoltStore) CreateZone(zone *types.Zone) error {
	return s.update(func(tx *txStore) error { return tx.CreateZone(zone) })
}

func (s *BoltStore) GetZone(id string) (zone *types.Zone, err error) {
	err = s.view(func(tx *txStore) error {
		zone, err = tx.GetZone(id)
		return err
	})
	return zone, err
}

func (s *BoltStore) GetZoneByName(name string) (zone *types.Zone, err error) {
	err = s.view(func(tx *txStore) error {
		zone, err = tx.GetZoneByName(name)
		return err
	})
	return zone, err
}

func (s *BoltStore) ListZones() (zones []*types.Zone, err error) {
	err = s.view(func(tx *txStore) error {
		zones, err = tx.ListZones()
		return err
	})
	return zones, err
}

// Pod operations
func (s *BoltStore) CreatePod(pod *types.Pod) error {
	return s.update(func(tx *txStore) error { return tx.CreatePod(pod) })
}

func (s *BoltStore) GetPod(id string) (pod *types.Pod, err error) {
	err = s.view(func(tx *txStore) error {
		pod, err = tx.GetPod(id)
		return err
	})
	return pod, err
}

func (s *BoltStore) GetPodByName(zoneID, name string) (pod *types.Pod, err error) {
	err = s.view(func(tx *txStore) error {
		pod, err = tx.GetPodByName(zoneID, name)
		return err
	})
	return pod, err
}

func (s *BoltStore) ListPods(zoneID string) (pods []*types.Pod, err error) {
	err = s.view(func(tx *txStore) error {
		pods, err = tx.ListPods(zoneID)
		return err
	})
	return pods, err
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	return s.update(func(tx *txStore) error { return tx.CreateCluster(cluster) })
}

func (s *BoltStore) GetCluster(id string) (cluster *types.Cluster, err error) {
	err = s.view(func(tx *txStore) error {
		cluster, err = tx.GetCluster(id)
		return err
	})
	return cluster, err
}

func (s *BoltStore) GetClusterByName(podID, name string) (cluster *types.Cluster, err error) {
	err = s.view(func(tx *txStore) error {
		cluster, err = tx.GetClusterByName(podID, name)
		return err
	})
	return cluster, err
}

func (s *BoltStore) ListClusters(filter ClusterFilter) (clusters []*types.Cluster, err error) {
	err = s.view(func(tx *txStore) error {
		clusters, err = tx.ListClusters(filter)
		return err
	})
	return clusters, err
}

func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	return s.update(func(tx *txStore) error { return tx.UpdateCluster(cluster) })
}

func (s *BoltStore) DeleteCluster(id string) error {
	return s.update(func(tx *txStore) error { return tx.DeleteCluster(id) })
}

// Host operations
func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.update(func(tx *txStore) error { return tx.CreateHost(host) })
}

func (s *BoltStore) GetHost(id string) (host *types.Host, err error) {
	err = s.view(func(tx *txStore) error {
		host, err = tx.GetHost(id)
		return err
	})
	return host, err
}

func (s *BoltStore) GetHostByGUID(guid string) (host *types.Host, err error) {
	err = s.view(func(tx *txStore) error {
		host, err = tx.GetHostByGUID(guid)
		return err
	})
	return host, err
}

func (s *BoltStore) ListHosts(filter HostFilter) (hosts []*types.Host, err error) {
	err = s.view(func(tx *txStore) error {
		hosts, err = tx.ListHosts(filter)
		return err
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.update(func(tx *txStore) error { return tx.UpdateHost(host) })
}

func (s *BoltStore) RemoveHost(id string) error {
	return s.update(func(tx *txStore) error { return tx.RemoveHost(id) })
}

func (s *BoltStore) UpdateResourceState(hostID string, expected, next types.ResourceState) (ok bool, err error) {
	err = s.update(func(tx *txStore) error {
		ok, err = tx.UpdateResourceState(hostID, expected, next)
		return err
	})
	return ok, err
}

// VM operations
func (s *BoltStore) CreateVM(vm *types.VM) error {
	return s.update(func(tx *txStore) error { return tx.CreateVM(vm) })
}

func (s *BoltStore) GetVM(id string) (vm *types.VM, err error) {
	err = s.view(func(tx *txStore) error {
		vm, err = tx.GetVM(id)
		return err
	})
	return vm, err
}

func (s *BoltStore) ListVMs(filter VMFilter) (vms []*types.VM, err error) {
	err = s.view(func(tx *txStore) error {
		vms, err = tx.ListVMs(filter)
		return err
	})
	return vms, err
}

func (s *BoltStore) UpdateVM(vm *types.VM) error {
	return s.update(func(tx *txStore) error { return tx.UpdateVM(vm) })
}

// Storage pool operations
func (s *BoltStore) CreateStoragePool(pool *types.StoragePool) error {
	return s.update(func(tx *txStore) error { return tx.CreateStoragePool(pool) })
}

func (s *BoltStore) GetStoragePool(id string) (pool *types.StoragePool, err error) {
	err = s.view(func(tx *txStore) error {
		pool, err = tx.GetStoragePool(id)
		return err
	})
	return pool, err
}

func (s *BoltStore) ListStoragePools(filter PoolFilter) (pools []*types.StoragePool, err error) {
	err = s.view(func(tx *txStore) error {
		pools, err = tx.ListStoragePools(filter)
		return err
	})
	return pools, err
}

func (s *BoltStore) DeleteStoragePool(id string) error {
	return s.update(func(tx *txStore) error { return tx.DeleteStoragePool(id) })
}

func (s *BoltStore) AddPoolHostRef(ref *types.StoragePoolHostRef) error {
	return s.update(func(tx *txStore) error { return tx.AddPoolHostRef(ref) })
}

func (s *BoltStore) ListPoolHostRefs(hostID string) (refs []*types.StoragePoolHostRef, err error) {
	err = s.view(func(tx *txStore) error {
		refs, err = tx.ListPoolHostRefs(hostID)
		return err
	})
	return refs, err
}

func (s *BoltStore) DeletePoolHostRefsByHost(hostID string) error {
	return s.update(func(tx *txStore) error { return tx.DeletePoolHostRefsByHost(hostID) })
}

// Capacity operations
func (s *BoltStore) PutCapacity(capacity *types.Capacity) error {
	return s.update(func(tx *txStore) error { return tx.PutCapacity(capacity) })
}

func (s *BoltStore) ListCapacity(hostID string) (rows []*types.Capacity, err error) {
	err = s.view(func(tx *txStore) error {
		rows, err = tx.ListCapacity(hostID)
		return err
	})
	return rows, err
}

func (s *BoltStore) DeleteCapacityByHost(hostID string) error {
	return s.update(func(tx *txStore) error { return tx.DeleteCapacityByHost(hostID) })
}

// Dedicated resource operations
func (s *BoltStore) CreateDedicatedResource(res *types.DedicatedResource) error {
	return s.update(func(tx *txStore) error { return tx.CreateDedicatedResource(res) })
}

func (s *BoltStore) ListDedicatedResources(hostID string) (list []*types.DedicatedResource, err error) {
	err = s.view(func(tx *txStore) error {
		list, err = tx.ListDedicatedResources(hostID)
		return err
	})
	return list, err
}

func (s *BoltStore) DeleteDedicatedResourcesByHost(hostID string) error {
	return s.update(func(tx *txStore) error { return tx.DeleteDedicatedResourcesByHost(hostID) })
}

// Annotation operations
func (s *BoltStore) CreateAnnotation(annotation *types.Annotation) error {
	return s.update(func(tx *txStore) error { return tx.CreateAnnotation(annotation) })
}

func (s *BoltStore) ListAnnotations(entityID string) (list []*types.Annotation, err error) {
	err = s.view(func(tx *txStore) error {
		list, err = tx.ListAnnotations(entityID)
		return err
	})
	return list, err
}

func (s *BoltStore) DeleteAnnotationsByEntity(entityID string) error {
	return s.update(func(tx *txStore) error { return tx.DeleteAnnotationsByEntity(entityID) })
}

// Private IP operations
func (s *BoltStore) AllocatePrivateIP(alloc *types.PrivateIPAllocation) error {
	return s.update(func(tx *txStore) error { return tx.AllocatePrivateIP(alloc) })
}

func (s *BoltStore) GetPrivateIPAllocation(ip string) (alloc *types.PrivateIPAllocation, err error) {
	err = s.view(func(tx *txStore) error {
		alloc, err = tx.GetPrivateIPAllocation(ip)
		return err
	})
	return alloc, err
}

func (s *BoltStore) ReleasePrivateIP(ip string) error {
	return s.update(func(tx *txStore) error { return tx.ReleasePrivateIP(ip) })
}

// txStore implements Store on top of a single bolt transaction
type txStore struct {
	tx *bolt.Tx
}

func (t *txStore) Update(fn func(tx Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error {
	return nil
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get[T any](tx *bolt.Tx, bucket []byte, key, kind string) (*T, error) {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return nil, fault.NotFound("%s not found", kind).WithEntity(key)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func list[T any](tx *bolt.Tx, bucket []byte, match func(*T) bool) ([]*T, error) {
	var out []*T
	err := tx.Bucket(bucket).ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		if match == nil || match(&item) {
			out = append(out, &item)
		}
		return nil
	})
	return out, err
}

func deleteWhere[T any](tx *bolt.Tx, bucket []byte, match func(*T) bool) error {
	b := tx.Bucket(bucket)
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		if match(&item) {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// Zones

func (t *txStore) CreateZone(zone *types.Zone) error {
	newID(&zone.ID)
	if zone.CreatedAt.IsZero() {
		zone.CreatedAt = time.Now()
	}
	return put(t.tx, bucketZones, zone.ID, zone)
}

func (t *txStore) GetZone(id string) (*types.Zone, error) {
	return get[types.Zone](t.tx, bucketZones, id, "zone")
}

func (t *txStore) GetZoneByName(name string) (*types.Zone, error) {
	zones, err := list(t.tx, bucketZones, func(z *types.Zone) bool { return z.Name == name })
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, fault.NotFound("zone not found").WithEntity(name)
	}
	return zones[0], nil
}

func (t *txStore) ListZones() ([]*types.Zone, error) {
	return list[types.Zone](t.tx, bucketZones, nil)
}

// Pods

func (t *txStore) CreatePod(pod *types.Pod) error {
	newID(&pod.ID)
	if pod.CreatedAt.IsZero() {
		pod.CreatedAt = time.Now()
	}
	return put(t.tx, bucketPods, pod.ID, pod)
}

func (t *txStore) GetPod(id string) (*types.Pod, error) {
	return get[types.Pod](t.tx, bucketPods, id, "pod")
}

func (t *txStore) GetPodByName(zoneID, name string) (*types.Pod, error) {
	pods, err := list(t.tx, bucketPods, func(p *types.Pod) bool {
		return p.Name == name && (zoneID == "" || p.ZoneID == zoneID)
	})
	if err != nil {
		return nil, err
	}
	if len(pods) == 0 {
		return nil, fault.NotFound("pod not found").WithEntity(name)
	}
	return pods[0], nil
}

func (t *txStore) ListPods(zoneID string) ([]*types.Pod, error) {
	return list(t.tx, bucketPods, func(p *types.Pod) bool {
		return zoneID == "" || p.ZoneID == zoneID
	})
}

// Clusters

// CreateCluster fails with KindConflict when a live cluster with the
// same name already exists in the pod
func (t *txStore) CreateCluster(cluster *types.Cluster) error {
	if existing, err := t.GetClusterByName(cluster.PodID, cluster.Name); err == nil {
		if existing.ID != cluster.ID {
			return fault.New(fault.KindConflict, "cluster %q already exists in pod", cluster.Name).WithEntity(existing.ID)
		}
	} else if !fault.Is(err, fault.KindNotFound) {
		return err
	}

	newID(&cluster.ID)
	if cluster.UUID == "" {
		cluster.UUID = uuid.New().String()
	}
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = time.Now()
	}
	return put(t.tx, bucketClusters, cluster.ID, cluster)
}

func (t *txStore) GetCluster(id string) (*types.Cluster, error) {
	return get[types.Cluster](t.tx, bucketClusters, id, "cluster")
}

func (t *txStore) GetClusterByName(podID, name string) (*types.Cluster, error) {
	clusters, err := list(t.tx, bucketClusters, func(c *types.Cluster) bool {
		return c.Removed == nil && c.PodID == podID && c.Name == name
	})
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 {
		return nil, fault.NotFound("cluster not found").WithEntity(name)
	}
	return clusters[0], nil
}

func (t *txStore) ListClusters(filter ClusterFilter) ([]*types.Cluster, error) {
	return list(t.tx, bucketClusters, filter.Matches)
}

func (t *txStore) UpdateCluster(cluster *types.Cluster) error {
	if _, err := t.GetCluster(cluster.ID); err != nil {
		return err
	}
	return put(t.tx, bucketClusters, cluster.ID, cluster)
}

func (t *txStore) DeleteCluster(id string) error {
	cluster, err := t.GetCluster(id)
	if err != nil {
		return err
	}
	now := time.Now()
	cluster.Removed = &now
	return put(t.tx, bucketClusters, id, cluster)
}

// Hosts

// CreateHost fails with KindConflict when a live host already carries the GUID
func (t *txStore) CreateHost(host *types.Host) error {
	if host.GUID != "" {
		if existing, err := t.GetHostByGUID(host.GUID); err == nil {
			if existing.ID != host.ID {
				return fault.New(fault.KindConflict, "host guid %s already registered", host.GUID).WithEntity(existing.ID)
			}
		} else if !fault.Is(err, fault.KindNotFound) {
			return err
		}
	}

	newID(&host.ID)
	if host.UUID == "" {
		host.UUID = uuid.New().String()
	}
	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now
	return put(t.tx, bucketHosts, host.ID, host)
}

// GetHost returns the record even if soft-deleted; callers check IsRemoved
func (t *txStore) GetHost(id string) (*types.Host, error) {
	return get[types.Host](t.tx, bucketHosts, id, "host")
}

func (t *txStore) GetHostByGUID(guid string) (*types.Host, error) {
	hosts, err := list(t.tx, bucketHosts, func(h *types.Host) bool {
		return !h.IsRemoved() && h.GUID == guid
	})
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fault.NotFound("host not found").WithEntity(guid)
	}
	return hosts[0], nil
}

func (t *txStore) ListHosts(filter HostFilter) ([]*types.Host, error) {
	return list(t.tx, bucketHosts, filter.Matches)
}

func (t *txStore) UpdateHost(host *types.Host) error {
	if _, err := t.GetHost(host.ID); err != nil {
		return err
	}
	host.UpdatedAt = time.Now()
	return put(t.tx, bucketHosts, host.ID, host)
}

// RemoveHost soft-deletes the host; the record stays readable by id
func (t *txStore) RemoveHost(id string) error {
	host, err := t.GetHost(id)
	if err != nil {
		return err
	}
	now := time.Now()
	host.Removed = &now
	host.Status = types.HostStatusRemoved
	host.UpdatedAt = now
	return put(t.tx, bucketHosts, id, host)
}

// UpdateResourceState writes next only if the stored state still equals
// expected. It returns false without error when another writer got there first.
func (t *txStore) UpdateResourceState(hostID string, expected, next types.ResourceState) (bool, error) {
	host, err := t.GetHost(hostID)
	if err != nil {
		return false, err
	}
	if host.IsRemoved() {
		return false, fault.NotFound("host has been removed").WithEntity(hostID)
	}
	if host.ResourceState != expected {
		return false, nil
	}
	host.ResourceState = next
	host.UpdatedAt = time.Now()
	return true, put(t.tx, bucketHosts, hostID, host)
}

// VMs

func (t *txStore) CreateVM(vm *types.VM) error {
	newID(&vm.ID)
	now := time.Now()
	if vm.CreatedAt.IsZero() {
		vm.CreatedAt = now
	}
	vm.UpdatedAt = now
	return put(t.tx, bucketVMs, vm.ID, vm)
}

func (t *txStore) GetVM(id string) (*types.VM, error) {
	return get[types.VM](t.tx, bucketVMs, id, "vm")
}

func (t *txStore) ListVMs(filter VMFilter) ([]*types.VM, error) {
	return list(t.tx, bucketVMs, filter.Matches)
}

func (t *txStore) UpdateVM(vm *types.VM) error {
	if _, err := t.GetVM(vm.ID); err != nil {
		return err
	}
	vm.UpdatedAt = time.Now()
	return put(t.tx, bucketVMs, vm.ID, vm)
}

// Storage pools

func (t *txStore) CreateStoragePool(pool *types.StoragePool) error {
	newID(&pool.ID)
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now()
	}
	return put(t.tx, bucketPools, pool.ID, pool)
}

func (t *txStore) GetStoragePool(id string) (*types.StoragePool, error) {
	return get[types.StoragePool](t.tx, bucketPools, id, "storage pool")
}

func (t *txStore) ListStoragePools(filter PoolFilter) ([]*types.StoragePool, error) {
	return list(t.tx, bucketPools, filter.Matches)
}

func (t *txStore) DeleteStoragePool(id string) error {
	return t.tx.Bucket(bucketPools).Delete([]byte(id))
}

func poolRefKey(poolID, hostID string) string {
	return poolID + "/" + hostID
}

func (t *txStore) AddPoolHostRef(ref *types.StoragePoolHostRef) error {
	return put(t.tx, bucketPoolHostRefs, poolRefKey(ref.PoolID, ref.HostID), ref)
}

func (t *txStore) ListPoolHostRefs(hostID string) ([]*types.StoragePoolHostRef, error) {
	return list(t.tx, bucketPoolHostRefs, func(r *types.StoragePoolHostRef) bool {
		return r.HostID == hostID
	})
}

func (t *txStore) DeletePoolHostRefsByHost(hostID string) error {
	return deleteWhere(t.tx, bucketPoolHostRefs, func(r *types.StoragePoolHostRef) bool {
		return r.HostID == hostID
	})
}

// Capacity

func capacityKey(c *types.Capacity) string {
	return fmt.Sprintf("%s/%s/%s", c.HostID, c.PoolID, c.Type)
}

// PutCapacity upserts the row keyed by host, pool and type
func (t *txStore) PutCapacity(capacity *types.Capacity) error {
	return put(t.tx, bucketCapacity, capacityKey(capacity), capacity)
}

func (t *txStore) ListCapacity(hostID string) ([]*types.Capacity, error) {
	return list(t.tx, bucketCapacity, func(c *types.Capacity) bool {
		return hostID == "" || c.HostID == hostID
	})
}

func (t *txStore) DeleteCapacityByHost(hostID string) error {
	return deleteWhere(t.tx, bucketCapacity, func(c *types.Capacity) bool {
		return c.HostID == hostID
	})
}

// Dedicated resources

func (t *txStore) CreateDedicatedResource(res *types.DedicatedResource) error {
	newID(&res.ID)
	return put(t.tx, bucketDedicated, res.ID, res)
}

func (t *txStore) ListDedicatedResources(hostID string) ([]*types.DedicatedResource, error) {
	return list(t.tx, bucketDedicated, func(d *types.DedicatedResource) bool {
		return hostID == "" || d.HostID == hostID
	})
}

func (t *txStore) DeleteDedicatedResourcesByHost(hostID string) error {
	return deleteWhere(t.tx, bucketDedicated, func(d *types.DedicatedResource) bool {
		return d.HostID == hostID
	})
}

// Annotations

func (t *txStore) CreateAnnotation(annotation *types.Annotation) error {
	newID(&annotation.ID)
	if annotation.CreatedAt.IsZero() {
		annotation.CreatedAt = time.Now()
	}
	return put(t.tx, bucketAnnotations, annotation.ID, annotation)
}

func (t *txStore) ListAnnotations(entityID string) ([]*types.Annotation, error) {
	return list(t.tx, bucketAnnotations, func(a *types.Annotation) bool {
		return a.EntityID == entityID
	})
}

func (t *txStore) DeleteAnnotationsByEntity(entityID string) error {
	return deleteWhere(t.tx, bucketAnnotations, func(a *types.Annotation) bool {
		return a.EntityID == entityID
	})
}

// Private IPs

// AllocatePrivateIP fails with KindConflict when another host holds the address
func (t *txStore) AllocatePrivateIP(alloc *types.PrivateIPAllocation) error {
	existing, err := t.GetPrivateIPAllocation(alloc.IP)
	if err == nil && existing.HostID != "" && existing.HostID != alloc.HostID {
		return fault.New(fault.KindConflict, "private ip %s already allocated", alloc.IP).WithEntity(existing.HostID)
	}
	if err != nil && !fault.Is(err, fault.KindNotFound) {
		return err
	}
	return put(t.tx, bucketPrivateIPs, alloc.IP, alloc)
}

func (t *txStore) GetPrivateIPAllocation(ip string) (*types.PrivateIPAllocation, error) {
	return get[types.PrivateIPAllocation](t.tx, bucketPrivateIPs, ip, "private ip")
}

func (t *txStore) ReleasePrivateIP(ip string) error {
	return t.tx.Bucket(bucketPrivateIPs).Delete([]byte(ip))
}
