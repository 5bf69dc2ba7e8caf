/*
Package storage provides BoltDB-backed persistence for Burrow's inventory.

The Store interface covers every record the host lifecycle code reads or
writes: zones, pods, clusters, hosts, VMs, primary storage pools and their
host mounts, capacity bookkeeping rows, dedicated-resource reservations,
annotations and private management-network addresses. All records are JSON
encoded and kept in one bucket per type:

	zones               (Zone ID)
	pods                (Pod ID)
	clusters            (Cluster ID)
	hosts               (Host ID)
	vms                 (VM ID)
	storage_pools       (Pool ID)
	pool_host_refs      (Pool ID/Host ID)
	capacity            (Host ID/Pool ID/Type)
	dedicated_resources (ID)
	annotations         (ID)
	private_ips         (IP)

# Transactions

Each method on BoltStore runs in its own bolt transaction: reads use
db.View and may run concurrently, writes use db.Update and are serialized.
Operations that must change several records atomically use Update:

	err := store.Update(func(tx storage.Store) error {
		ok, err := tx.UpdateResourceState(hostID, expected, next)
		if err != nil || !ok {
			return err
		}
		return capacity.UpdateCapacityState(tx, host, false)
	})

The tx value implements Store against the open transaction, so helpers
written against Store work the same inside and outside Update. Returning an
error from fn rolls everything back.

# Resource state writes

UpdateResourceState is a compare-and-set: the new state is written only if
the stored value still equals the expected one. A false result with a nil
error means another writer moved the host first; callers re-read and decide
again.

# Soft delete

Hosts and clusters are never physically removed. RemoveHost and
DeleteCluster stamp Removed; list and by-name lookups skip such records
while GetHost and GetCluster still return them by id.

# Errors

Missing records return a fault.KindNotFound error. Duplicate cluster names
within a pod, duplicate host GUIDs and doubly allocated private IPs return
fault.KindConflict.
*/
package storage
