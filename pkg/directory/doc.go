// Package directory is the read side of the host inventory.
//
// Every other component asks the Directory, not the store, for lists of
// hosts by cluster, pod, zone, type, status, resource state or hypervisor.
// Results never include soft-deleted rows and are sorted by name so callers
// see a stable order.
package directory
