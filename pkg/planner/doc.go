// Package planner chooses where a VM goes when its host is evacuated.
//
// FirstFit lists the Up and Enabled compute hosts of the requested cluster
// (or zone, for cross-cluster moves), orders them by how many VMs they carry
// and returns the first that matches the VM's host tags, has the CPU cores
// and speed, is below the guest limit, has free CPU and memory under the
// cluster's overcommit ratios, offers a local pool when the VM needs one and
// passes the affinity chain. When nothing fits the error carries
// fault.KindInsufficientCapacity.
package planner
