// Package affinity holds the placement rules consulted before a VM is moved.
//
// Processors are combined with Chain; a destination is acceptable only when
// every processor in the chain accepts it.
package affinity
