// Package capacity answers "does this host have room" and maintains the
// per-host capacity bookkeeping rows.
//
// Usage is derived from the VMs recorded against a host (and those migrating
// into it) rather than from counters, so it is always consistent with the
// VM table. Capacity rows carry an Enabled flag that mirrors whether the host
// is Enabled; a host whose rows are disabled has no capacity to offer.
package capacity
