// Package registry holds the two plugin registries hypervisor modules use to
// take part in host lifecycle operations.
//
// Adapters is keyed by adapter name. Dispatch is first responder wins: the
// first adapter returning a non-nil host (or delete answer) decides, and an
// adapter error vetoes host creation outright.
//
// Listeners is keyed by lifecycle event. Every listener registered for an
// event is called, in registration order, synchronously with the operation.
//
// Both registries are constructed once and passed to the components that
// need them; each guards its map with its own RWMutex.
package registry
