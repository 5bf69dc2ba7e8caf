/*
Package resource is the administrative front of the host lifecycle.

Manager owns every ResourceState change. ResourceStateTransitTo runs the
state machine, then performs the compare-and-swap of the stored state and
the capacity row flip in one store transaction, so concurrent writers lose
with a Conflict instead of overwriting each other.

The maintenance flow:

	Maintain                 Enabled|Disabled --> PrepareForMaintenance
	                         schedules HA work for every running VM
	CheckAndMaintain         PrepareForMaintenance --> Maintenance
	                         or ErrorInMaintenance / ErrorInPrepareForMaintenance
	CancelMaintenance        any maintenance state --> Enabled
	DeleteHost               Maintenance|Degraded|Error --> removed

Only one host per cluster may be preparing at a time. The check runs again
inside the transition transaction.

Operations on a host whose agent connection is owned by another
management server are forwarded over a ClusterChannel to that peer, which
runs them through HandlePropagatedEvent and never forwards again.
*/
package resource
