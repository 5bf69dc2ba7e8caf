/*
Package reconciler periodically drives hosts toward the state their last
request asked for.

Each cycle, at maintenance.check_interval:

  - hosts in PrepareForMaintenance, ErrorInPrepareForMaintenance or
    ErrorInMaintenance get CheckAndMaintain, which moves them to Maintenance
    once their VMs are gone or reports why they are stuck;
  - hosts registered with a deferred connection get ConnectDeferred;
  - when a ClaimSyncer is set, the ownership table is aligned with the
    ManagementServerID of every live host (followers skip this).

A failure on one host is logged and counted in
burrow_reconciliation_actions_total; the cycle moves on and the host is
tried again next time. The reconciler reports itself unhealthy on the
health endpoint while its last cycle had errors.
*/
package reconciler
