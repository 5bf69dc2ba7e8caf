/*
Package rolling runs maintenance campaigns over many hosts.

A campaign resolves its scope (hosts, clusters, pods or zones) to the KVM
routing hosts it covers and processes them cluster by cluster, one host at
a time:

	VM state gate        any VM in flux rejects the cluster, forced or not
	disable allocation   restored when the cluster is done
	state checks         Up and Enabled
	capacity checks      every running VM fits on another host
	PreFlight            on every host before any host enters maintenance
	per host             script check, PreMaintenance, capacity re-check,
	                     Maintain and wait, Maintenance, CancelMaintenance,
	                     PostMaintenance

Each stage is a RollingMaintenanceCommand sent to the host agent and
re-sent every ping interval while the agent is unreachable or the hook is
still running. A failing stage stops the campaign unless the request is
forced, in which case the host is skipped. Running out of time always stops
it.

Campaigns live in memory only. A restart in the middle leaves hosts in
whatever state their last transition committed.
*/
package rolling
