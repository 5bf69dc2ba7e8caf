/*
Package events provides an in-memory event broker for Burrow host lifecycle
notifications.

Publishers push events onto a buffered channel (100 events); a single
broadcast loop fans them out to subscriber channels (50 events each).
Delivery is best effort: a subscriber whose buffer is full misses the event
rather than stalling the publisher.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventMaintenanceEntered, events.EventMaintenanceFailed)
	for ev := range sub {
		fmt.Println(ev.Metadata[events.MetaHostID], ev.Type)
	}

# Host monitor

HostMonitor implements the agent transport's Monitor interface and is
registered with the transport at startup, so host additions and removals
appear as host.added, host.removing and host.removed. The resource manager
additionally reports every committed resource state change, which is
published as host.state.changed plus a maintenance.* event when the host
enters maintenance, returns from it, or lands in one of the error states.
*/
package events
