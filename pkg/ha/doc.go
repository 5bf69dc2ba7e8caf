/*
Package ha schedules the VM work that evacuating a host requires: live
migrations, stops, HA restarts and destroys of system VMs.

WorkQueue keeps items in memory and advances them one step per Process call
(or per tick once started). A migration takes two steps: the first marks the
VM Migrating with its target host, the second lands it on the destination.
Failed items are retried until maxAttempts and then parked in StepError, where
FindFailedMigrationWork reports them to the maintenance convergence check.

	Scheduled --> Taken --> Done      (migration)
	Scheduled --> Done                (stop, restart, destroy)
	Scheduled --> Scheduled (retry) --> Error
*/
package ha
