/*
Package log provides structured logging for Burrow using zerolog.

The package wraps a single global zerolog.Logger that is configured once at
process start with Init. Until Init is called the logger discards everything,
which keeps package tests quiet.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("resource")
	logger.Info().
		Str(log.FieldHostID, host.ID).
		Str("state", string(host.ResourceState)).
		Msg("host entered maintenance")

Component loggers copy the global logger when they are created, so long-lived
components should be constructed after Init.

# Fields

Burrow uses a small, fixed vocabulary of context fields so that log lines from
different components can be joined. The Field constants name them:

	component   subsystem name (resource, rolling, discovery, reconciler, ...)
	host_id     host record id
	cluster_id  cluster record id
	node_id     management node id
	campaign    rolling maintenance campaign id
	stage       rolling maintenance stage
*/
package log
