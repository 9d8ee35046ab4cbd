/*
Package log provides structured logging for the control plane, built on
zerolog.

Init rebuilds the root Logger once at startup from the agent's
--log-level and --log-json flags; before that a stderr console logger
is in place so early failures are visible. Packages derive child
loggers carrying the fields a line concerns: WithComponent for
subsystems, WithNode for data-plane nodes, WithResource for a specific
pool/replica/nexus/volume.
*/
package log
