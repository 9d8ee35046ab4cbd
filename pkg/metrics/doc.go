/*
Package metrics defines the control plane's Prometheus metric families
and the helpers that keep them current.

Families are grouped by concern: resource counts per spec status,
cluster-lease/raft standing, sequencer operation throughput and
conflicts, reconciler cycle timing and actions, API request rates, and
node-watchdog expiries. Counters and histograms are incremented at call
sites; gauges that are derived from cached state are refreshed by the
Collector on a timer.

Everything is exposed over HTTP via Handler, mounted on the agent's
metrics listener next to /healthz.
*/
package metrics
