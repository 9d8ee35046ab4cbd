/*
Package events provides a broker for resource-lifecycle notifications:
pool/replica/nexus/volume creation, deletion, and faults, plus node
registration and liveness transitions.

An Event is keyed by the resource's kind and id; the broker stamps an
event id and timestamp on publish and fans out synchronously. Delivery
is best-effort with per-subscription drop accounting: observers are
tooling (CLI watch, operator feeds) that want a push feed instead of
polling list RPCs, and are never part of the reconciliation control
flow, so a slow subscriber loses events rather than stalling a
publisher.
*/
package events
