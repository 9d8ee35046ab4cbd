/*
Package types defines the core data structures of the storage control plane.

This package contains the resource model shared by every other package:
nodes, pools, replicas, nexuses, and volumes, along with the spec/status
state machine and operation records that drive reconciliation.

# Architecture

Each managed resource has two projections:

  - Spec: the desired, durable configuration. Persisted through pkg/store,
    cached in pkg/registry, mutated only through pkg/sequencer.
  - State: the observed, volatile runtime condition, refreshed from the
    data-plane nodes via pkg/connector and held only in memory.

Both projections are keyed by the resource's UUID.

# Resource Kinds

  - Node: a data-plane host; tracked for liveness via registration deadline.
  - Pool: a node-local disk container providing space for replicas.
  - Replica: a backing block object on a pool.
  - Nexus: a block device aggregating one or more children (replicas or
    raw URIs) and exposing a shared target.
  - Volume: the user-facing object binding a nexus to a replication policy.

# Spec Status

SpecStatus is a discriminated union: Creating, Created(runtime status),
Deleting, or Deleted. The runtime sub-status (Online, Degraded, Faulted,
Shutdown, Unknown) is only meaningful inside Created.

# Operations

Each Spec kind has its own OpKind (the set of mutations the sequencer can
carry in flight) and an operation record embedding the op plus its
pending result. See pkg/sequencer for how these are started, resolved,
and committed.

# Cross-References

Cross-resource references (Nexus -> Replica, Nexus -> Volume) are UUIDs,
never pointers. Disowning a reference is a field clear, not a pointer
unlink, and must be idempotent.
*/
package types
