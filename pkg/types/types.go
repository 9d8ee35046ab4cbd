package types

import "time"

// SpecStatusKind is the discriminated-union tag for a resource Spec's
// lifecycle status.
type SpecStatusKind string

const (
	SpecStatusCreating SpecStatusKind = "Creating"
	SpecStatusCreated  SpecStatusKind = "Created"
	SpecStatusDeleting SpecStatusKind = "Deleting"
	SpecStatusDeleted  SpecStatusKind = "Deleted"
)

// RuntimeStatus is the sub-status carried by a Created SpecStatus. It is
// meaningless in any other SpecStatusKind.
type RuntimeStatus string

const (
	RuntimeOnline   RuntimeStatus = "Online"
	RuntimeDegraded RuntimeStatus = "Degraded"
	RuntimeFaulted  RuntimeStatus = "Faulted"
	RuntimeShutdown RuntimeStatus = "Shutdown"
	RuntimeUnknown  RuntimeStatus = "Unknown"
)

// SpecStatus is the desired lifecycle status of a resource Spec. Runtime is
// only valid when Kind == SpecStatusCreated.
type SpecStatus struct {
	Kind    SpecStatusKind `json:"kind"`
	Runtime RuntimeStatus  `json:"runtime,omitempty"`
}

// Created builds a Created(runtime) SpecStatus.
func Created(runtime RuntimeStatus) SpecStatus {
	return SpecStatus{Kind: SpecStatusCreated, Runtime: runtime}
}

func (s SpecStatus) IsCreated() bool { return s.Kind == SpecStatusCreated }
func (s SpecStatus) IsDeleted() bool { return s.Kind == SpecStatusDeleted }

// ShareProtocol is the wire protocol a replica or nexus is exported over.
type ShareProtocol string

const (
	ShareNone ShareProtocol = "None"
	ShareNvmf ShareProtocol = "Nvmf"
)

// NodeStatus is the liveness state of a registered data-plane node.
type NodeStatus string

const (
	NodeUnknown NodeStatus = "Unknown"
	NodeOnline  NodeStatus = "Online"
	NodeOffline NodeStatus = "Offline"
	NodeDeleted NodeStatus = "Deleted"
)

// NodeSpec is the durable record of a registered data-plane node.
type NodeSpec struct {
	ID           string            `json:"id"`
	GrpcEndpoint string            `json:"grpc_endpoint"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// NodeState is the observed liveness state of a node. It is not a
// spec/sequencer resource in its own right; it lives inside the Node
// Registry (pkg/registry) alongside the watchdog timer.
type NodeState struct {
	Status           NodeStatus `json:"status"`
	LastSeen         time.Time  `json:"last_seen"`
	RegistrationDead time.Time  `json:"registration_deadline"`
}

// PoolSpec is the durable configuration of a node-local storage pool.
type PoolSpec struct {
	ID         string     `json:"id"`
	NodeID     string     `json:"node_id"`
	Disks      []string   `json:"disks"`
	SpecStatus SpecStatus `json:"spec_status"`

	Operation *PoolOperationState `json:"operation,omitempty"`
}

// PoolOpKind is the set of mutations that can be in flight on a Pool.
type PoolOpKind string

const (
	PoolOpCreate  PoolOpKind = "Create"
	PoolOpDestroy PoolOpKind = "Destroy"
)

type PoolOperation struct {
	Kind PoolOpKind `json:"kind"`
}

type PoolOperationState struct {
	Operation PoolOperation `json:"operation"`
	Result    *bool         `json:"result"`
}

// PoolState is the observed runtime condition of a pool.
type PoolState struct {
	Capacity  uint64        `json:"capacity"`
	Used      uint64        `json:"used"`
	Status    RuntimeStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ReplicaSpec is the durable configuration of a backing block object.
type ReplicaSpec struct {
	UUID          string        `json:"uuid"`
	PoolID        string        `json:"pool_id"`
	Size          uint64        `json:"size"`
	ShareProtocol ShareProtocol `json:"share_protocol"`
	Thin          bool          `json:"thin"`
	SpecStatus    SpecStatus    `json:"spec_status"`

	Operation *ReplicaOperationState `json:"operation,omitempty"`
}

type ReplicaOpKind string

const (
	ReplicaOpCreate  ReplicaOpKind = "Create"
	ReplicaOpDestroy ReplicaOpKind = "Destroy"
	ReplicaOpShare   ReplicaOpKind = "Share"
	ReplicaOpUnshare ReplicaOpKind = "Unshare"
)

type ReplicaOperation struct {
	Kind  ReplicaOpKind `json:"kind"`
	Share ShareProtocol `json:"share,omitempty"`
}

type ReplicaOperationState struct {
	Operation ReplicaOperation `json:"operation"`
	Result    *bool            `json:"result"`
}

// ReplicaState is the observed runtime condition of a replica.
type ReplicaState struct {
	ShareURI  string        `json:"share_uri,omitempty"`
	Status    RuntimeStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NexusChild is one member of a Nexus's ordered child list. A
// replica-backed child carries its owning replica's UUID and the URI it
// was shared under; a raw child carries only a URI with no
// control-plane-managed replica behind it.
type NexusChild struct {
	ReplicaUUID string `json:"replica_uuid,omitempty"`
	ShareURI    string `json:"share_uri,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Equal compares two children by full value, matching the commit-time
// equality used by RemoveChild (see pkg/sequencer).
func (c NexusChild) Equal(o NexusChild) bool {
	return c.ReplicaUUID == o.ReplicaUUID && c.ShareURI == o.ShareURI && c.URI == o.URI
}

// NexusSpec is the durable configuration of a nexus.
type NexusSpec struct {
	UUID          string        `json:"uuid"`
	Name          string        `json:"name"`
	NodeID        string        `json:"node_id"`
	Size          uint64        `json:"size"`
	Children      []NexusChild  `json:"children"`
	ShareProtocol ShareProtocol `json:"share_protocol"`
	Managed       bool          `json:"managed"`
	VolumeOwner   string        `json:"volume_owner,omitempty"`
	NvmfConfig    *NvmfConfig   `json:"nvmf_config,omitempty"`
	SpecStatus    SpecStatus    `json:"spec_status"`

	Operation *NexusOperationState `json:"operation,omitempty"`
}

// NvmfConfig carries nexus-specific NVMf export settings.
type NvmfConfig struct {
	ReservationKey uint64 `json:"reservation_key,omitempty"`
	PreemptPolicy  string `json:"preempt_policy,omitempty"`
}

// NexusOpKind is the set of mutations that can be in flight on a Nexus.
type NexusOpKind string

const (
	NexusOpCreate      NexusOpKind = "Create"
	NexusOpDestroy     NexusOpKind = "Destroy"
	NexusOpShutdown    NexusOpKind = "Shutdown"
	NexusOpShare       NexusOpKind = "Share"
	NexusOpUnshare     NexusOpKind = "Unshare"
	NexusOpAddChild    NexusOpKind = "AddChild"
	NexusOpRemoveChild NexusOpKind = "RemoveChild"
)

// NexusOperation is the tagged-union record of a pending nexus mutation.
// Only the field relevant to Kind is populated.
type NexusOperation struct {
	Kind  NexusOpKind   `json:"kind"`
	Share ShareProtocol `json:"share,omitempty"`
	Child NexusChild    `json:"child,omitempty"`
}

type NexusOperationState struct {
	Operation NexusOperation `json:"operation"`
	Result    *bool          `json:"result"`
}

// ContainsReplica reports whether any child references the given replica.
func (n *NexusSpec) ContainsReplica(uuid string) bool {
	for _, c := range n.Children {
		if c.ReplicaUUID == uuid {
			return true
		}
	}
	return false
}

// DisownedByVolume clears VolumeOwner. Idempotent.
func (n *NexusSpec) DisownedByVolume() {
	n.VolumeOwner = ""
}

// IsShutdown reports whether the nexus spec status is Created(Shutdown).
func (n *NexusSpec) IsShutdown() bool {
	return n.SpecStatus.Kind == SpecStatusCreated && n.SpecStatus.Runtime == RuntimeShutdown
}

// NexusState is the observed runtime condition of a nexus.
type NexusState struct {
	DeviceURI string        `json:"device_uri,omitempty"`
	Status    RuntimeStatus `json:"status"`
	Rebuilds  uint32        `json:"rebuilds"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// VolumePolicy describes the replication policy a volume enforces.
type VolumePolicy struct {
	ReplicaCount uint8 `json:"replica_count"`
}

// VolumeSpec is the durable configuration of a user-facing volume.
type VolumeSpec struct {
	UUID          string       `json:"uuid"`
	Policy        VolumePolicy `json:"policy"`
	TargetNexusID string       `json:"target_nexus_id,omitempty"`
	SpecStatus    SpecStatus   `json:"spec_status"`

	Operation *VolumeOperationState `json:"operation,omitempty"`
}

type VolumeOpKind string

const (
	VolumeOpCreate    VolumeOpKind = "Create"
	VolumeOpDestroy   VolumeOpKind = "Destroy"
	VolumeOpPublish   VolumeOpKind = "Publish"
	VolumeOpUnpublish VolumeOpKind = "Unpublish"
)

type VolumeOperation struct {
	Kind    VolumeOpKind `json:"kind"`
	NexusID string       `json:"nexus_id,omitempty"`
}

type VolumeOperationState struct {
	Operation VolumeOperation `json:"operation"`
	Result    *bool           `json:"result"`
}

// VolumeState is the observed runtime condition of a volume.
type VolumeState struct {
	Status    RuntimeStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateReport is one node's answer to a state poll: every pool, replica,
// and nexus runtime state it currently hosts, keyed by resource id. Each
// entry carries the node's own observation timestamp so stale reports
// can be dropped by the poller.
type StateReport struct {
	NodeID   string                  `json:"node_id"`
	Pools    map[string]PoolState    `json:"pools,omitempty"`
	Replicas map[string]ReplicaState `json:"replicas,omitempty"`
	Nexuses  map[string]NexusState   `json:"nexuses,omitempty"`
}

// ResourceKind names one of the five managed resource kinds. Used to
// tag lifecycle events published through pkg/events.
type ResourceKind string

const (
	KindNode    ResourceKind = "Node"
	KindPool    ResourceKind = "Pool"
	KindReplica ResourceKind = "Replica"
	KindNexus   ResourceKind = "Nexus"
	KindVolume  ResourceKind = "Volume"
)

// FilterKind tags the disjoint Filters union used by list RPCs.
type FilterKind string

const (
	FilterNone        FilterKind = "None"
	FilterNode        FilterKind = "Node"
	FilterPool        FilterKind = "Pool"
	FilterNodePool    FilterKind = "NodePool"
	FilterNodeReplica FilterKind = "NodeReplica"
	FilterPoolReplica FilterKind = "PoolReplica"
	FilterReplica     FilterKind = "Replica"
	FilterVolume      FilterKind = "Volume"
)

// Filters is the disjoint union of list-query filters named in the
// external interface. Only the fields relevant to Kind are populated.
type Filters struct {
	Kind      FilterKind `json:"kind"`
	NodeID    string     `json:"node_id,omitempty"`
	PoolID    string     `json:"pool_id,omitempty"`
	ReplicaID string     `json:"replica_id,omitempty"`
	VolumeID  string     `json:"volume_id,omitempty"`
}

// NoFilter is the empty/match-all filter.
func NoFilter() Filters { return Filters{Kind: FilterNone} }
