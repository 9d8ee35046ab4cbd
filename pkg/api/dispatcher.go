/*
Package api implements the typed RPC dispatcher: one method per
operation on the external surface, each validating its request,
resolving the target in the Spec cache, and delegating to the
service-layer executor. The dispatcher itself never holds a sequencer;
all serialization lives below it.

The methods are gRPC-shaped (context first, (response, error) return)
so a transport server can front them directly; WireError translates the
internal taxonomy to status codes at that boundary.
*/
package api

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/health"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/ops"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/types"
)

// Config carries the dispatcher's boundary policy.
type Config struct {
	// AllowedHosts, when non-empty, restricts which peer hosts may call
	// mutating methods. Empty allows all.
	AllowedHosts []string
}

// Dispatcher is the boundary component serving the typed RPC surface.
type Dispatcher struct {
	cfg     Config
	exec    *ops.Executor
	reg     *registry.Registry
	checker *health.Checker
}

// New builds a Dispatcher.
func New(cfg Config, exec *ops.Executor, checker *health.Checker) *Dispatcher {
	return &Dispatcher{cfg: cfg, exec: exec, reg: exec.Reg, checker: checker}
}

// Authorized reports whether a peer host may call mutating methods.
func (d *Dispatcher) Authorized(host string) bool {
	if len(d.cfg.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range d.cfg.AllowedHosts {
		if allowed == host {
			return true
		}
	}
	return false
}

func observe(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	metrics.APIRequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func missing(resource, field string) error {
	return errs.New(errs.MissingArgument, resource, "MissingArgument", field+" is required")
}

func validShare(p types.ShareProtocol) bool {
	return p == "" || p == types.ShareNone || p == types.ShareNvmf
}

// ProbeResponse answers the readiness probe.
type ProbeResponse struct {
	Ready bool `json:"ready"`
}

// Probe reports whether the control plane is ready to serve requests.
func (d *Dispatcher) Probe(ctx context.Context) (ProbeResponse, error) {
	return ProbeResponse{Ready: d.checker.Evaluate().Ready}, nil
}

// --- Node surface ---

// RegisterRequest is a node's self-registration heartbeat.
type RegisterRequest struct {
	ID           string `json:"id"`
	GrpcEndpoint string `json:"grpc_endpoint"`
}

func (d *Dispatcher) Register(ctx context.Context, req RegisterRequest) error {
	start := time.Now()
	var err error
	defer func() { observe("Register", start, err) }()

	if req.ID == "" {
		err = missing("Node", "id")
		return err
	}
	if req.GrpcEndpoint == "" {
		err = missing("Node", "grpc_endpoint")
		return err
	}
	_, err = d.reg.Nodes.Register(ctx, req.ID, req.GrpcEndpoint)
	return err
}

func (d *Dispatcher) Deregister(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("Deregister", start, err) }()

	if id == "" {
		err = missing("Node", "id")
		return err
	}
	err = d.reg.Nodes.Deregister(ctx, id)
	return err
}

// GetNodes lists registered nodes. Filters naming other kinds yield an
// empty, well-defined result.
func (d *Dispatcher) GetNodes(ctx context.Context, filter types.Filters) ([]registry.NodeView, error) {
	start := time.Now()
	defer observe("GetNodes", start, nil)

	all := d.reg.Nodes.List()
	switch filter.Kind {
	case types.FilterNone, "":
		return all, nil
	case types.FilterNode:
		for _, v := range all {
			if v.Spec.ID == filter.NodeID {
				return []registry.NodeView{v}, nil
			}
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// --- Pool surface ---

// CreatePoolRequest asks for a new pool on a node.
type CreatePoolRequest struct {
	ID     string   `json:"id"`
	NodeID string   `json:"node_id"`
	Disks  []string `json:"disks"`
}

func (d *Dispatcher) CreatePool(ctx context.Context, req CreatePoolRequest) (types.PoolSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("CreatePool", start, err) }()

	if req.ID == "" {
		err = missing("Pool", "id")
		return types.PoolSpec{}, err
	}
	if req.NodeID == "" {
		err = missing("Pool", "node_id")
		return types.PoolSpec{}, err
	}
	if len(req.Disks) == 0 {
		err = missing("Pool", "disks")
		return types.PoolSpec{}, err
	}
	if _, ok := d.reg.Nodes.Get(req.NodeID); !ok {
		err = errs.NotFoundErr("Node", req.NodeID)
		return types.PoolSpec{}, err
	}
	if existing, _, ok := d.reg.Pools.GetSpec(req.ID); ok && existing.SpecStatus.IsCreated() {
		err = errs.New(errs.AlreadyExists, "Pool", "AlreadyExists", "pool already exists")
		return types.PoolSpec{}, err
	}

	spec := types.PoolSpec{ID: req.ID, NodeID: req.NodeID, Disks: req.Disks}
	var created types.PoolSpec
	created, err = d.exec.CreatePool(ctx, spec)
	return created, err
}

func (d *Dispatcher) DestroyPool(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("DestroyPool", start, err) }()

	if id == "" {
		err = missing("Pool", "id")
		return err
	}
	if replicas := d.reg.Replicas.ByPool(id); len(replicas) > 0 {
		err = errs.New(errs.PreconditionFailed, "Pool", "InUse", "pool still hosts replicas")
		return err
	}
	err = d.exec.DestroyPool(ctx, id)
	return err
}

func (d *Dispatcher) GetPools(ctx context.Context, filter types.Filters) ([]types.PoolSpec, error) {
	start := time.Now()
	defer observe("GetPools", start, nil)

	switch filter.Kind {
	case types.FilterNone, "":
		return visiblePools(d.reg.Pools.ListSpecs()), nil
	case types.FilterNode:
		return visiblePools(d.reg.Pools.ByNode(filter.NodeID)), nil
	case types.FilterPool:
		if spec, _, ok := d.reg.Pools.GetSpec(filter.PoolID); ok && !spec.SpecStatus.IsDeleted() {
			return []types.PoolSpec{spec}, nil
		}
		return nil, nil
	case types.FilterNodePool:
		if spec, _, ok := d.reg.Pools.GetSpec(filter.PoolID); ok && spec.NodeID == filter.NodeID && !spec.SpecStatus.IsDeleted() {
			return []types.PoolSpec{spec}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func visiblePools(specs []types.PoolSpec) []types.PoolSpec {
	out := specs[:0:0]
	for _, s := range specs {
		if !s.SpecStatus.IsDeleted() {
			out = append(out, s)
		}
	}
	return out
}

// --- Replica surface ---

// CreateReplicaRequest asks for a new replica on a pool.
type CreateReplicaRequest struct {
	UUID          string              `json:"uuid"`
	PoolID        string              `json:"pool_id"`
	Size          uint64              `json:"size"`
	Thin          bool                `json:"thin"`
	ShareProtocol types.ShareProtocol `json:"share_protocol"`
}

func (d *Dispatcher) CreateReplica(ctx context.Context, req CreateReplicaRequest) (types.ReplicaSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("CreateReplica", start, err) }()

	if req.UUID == "" {
		err = missing("Replica", "uuid")
		return types.ReplicaSpec{}, err
	}
	if req.PoolID == "" {
		err = missing("Replica", "pool_id")
		return types.ReplicaSpec{}, err
	}
	if req.Size == 0 {
		err = errs.New(errs.InvalidArgument, "Replica", "InvalidArgument", "size must be non-zero")
		return types.ReplicaSpec{}, err
	}
	if !validShare(req.ShareProtocol) {
		err = errs.New(errs.InvalidArgument, "Replica", "InvalidArgument", "unsupported share protocol")
		return types.ReplicaSpec{}, err
	}
	if _, err = d.reg.Pools.Get(req.PoolID); err != nil {
		return types.ReplicaSpec{}, err
	}
	if existing, _, ok := d.reg.Replicas.GetSpec(req.UUID); ok && existing.SpecStatus.IsCreated() {
		err = errs.New(errs.AlreadyExists, "Replica", "AlreadyExists", "replica already exists")
		return types.ReplicaSpec{}, err
	}

	share := req.ShareProtocol
	if share == "" {
		share = types.ShareNone
	}
	spec := types.ReplicaSpec{
		UUID:          req.UUID,
		PoolID:        req.PoolID,
		Size:          req.Size,
		Thin:          req.Thin,
		ShareProtocol: share,
	}
	var created types.ReplicaSpec
	created, err = d.exec.CreateReplica(ctx, spec)
	return created, err
}

func (d *Dispatcher) DestroyReplica(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("DestroyReplica", start, err) }()

	if id == "" {
		err = missing("Replica", "uuid")
		return err
	}
	err = d.exec.DestroyReplica(ctx, id)
	return err
}

func (d *Dispatcher) ShareReplica(ctx context.Context, id string, protocol types.ShareProtocol) (types.ReplicaSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("ShareReplica", start, err) }()

	if id == "" {
		err = missing("Replica", "uuid")
		return types.ReplicaSpec{}, err
	}
	if protocol != types.ShareNvmf {
		err = errs.New(errs.InvalidArgument, "Replica", "InvalidArgument", "share protocol must be Nvmf")
		return types.ReplicaSpec{}, err
	}
	var spec types.ReplicaSpec
	spec, err = d.exec.ShareReplica(ctx, id, protocol)
	return spec, err
}

func (d *Dispatcher) UnshareReplica(ctx context.Context, id string) (types.ReplicaSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("UnshareReplica", start, err) }()

	if id == "" {
		err = missing("Replica", "uuid")
		return types.ReplicaSpec{}, err
	}
	var spec types.ReplicaSpec
	spec, err = d.exec.UnshareReplica(ctx, id)
	return spec, err
}

func (d *Dispatcher) GetReplicas(ctx context.Context, filter types.Filters) ([]types.ReplicaSpec, error) {
	start := time.Now()
	defer observe("GetReplicas", start, nil)

	byID := func(id string) []types.ReplicaSpec {
		if spec, _, ok := d.reg.Replicas.GetSpec(id); ok && !spec.SpecStatus.IsDeleted() {
			return []types.ReplicaSpec{spec}
		}
		return nil
	}

	switch filter.Kind {
	case types.FilterNone, "":
		return visibleReplicas(d.reg.Replicas.ListSpecs()), nil
	case types.FilterNode:
		var out []types.ReplicaSpec
		for _, pool := range d.reg.Pools.ByNode(filter.NodeID) {
			out = append(out, visibleReplicas(d.reg.Replicas.ByPool(pool.ID))...)
		}
		return out, nil
	case types.FilterPool:
		return visibleReplicas(d.reg.Replicas.ByPool(filter.PoolID)), nil
	case types.FilterNodePool:
		if pool, _, ok := d.reg.Pools.GetSpec(filter.PoolID); ok && pool.NodeID == filter.NodeID {
			return visibleReplicas(d.reg.Replicas.ByPool(pool.ID)), nil
		}
		return nil, nil
	case types.FilterReplica:
		return byID(filter.ReplicaID), nil
	case types.FilterNodeReplica:
		for _, spec := range byID(filter.ReplicaID) {
			if pool, _, ok := d.reg.Pools.GetSpec(spec.PoolID); ok && pool.NodeID == filter.NodeID {
				return []types.ReplicaSpec{spec}, nil
			}
		}
		return nil, nil
	case types.FilterPoolReplica:
		for _, spec := range byID(filter.ReplicaID) {
			if spec.PoolID == filter.PoolID {
				return []types.ReplicaSpec{spec}, nil
			}
		}
		return nil, nil
	case types.FilterVolume:
		var out []types.ReplicaSpec
		for _, nexus := range d.reg.Nexuses.ByVolume(filter.VolumeID) {
			for _, child := range nexus.Children {
				if child.ReplicaUUID != "" {
					out = append(out, byID(child.ReplicaUUID)...)
				}
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func visibleReplicas(specs []types.ReplicaSpec) []types.ReplicaSpec {
	out := specs[:0:0]
	for _, s := range specs {
		if !s.SpecStatus.IsDeleted() {
			out = append(out, s)
		}
	}
	return out
}
