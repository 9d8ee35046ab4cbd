package api

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/types"
)

// CreateNexusRequest asks for a new nexus on a node.
type CreateNexusRequest struct {
	UUID          string              `json:"uuid"`
	Name          string              `json:"name"`
	NodeID        string              `json:"node_id"`
	Size          uint64              `json:"size"`
	Children      []types.NexusChild  `json:"children"`
	ShareProtocol types.ShareProtocol `json:"share_protocol"`
	Managed       bool                `json:"managed"`
	VolumeOwner   string              `json:"volume_owner,omitempty"`
	NvmfConfig    *types.NvmfConfig   `json:"nvmf_config,omitempty"`
}

func (d *Dispatcher) CreateNexus(ctx context.Context, req CreateNexusRequest) (types.NexusSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("CreateNexus", start, err) }()

	if req.UUID == "" {
		err = missing("Nexus", "uuid")
		return types.NexusSpec{}, err
	}
	if req.NodeID == "" {
		err = missing("Nexus", "node_id")
		return types.NexusSpec{}, err
	}
	if req.Size == 0 {
		err = errs.New(errs.InvalidArgument, "Nexus", "InvalidArgument", "size must be non-zero")
		return types.NexusSpec{}, err
	}
	if len(req.Children) == 0 {
		err = missing("Nexus", "children")
		return types.NexusSpec{}, err
	}
	if !validShare(req.ShareProtocol) {
		err = errs.New(errs.InvalidArgument, "Nexus", "InvalidArgument", "unsupported share protocol")
		return types.NexusSpec{}, err
	}
	if _, ok := d.reg.Nodes.Get(req.NodeID); !ok {
		err = errs.NotFoundErr("Node", req.NodeID)
		return types.NexusSpec{}, err
	}
	if req.VolumeOwner != "" {
		if _, err = d.reg.Volumes.Get(req.VolumeOwner); err != nil {
			return types.NexusSpec{}, err
		}
	}
	if existing, _, ok := d.reg.Nexuses.GetSpec(req.UUID); ok && existing.SpecStatus.IsCreated() {
		err = errs.New(errs.AlreadyExists, "Nexus", "AlreadyExists", "nexus already exists")
		return types.NexusSpec{}, err
	}

	share := req.ShareProtocol
	if share == "" {
		share = types.ShareNone
	}
	spec := types.NexusSpec{
		UUID:          req.UUID,
		Name:          req.Name,
		NodeID:        req.NodeID,
		Size:          req.Size,
		Children:      req.Children,
		ShareProtocol: share,
		Managed:       req.Managed,
		VolumeOwner:   req.VolumeOwner,
		NvmfConfig:    req.NvmfConfig,
	}
	var created types.NexusSpec
	created, err = d.exec.CreateNexus(ctx, spec)
	return created, err
}

func (d *Dispatcher) DestroyNexus(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("DestroyNexus", start, err) }()

	if id == "" {
		err = missing("Nexus", "uuid")
		return err
	}
	err = d.exec.DestroyNexus(ctx, id)
	return err
}

func (d *Dispatcher) ShutdownNexus(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("ShutdownNexus", start, err) }()

	if id == "" {
		err = missing("Nexus", "uuid")
		return err
	}
	err = d.exec.ShutdownNexus(ctx, id)
	return err
}

func (d *Dispatcher) ShareNexus(ctx context.Context, id string, protocol types.ShareProtocol) (types.NexusSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("ShareNexus", start, err) }()

	if id == "" {
		err = missing("Nexus", "uuid")
		return types.NexusSpec{}, err
	}
	if protocol != types.ShareNvmf {
		err = errs.New(errs.InvalidArgument, "Nexus", "InvalidArgument", "share protocol must be Nvmf")
		return types.NexusSpec{}, err
	}
	var spec types.NexusSpec
	spec, err = d.exec.ShareNexus(ctx, id, protocol)
	return spec, err
}

func (d *Dispatcher) UnshareNexus(ctx context.Context, id string) (types.NexusSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("UnshareNexus", start, err) }()

	if id == "" {
		err = missing("Nexus", "uuid")
		return types.NexusSpec{}, err
	}
	var spec types.NexusSpec
	spec, err = d.exec.UnshareNexus(ctx, id)
	return spec, err
}

// ChildRequest identifies one child of one nexus.
type ChildRequest struct {
	UUID  string           `json:"uuid"`
	Child types.NexusChild `json:"child"`
}

func (r ChildRequest) validate() error {
	if r.UUID == "" {
		return missing("Nexus", "uuid")
	}
	if r.Child.ReplicaUUID == "" && r.Child.URI == "" {
		return missing("Nexus", "child")
	}
	return nil
}

func (d *Dispatcher) AddChild(ctx context.Context, req ChildRequest) (types.NexusSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("AddChild", start, err) }()

	if err = req.validate(); err != nil {
		return types.NexusSpec{}, err
	}
	if req.Child.ReplicaUUID != "" {
		if _, err = d.reg.Replicas.Get(req.Child.ReplicaUUID); err != nil {
			return types.NexusSpec{}, err
		}
	}
	var spec types.NexusSpec
	spec, err = d.exec.AddChild(ctx, req.UUID, req.Child)
	return spec, err
}

func (d *Dispatcher) RemoveChild(ctx context.Context, req ChildRequest) (types.NexusSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("RemoveChild", start, err) }()

	if err = req.validate(); err != nil {
		return types.NexusSpec{}, err
	}
	var spec types.NexusSpec
	spec, err = d.exec.RemoveChild(ctx, req.UUID, req.Child)
	return spec, err
}

func (d *Dispatcher) GetNexuses(ctx context.Context, filter types.Filters) ([]types.NexusSpec, error) {
	start := time.Now()
	defer observe("GetNexuses", start, nil)

	switch filter.Kind {
	case types.FilterNone, "":
		return visibleNexuses(d.reg.Nexuses.ListSpecs()), nil
	case types.FilterNode:
		return visibleNexuses(d.reg.Nexuses.ByNode(filter.NodeID)), nil
	case types.FilterVolume:
		return visibleNexuses(d.reg.Nexuses.ByVolume(filter.VolumeID)), nil
	case types.FilterReplica:
		return visibleNexuses(d.reg.Nexuses.ByReplica(filter.ReplicaID)), nil
	default:
		return nil, nil
	}
}

func visibleNexuses(specs []types.NexusSpec) []types.NexusSpec {
	out := specs[:0:0]
	for _, s := range specs {
		if !s.SpecStatus.IsDeleted() {
			out = append(out, s)
		}
	}
	return out
}
