package api

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/types"
)

// CreateVolumeRequest asks for a new user-facing volume.
type CreateVolumeRequest struct {
	UUID         string `json:"uuid"`
	ReplicaCount uint8  `json:"replica_count"`
}

func (d *Dispatcher) CreateVolume(ctx context.Context, req CreateVolumeRequest) (types.VolumeSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("CreateVolume", start, err) }()

	if req.UUID == "" {
		err = missing("Volume", "uuid")
		return types.VolumeSpec{}, err
	}
	if req.ReplicaCount == 0 {
		err = errs.New(errs.InvalidArgument, "Volume", "InvalidArgument", "replica_count must be non-zero")
		return types.VolumeSpec{}, err
	}
	if existing, _, ok := d.reg.Volumes.GetSpec(req.UUID); ok && existing.SpecStatus.IsCreated() {
		err = errs.New(errs.AlreadyExists, "Volume", "AlreadyExists", "volume already exists")
		return types.VolumeSpec{}, err
	}

	spec := types.VolumeSpec{
		UUID:   req.UUID,
		Policy: types.VolumePolicy{ReplicaCount: req.ReplicaCount},
	}
	var created types.VolumeSpec
	created, err = d.exec.CreateVolume(ctx, spec)
	return created, err
}

func (d *Dispatcher) DestroyVolume(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { observe("DestroyVolume", start, err) }()

	if id == "" {
		err = missing("Volume", "uuid")
		return err
	}
	err = d.exec.DestroyVolume(ctx, id)
	return err
}

// PublishVolume binds the volume to the nexus serving it.
func (d *Dispatcher) PublishVolume(ctx context.Context, id, nexusID string) (types.VolumeSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("PublishVolume", start, err) }()

	if id == "" {
		err = missing("Volume", "uuid")
		return types.VolumeSpec{}, err
	}
	if nexusID == "" {
		err = missing("Volume", "nexus_id")
		return types.VolumeSpec{}, err
	}
	var spec types.VolumeSpec
	spec, err = d.exec.PublishVolume(ctx, id, nexusID)
	return spec, err
}

// UnpublishVolume clears the binding and disowns the nexus. Idempotent.
func (d *Dispatcher) UnpublishVolume(ctx context.Context, id string) (types.VolumeSpec, error) {
	start := time.Now()
	var err error
	defer func() { observe("UnpublishVolume", start, err) }()

	if id == "" {
		err = missing("Volume", "uuid")
		return types.VolumeSpec{}, err
	}
	var spec types.VolumeSpec
	spec, err = d.exec.UnpublishVolume(ctx, id)
	return spec, err
}

func (d *Dispatcher) GetVolumes(ctx context.Context, filter types.Filters) ([]types.VolumeSpec, error) {
	start := time.Now()
	defer observe("GetVolumes", start, nil)

	switch filter.Kind {
	case types.FilterNone, "":
		return visibleVolumes(d.reg.Volumes.ListSpecs()), nil
	case types.FilterVolume:
		if spec, _, ok := d.reg.Volumes.GetSpec(filter.VolumeID); ok && !spec.SpecStatus.IsDeleted() {
			return []types.VolumeSpec{spec}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func visibleVolumes(specs []types.VolumeSpec) []types.VolumeSpec {
	out := specs[:0:0]
	for _, s := range specs {
		if !s.SpecStatus.IsDeleted() {
			out = append(out, s)
		}
	}
	return out
}
