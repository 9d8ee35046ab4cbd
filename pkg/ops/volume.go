package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// Volume operations never reach the data plane: a Volume is a purely
// control-plane binding of a nexus to a replication policy. The
// sequencer/persist discipline is the same as for data-plane-backed
// kinds so crash recovery and single-flight hold uniformly.

func (x *Executor) CreateVolume(ctx context.Context, spec types.VolumeSpec) (types.VolumeSpec, error) {
	seq := x.Reg.Volumes.Sequencer(spec.UUID)
	if err := seq.Lock(ctx); err != nil {
		return types.VolumeSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Volumes.GetSpec(spec.UUID)
	if !ok {
		current = spec
		current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusCreating}
	}

	txn := sequencer.VolumeTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.VolumeOperation{Kind: types.VolumeOpCreate}); err != nil {
		observeOpStart("Volume", err)
		return types.VolumeSpec{}, err
	}

	x.Reg.Volumes.PutSpec(spec.UUID, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, spec.UUID, current); err != nil {
		return types.VolumeSpec{}, err
	}

	txn.SetOpResult(true)
	txn.CommitOp()
	observeOpResult("Volume", string(types.VolumeOpCreate), start, nil)

	x.Reg.Volumes.PutSpec(spec.UUID, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, spec.UUID, current); err != nil {
		return current, err
	}
	x.PublishEvent(types.KindVolume, events.Created, spec.UUID, "volume created")
	return current, nil
}

// DestroyVolume tombstones a volume, disowning any nexus it still owns
// first so no dangling volume_owner reference survives the delete.
func (x *Executor) DestroyVolume(ctx context.Context, id string) error {
	for _, nexus := range x.Reg.Nexuses.ByVolume(id) {
		if err := x.DisownNexus(ctx, nexus.UUID); err != nil {
			return err
		}
	}

	seq := x.Reg.Volumes.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Volumes.GetSpec(id)
	if !ok {
		return errs.NotFoundErr("Volume", id)
	}

	txn := sequencer.VolumeTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.VolumeOperation{Kind: types.VolumeOpDestroy}); err != nil {
		observeOpStart("Volume", err)
		return err
	}

	x.Reg.Volumes.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, id, current); err != nil {
		return err
	}

	txn.SetOpResult(true)
	txn.CommitOp()
	observeOpResult("Volume", string(types.VolumeOpDestroy), start, nil)

	x.Reg.Volumes.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, id, current); err != nil {
		return err
	}
	x.PublishEvent(types.KindVolume, events.Deleted, id, "volume destroyed")
	return nil
}

// PublishVolume binds a volume to the nexus that serves it: the volume's
// target_nexus_id is set and the nexus takes the volume as its owner. The
// nexus must exist and must not already belong to a different volume.
func (x *Executor) PublishVolume(ctx context.Context, id, nexusID string) (types.VolumeSpec, error) {
	nexus, err := x.Reg.Nexuses.Get(nexusID)
	if err != nil {
		return types.VolumeSpec{}, err
	}
	if nexus.VolumeOwner != "" && nexus.VolumeOwner != id {
		return types.VolumeSpec{}, errs.New(errs.Conflict, "Nexus", "AlreadyOwned",
			"nexus is already owned by another volume")
	}

	seq := x.Reg.Volumes.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return types.VolumeSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Volumes.GetSpec(id)
	if !ok {
		return types.VolumeSpec{}, errs.NotFoundErr("Volume", id)
	}

	txn := sequencer.VolumeTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.VolumeOperation{Kind: types.VolumeOpPublish, NexusID: nexusID}); err != nil {
		observeOpStart("Volume", err)
		return types.VolumeSpec{}, err
	}

	x.Reg.Volumes.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, id, current); err != nil {
		return types.VolumeSpec{}, err
	}

	ownErr := x.ownNexus(ctx, nexusID, id)
	txn.SetOpResult(ownErr == nil)
	txn.CommitOp()
	observeOpResult("Volume", string(types.VolumeOpPublish), start, ownErr)

	x.Reg.Volumes.PutSpec(id, current)
	if persistErr := x.persist(ctx, registry.KindVolumeSpec, id, current); persistErr != nil {
		return current, persistErr
	}
	return current, ownErr
}

// UnpublishVolume clears the volume's nexus binding and disowns the
// nexus. Idempotent: unpublishing an unpublished volume is a no-op.
func (x *Executor) UnpublishVolume(ctx context.Context, id string) (types.VolumeSpec, error) {
	seq := x.Reg.Volumes.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return types.VolumeSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Volumes.GetSpec(id)
	if !ok {
		return types.VolumeSpec{}, errs.NotFoundErr("Volume", id)
	}
	if current.TargetNexusID == "" {
		return current, nil
	}
	nexusID := current.TargetNexusID

	txn := sequencer.VolumeTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.VolumeOperation{Kind: types.VolumeOpUnpublish}); err != nil {
		observeOpStart("Volume", err)
		return types.VolumeSpec{}, err
	}

	x.Reg.Volumes.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, id, current); err != nil {
		return types.VolumeSpec{}, err
	}

	disownErr := x.DisownNexus(ctx, nexusID)
	txn.SetOpResult(disownErr == nil)
	txn.CommitOp()
	observeOpResult("Volume", string(types.VolumeOpUnpublish), start, disownErr)

	x.Reg.Volumes.PutSpec(id, current)
	if persistErr := x.persist(ctx, registry.KindVolumeSpec, id, current); persistErr != nil {
		return current, persistErr
	}
	return current, disownErr
}
