package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

func (x *Executor) CreateNexus(ctx context.Context, spec types.NexusSpec) (types.NexusSpec, error) {
	seq := x.Reg.Nexuses.Sequencer(spec.UUID)
	if err := seq.Lock(ctx); err != nil {
		return types.NexusSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Nexuses.GetSpec(spec.UUID)
	if !ok {
		current = spec
		current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusCreating}
	}

	txn := sequencer.NexusTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.NexusOperation{Kind: types.NexusOpCreate}); err != nil {
		observeOpStart("Nexus", err)
		return types.NexusSpec{}, err
	}

	x.Reg.Nexuses.PutSpec(spec.UUID, current)
	if err := x.persist(ctx, registry.KindNexusSpec, spec.UUID, current); err != nil {
		return types.NexusSpec{}, err
	}

	endpoint, err := x.nodeEndpoint(current.NodeID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, connector.MethodCreateNexus, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Nexus", string(types.NexusOpCreate), start, callErr)

	x.Reg.Nexuses.PutSpec(spec.UUID, current)
	if persistErr := x.persist(ctx, registry.KindNexusSpec, spec.UUID, current); persistErr != nil {
		return current, persistErr
	}
	if callErr == nil {
		x.PublishEvent(types.KindNexus, events.Created, spec.UUID, "nexus created")
	}
	return current, callErr
}

func (x *Executor) DestroyNexus(ctx context.Context, id string) error {
	err := x.nexusOp(ctx, id, types.NexusOperation{Kind: types.NexusOpDestroy}, connector.MethodDestroyNexus)
	if err == nil {
		x.PublishEvent(types.KindNexus, events.Deleted, id, "nexus destroyed")
	}
	return err
}

func (x *Executor) ShutdownNexus(ctx context.Context, id string) error {
	return x.nexusOp(ctx, id, types.NexusOperation{Kind: types.NexusOpShutdown}, connector.MethodShutdownNexus)
}

func (x *Executor) ShareNexus(ctx context.Context, id string, proto types.ShareProtocol) (types.NexusSpec, error) {
	return x.nexusOpResult(ctx, id, types.NexusOperation{Kind: types.NexusOpShare, Share: proto}, connector.MethodShareNexus)
}

func (x *Executor) UnshareNexus(ctx context.Context, id string) (types.NexusSpec, error) {
	return x.nexusOpResult(ctx, id, types.NexusOperation{Kind: types.NexusOpUnshare}, connector.MethodUnshareNexus)
}

func (x *Executor) AddChild(ctx context.Context, id string, child types.NexusChild) (types.NexusSpec, error) {
	return x.nexusOpResult(ctx, id, types.NexusOperation{Kind: types.NexusOpAddChild, Child: child}, connector.MethodAddChild)
}

func (x *Executor) RemoveChild(ctx context.Context, id string, child types.NexusChild) (types.NexusSpec, error) {
	return x.nexusOpResult(ctx, id, types.NexusOperation{Kind: types.NexusOpRemoveChild, Child: child}, connector.MethodRemoveChild)
}

// DisownNexus clears the nexus's volume owner. Ownership is a
// cross-reference field, not a pending operation: the mutation happens
// directly under the sequencer with no data-plane call. Idempotent:
// disowning an unowned or absent nexus is a no-op.
func (x *Executor) DisownNexus(ctx context.Context, id string) error {
	seq := x.Reg.Nexuses.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Nexuses.GetSpec(id)
	if !ok || current.VolumeOwner == "" {
		return nil
	}
	current.DisownedByVolume()
	x.Reg.Nexuses.PutSpec(id, current)
	return x.persist(ctx, registry.KindNexusSpec, id, current)
}

func (x *Executor) ownNexus(ctx context.Context, id, volumeID string) error {
	seq := x.Reg.Nexuses.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Nexuses.GetSpec(id)
	if !ok {
		return errs.NotFoundErr("Nexus", id)
	}
	if current.VolumeOwner == volumeID {
		return nil
	}
	current.VolumeOwner = volumeID
	x.Reg.Nexuses.PutSpec(id, current)
	return x.persist(ctx, registry.KindNexusSpec, id, current)
}

func (x *Executor) nexusOp(ctx context.Context, id string, op types.NexusOperation, method string) error {
	_, err := x.nexusOpResult(ctx, id, op, method)
	return err
}

func (x *Executor) nexusOpResult(ctx context.Context, id string, op types.NexusOperation, method string) (types.NexusSpec, error) {
	seq := x.Reg.Nexuses.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return types.NexusSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Nexuses.GetSpec(id)
	if !ok {
		return types.NexusSpec{}, errs.NotFoundErr("Nexus", id)
	}

	txn := sequencer.NexusTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(op); err != nil {
		observeOpStart("Nexus", err)
		return types.NexusSpec{}, err
	}

	x.Reg.Nexuses.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
		return types.NexusSpec{}, err
	}

	endpoint, err := x.nodeEndpoint(current.NodeID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, method, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Nexus", string(op.Kind), start, callErr)

	x.Reg.Nexuses.PutSpec(id, current)
	if persistErr := x.persist(ctx, registry.KindNexusSpec, id, current); persistErr != nil {
		return current, persistErr
	}
	return current, callErr
}
