package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

func (x *Executor) replicaNodeEndpoint(poolID string) (string, error) {
	pool, err := x.Reg.Pools.Get(poolID)
	if err != nil {
		return "", err
	}
	return x.nodeEndpoint(pool.NodeID)
}

func (x *Executor) CreateReplica(ctx context.Context, spec types.ReplicaSpec) (types.ReplicaSpec, error) {
	seq := x.Reg.Replicas.Sequencer(spec.UUID)
	if err := seq.Lock(ctx); err != nil {
		return types.ReplicaSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Replicas.GetSpec(spec.UUID)
	if !ok {
		current = spec
		current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusCreating}
	}

	txn := sequencer.ReplicaTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.ReplicaOperation{Kind: types.ReplicaOpCreate}); err != nil {
		observeOpStart("Replica", err)
		return types.ReplicaSpec{}, err
	}

	x.Reg.Replicas.PutSpec(spec.UUID, current)
	if err := x.persist(ctx, registry.KindReplicaSpec, spec.UUID, current); err != nil {
		return types.ReplicaSpec{}, err
	}

	endpoint, err := x.replicaNodeEndpoint(current.PoolID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, connector.MethodCreateReplica, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Replica", string(types.ReplicaOpCreate), start, callErr)

	x.Reg.Replicas.PutSpec(spec.UUID, current)
	if persistErr := x.persist(ctx, registry.KindReplicaSpec, spec.UUID, current); persistErr != nil {
		return current, persistErr
	}
	if callErr == nil {
		x.PublishEvent(types.KindReplica, events.Created, spec.UUID, "replica created")
	}
	return current, callErr
}

// DestroyReplica refuses while any nexus still lists the replica as a
// child; the caller must remove the child first.
func (x *Executor) DestroyReplica(ctx context.Context, id string) error {
	if owners := x.Reg.Nexuses.ByReplica(id); len(owners) > 0 {
		return errs.New(errs.PreconditionFailed, "Replica", "InUse",
			fmt.Sprintf("replica is a child of nexus %s", owners[0].UUID))
	}
	err := x.replicaOp(ctx, id, types.ReplicaOperation{Kind: types.ReplicaOpDestroy}, connector.MethodDestroyReplica)
	if err == nil {
		x.PublishEvent(types.KindReplica, events.Deleted, id, "replica destroyed")
	}
	return err
}

func (x *Executor) ShareReplica(ctx context.Context, id string, proto types.ShareProtocol) (types.ReplicaSpec, error) {
	return x.replicaOpResult(ctx, id, types.ReplicaOperation{Kind: types.ReplicaOpShare, Share: proto}, connector.MethodShareReplica)
}

func (x *Executor) UnshareReplica(ctx context.Context, id string) (types.ReplicaSpec, error) {
	return x.replicaOpResult(ctx, id, types.ReplicaOperation{Kind: types.ReplicaOpUnshare}, connector.MethodUnshareReplica)
}

func (x *Executor) replicaOp(ctx context.Context, id string, op types.ReplicaOperation, method string) error {
	_, err := x.replicaOpResult(ctx, id, op, method)
	return err
}

func (x *Executor) replicaOpResult(ctx context.Context, id string, op types.ReplicaOperation, method string) (types.ReplicaSpec, error) {
	seq := x.Reg.Replicas.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return types.ReplicaSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Replicas.GetSpec(id)
	if !ok {
		return types.ReplicaSpec{}, errs.NotFoundErr("Replica", id)
	}

	txn := sequencer.ReplicaTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(op); err != nil {
		observeOpStart("Replica", err)
		return types.ReplicaSpec{}, err
	}

	x.Reg.Replicas.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindReplicaSpec, id, current); err != nil {
		return types.ReplicaSpec{}, err
	}

	endpoint, err := x.replicaNodeEndpoint(current.PoolID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, method, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Replica", string(op.Kind), start, callErr)

	x.Reg.Replicas.PutSpec(id, current)
	if persistErr := x.persist(ctx, registry.KindReplicaSpec, id, current); persistErr != nil {
		return current, persistErr
	}
	return current, callErr
}
