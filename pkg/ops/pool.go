package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// CreatePool drives a Pool from Creating to Created(Online), or rolls
// back to a Creating Spec on data-plane failure, which the reconciler
// then retries.
func (x *Executor) CreatePool(ctx context.Context, spec types.PoolSpec) (types.PoolSpec, error) {
	seq := x.Reg.Pools.Sequencer(spec.ID)
	if err := seq.Lock(ctx); err != nil {
		return types.PoolSpec{}, err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Pools.GetSpec(spec.ID)
	if !ok {
		current = spec
		current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusCreating}
	}

	txn := sequencer.PoolTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.PoolOperation{Kind: types.PoolOpCreate}); err != nil {
		observeOpStart("Pool", err)
		return types.PoolSpec{}, err
	}

	x.Reg.Pools.PutSpec(spec.ID, current)
	if err := x.persist(ctx, registry.KindPoolSpec, spec.ID, current); err != nil {
		return types.PoolSpec{}, err
	}

	endpoint, err := x.nodeEndpoint(current.NodeID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, connector.MethodCreatePool, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Pool", string(types.PoolOpCreate), start, callErr)

	x.Reg.Pools.PutSpec(spec.ID, current)
	if persistErr := x.persist(ctx, registry.KindPoolSpec, spec.ID, current); persistErr != nil {
		return current, persistErr
	}
	if callErr == nil {
		x.PublishEvent(types.KindPool, events.Created, spec.ID, "pool created")
	}
	return current, callErr
}

// DestroyPool drives a Pool from Created to Deleted.
func (x *Executor) DestroyPool(ctx context.Context, id string) error {
	seq := x.Reg.Pools.Sequencer(id)
	if err := seq.Lock(ctx); err != nil {
		return err
	}
	defer seq.Unlock()

	current, _, ok := x.Reg.Pools.GetSpec(id)
	if !ok {
		return nil
	}

	txn := sequencer.PoolTxn{Spec: &current}
	start := time.Now()
	if err := txn.StartOp(types.PoolOperation{Kind: types.PoolOpDestroy}); err != nil {
		observeOpStart("Pool", err)
		return err
	}

	x.Reg.Pools.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindPoolSpec, id, current); err != nil {
		return err
	}

	endpoint, err := x.nodeEndpoint(current.NodeID)
	var callErr error
	if err != nil {
		callErr = err
	} else {
		callErr = x.Conn.Invoke(ctx, endpoint, connector.MethodDestroyPool, current, nil)
	}

	txn.SetOpResult(callErr == nil)
	txn.CommitOp()
	observeOpResult("Pool", string(types.PoolOpDestroy), start, callErr)

	x.Reg.Pools.PutSpec(id, current)
	if persistErr := x.persist(ctx, registry.KindPoolSpec, id, current); persistErr != nil {
		return persistErr
	}
	if callErr == nil {
		x.PublishEvent(types.KindPool, events.Deleted, id, "pool destroyed")
	}
	return callErr
}
