package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// Redrive methods re-drive a resource whose Spec carries an unfinished
// transaction: either an operation with a recorded result whose commit
// never persisted, or an operation interrupted before the data plane
// answered (result nil). Data-plane calls are idempotent on
// {resource_uuid, op_kind}, so re-invoking an already-performed
// operation converges to the same committed Spec.
//
// The caller must hold the resource's sequencer; the reconciler
// acquires it with TryLock so a busy resource is skipped, not re-driven
// concurrently with an RPC.

func nexusMethod(k types.NexusOpKind) string {
	switch k {
	case types.NexusOpCreate:
		return connector.MethodCreateNexus
	case types.NexusOpDestroy:
		return connector.MethodDestroyNexus
	case types.NexusOpShutdown:
		return connector.MethodShutdownNexus
	case types.NexusOpShare:
		return connector.MethodShareNexus
	case types.NexusOpUnshare:
		return connector.MethodUnshareNexus
	case types.NexusOpAddChild:
		return connector.MethodAddChild
	default:
		return connector.MethodRemoveChild
	}
}

func replicaMethod(k types.ReplicaOpKind) string {
	switch k {
	case types.ReplicaOpCreate:
		return connector.MethodCreateReplica
	case types.ReplicaOpDestroy:
		return connector.MethodDestroyReplica
	case types.ReplicaOpShare:
		return connector.MethodShareReplica
	default:
		return connector.MethodUnshareReplica
	}
}

func poolMethod(k types.PoolOpKind) string {
	if k == types.PoolOpCreate {
		return connector.MethodCreatePool
	}
	return connector.MethodDestroyPool
}

// RedriveNexus completes a nexus's unfinished transaction, or issues a
// fresh Create when the Spec is still Creating with no operation
// pending. Returns whether any action was taken.
func (x *Executor) RedriveNexus(ctx context.Context, id string) (bool, error) {
	current, _, ok := x.Reg.Nexuses.GetSpec(id)
	if !ok {
		return false, nil
	}

	txn := sequencer.NexusTxn{Spec: &current}

	if current.Operation != nil {
		op := current.Operation.Operation
		start := time.Now()
		var callErr error
		if current.Operation.Result == nil {
			callErr = x.invokeNexus(ctx, &current, nexusMethod(op.Kind))
			txn.SetOpResult(callErr == nil)
		}
		txn.CommitOp()
		observeOpResult("Nexus", string(op.Kind), start, callErr)

		x.Reg.Nexuses.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	if current.SpecStatus.Kind == types.SpecStatusCreating {
		start := time.Now()
		if err := txn.StartOp(types.NexusOperation{Kind: types.NexusOpCreate}); err != nil {
			return false, err
		}
		x.Reg.Nexuses.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
			return true, err
		}

		callErr := x.invokeNexus(ctx, &current, connector.MethodCreateNexus)
		txn.SetOpResult(callErr == nil)
		txn.CommitOp()
		observeOpResult("Nexus", string(types.NexusOpCreate), start, callErr)

		x.Reg.Nexuses.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	return false, nil
}

func (x *Executor) invokeNexus(ctx context.Context, spec *types.NexusSpec, method string) error {
	endpoint, err := x.nodeEndpoint(spec.NodeID)
	if err != nil {
		return err
	}
	return x.Conn.Invoke(ctx, endpoint, method, spec, nil)
}

// RedriveReplica is RedriveNexus for replicas.
func (x *Executor) RedriveReplica(ctx context.Context, id string) (bool, error) {
	current, _, ok := x.Reg.Replicas.GetSpec(id)
	if !ok {
		return false, nil
	}

	txn := sequencer.ReplicaTxn{Spec: &current}

	if current.Operation != nil {
		op := current.Operation.Operation
		start := time.Now()
		var callErr error
		if current.Operation.Result == nil {
			callErr = x.invokeReplica(ctx, &current, replicaMethod(op.Kind))
			txn.SetOpResult(callErr == nil)
		}
		txn.CommitOp()
		observeOpResult("Replica", string(op.Kind), start, callErr)

		x.Reg.Replicas.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindReplicaSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	if current.SpecStatus.Kind == types.SpecStatusCreating {
		start := time.Now()
		if err := txn.StartOp(types.ReplicaOperation{Kind: types.ReplicaOpCreate}); err != nil {
			return false, err
		}
		x.Reg.Replicas.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindReplicaSpec, id, current); err != nil {
			return true, err
		}

		callErr := x.invokeReplica(ctx, &current, connector.MethodCreateReplica)
		txn.SetOpResult(callErr == nil)
		txn.CommitOp()
		observeOpResult("Replica", string(types.ReplicaOpCreate), start, callErr)

		x.Reg.Replicas.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindReplicaSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	return false, nil
}

func (x *Executor) invokeReplica(ctx context.Context, spec *types.ReplicaSpec, method string) error {
	endpoint, err := x.replicaNodeEndpoint(spec.PoolID)
	if err != nil {
		return err
	}
	return x.Conn.Invoke(ctx, endpoint, method, spec, nil)
}

// RedrivePool is RedriveNexus for pools.
func (x *Executor) RedrivePool(ctx context.Context, id string) (bool, error) {
	current, _, ok := x.Reg.Pools.GetSpec(id)
	if !ok {
		return false, nil
	}

	txn := sequencer.PoolTxn{Spec: &current}

	if current.Operation != nil {
		op := current.Operation.Operation
		start := time.Now()
		var callErr error
		if current.Operation.Result == nil {
			callErr = x.invokePool(ctx, &current, poolMethod(op.Kind))
			txn.SetOpResult(callErr == nil)
		}
		txn.CommitOp()
		observeOpResult("Pool", string(op.Kind), start, callErr)

		x.Reg.Pools.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindPoolSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	if current.SpecStatus.Kind == types.SpecStatusCreating {
		start := time.Now()
		if err := txn.StartOp(types.PoolOperation{Kind: types.PoolOpCreate}); err != nil {
			return false, err
		}
		x.Reg.Pools.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindPoolSpec, id, current); err != nil {
			return true, err
		}

		callErr := x.invokePool(ctx, &current, connector.MethodCreatePool)
		txn.SetOpResult(callErr == nil)
		txn.CommitOp()
		observeOpResult("Pool", string(types.PoolOpCreate), start, callErr)

		x.Reg.Pools.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindPoolSpec, id, current); err != nil {
			return true, err
		}
		return true, callErr
	}

	return false, nil
}

func (x *Executor) invokePool(ctx context.Context, spec *types.PoolSpec, method string) error {
	endpoint, err := x.nodeEndpoint(spec.NodeID)
	if err != nil {
		return err
	}
	return x.Conn.Invoke(ctx, endpoint, method, spec, nil)
}

// RedriveVolume completes a volume's unfinished transaction. Volumes
// have no data-plane leg, so an interrupted operation is simply
// committed as successful.
func (x *Executor) RedriveVolume(ctx context.Context, id string) (bool, error) {
	current, _, ok := x.Reg.Volumes.GetSpec(id)
	if !ok {
		return false, nil
	}

	txn := sequencer.VolumeTxn{Spec: &current}

	switch {
	case current.Operation != nil:
		op := current.Operation.Operation
		start := time.Now()
		if current.Operation.Result == nil {
			txn.SetOpResult(true)
		}
		txn.CommitOp()
		observeOpResult("Volume", string(op.Kind), start, nil)
	case current.SpecStatus.Kind == types.SpecStatusCreating:
		start := time.Now()
		if err := txn.StartOp(types.VolumeOperation{Kind: types.VolumeOpCreate}); err != nil {
			return false, err
		}
		txn.SetOpResult(true)
		txn.CommitOp()
		observeOpResult("Volume", string(types.VolumeOpCreate), start, nil)
	default:
		return false, nil
	}

	x.Reg.Volumes.PutSpec(id, current)
	if err := x.persist(ctx, registry.KindVolumeSpec, id, current); err != nil {
		return true, err
	}
	return true, nil
}

// ReplaceChild swaps a faulted child for a replacement in a single
// sequencer hold: RemoveChild committed first, then AddChild, each with
// its own data-plane leg. A nil replacement only removes.
func (x *Executor) ReplaceChild(ctx context.Context, id string, faulted types.NexusChild, replacement *types.NexusChild) error {
	current, _, ok := x.Reg.Nexuses.GetSpec(id)
	if !ok {
		return nil
	}

	steps := []types.NexusOperation{{Kind: types.NexusOpRemoveChild, Child: faulted}}
	if replacement != nil {
		steps = append(steps, types.NexusOperation{Kind: types.NexusOpAddChild, Child: *replacement})
	}

	for _, op := range steps {
		txn := sequencer.NexusTxn{Spec: &current}
		start := time.Now()
		if err := txn.StartOp(op); err != nil {
			return err
		}
		x.Reg.Nexuses.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
			return err
		}

		callErr := x.invokeNexus(ctx, &current, nexusMethod(op.Kind))
		txn.SetOpResult(callErr == nil)
		txn.CommitOp()
		observeOpResult("Nexus", string(op.Kind), start, callErr)

		x.Reg.Nexuses.PutSpec(id, current)
		if err := x.persist(ctx, registry.KindNexusSpec, id, current); err != nil {
			return err
		}
		if callErr != nil {
			return callErr
		}
	}
	return nil
}
