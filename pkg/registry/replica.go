package registry

import (
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// ReplicaRegistry is the Spec+State cache pair for Replica resources.
type ReplicaRegistry struct {
	specs  *specCache[types.ReplicaSpec]
	states *stateCache[types.ReplicaState]
}

func newReplicaRegistry() *ReplicaRegistry {
	return &ReplicaRegistry{specs: newSpecCache[types.ReplicaSpec](), states: newStateCache[types.ReplicaState]()}
}

func (r *ReplicaRegistry) GetSpec(id string) (types.ReplicaSpec, *sequencer.Sequencer, bool) {
	return r.specs.get(id)
}

func (r *ReplicaRegistry) Sequencer(id string) *sequencer.Sequencer { return r.specs.sequencer(id) }

func (r *ReplicaRegistry) PutSpec(id string, spec types.ReplicaSpec) { r.specs.put(id, spec) }

func (r *ReplicaRegistry) DeleteSpec(id string) { r.specs.delete(id); r.states.delete(id) }

func (r *ReplicaRegistry) ListSpecs() []types.ReplicaSpec { return r.specs.list() }

// ByPool filters Replica Specs to those backed by poolID.
func (r *ReplicaRegistry) ByPool(poolID string) []types.ReplicaSpec {
	return filter(r.specs.list(), func(rp types.ReplicaSpec) bool { return rp.PoolID == poolID })
}

func (r *ReplicaRegistry) GetState(id string) (types.ReplicaState, bool) { return r.states.get(id) }

func (r *ReplicaRegistry) PutState(id string, state types.ReplicaState) { r.states.put(id, state) }

func (r *ReplicaRegistry) Get(id string) (types.ReplicaSpec, error) {
	spec, _, ok := r.specs.get(id)
	if !ok {
		return types.ReplicaSpec{}, errs.NotFoundErr("Replica", id)
	}
	return spec, nil
}
