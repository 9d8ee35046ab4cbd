package registry

import (
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// PoolRegistry is the Spec+State cache pair for Pool resources.
type PoolRegistry struct {
	specs  *specCache[types.PoolSpec]
	states *stateCache[types.PoolState]
}

func newPoolRegistry() *PoolRegistry {
	return &PoolRegistry{specs: newSpecCache[types.PoolSpec](), states: newStateCache[types.PoolState]()}
}

// GetSpec returns a snapshot of the Pool's Spec and its sequencer.
func (r *PoolRegistry) GetSpec(id string) (types.PoolSpec, *sequencer.Sequencer, bool) {
	return r.specs.get(id)
}

// Sequencer returns (creating if needed) the Pool's sequencer slot.
func (r *PoolRegistry) Sequencer(id string) *sequencer.Sequencer { return r.specs.sequencer(id) }

// PutSpec writes a Pool's Spec.
func (r *PoolRegistry) PutSpec(id string, spec types.PoolSpec) { r.specs.put(id, spec) }

// DeleteSpec drops a Pool's Spec entirely. Caller must have proven the
// resource quiesced in State first.
func (r *PoolRegistry) DeleteSpec(id string) { r.specs.delete(id); r.states.delete(id) }

// ListSpecs returns every known Pool Spec.
func (r *PoolRegistry) ListSpecs() []types.PoolSpec { return r.specs.list() }

// ByNode filters Pool Specs to those owned by nodeID.
func (r *PoolRegistry) ByNode(nodeID string) []types.PoolSpec {
	return filter(r.specs.list(), func(p types.PoolSpec) bool { return p.NodeID == nodeID })
}

// GetState returns the Pool's latest observed State.
func (r *PoolRegistry) GetState(id string) (types.PoolState, bool) { return r.states.get(id) }

// PutState records a freshly observed Pool State.
func (r *PoolRegistry) PutState(id string, state types.PoolState) { r.states.put(id, state) }

// Get returns the Pool Spec by id or a NotFound error, for RPC handlers
// that need a resolved resource rather than an ok flag.
func (r *PoolRegistry) Get(id string) (types.PoolSpec, error) {
	spec, _, ok := r.specs.get(id)
	if !ok {
		return types.PoolSpec{}, errs.NotFoundErr("Pool", id)
	}
	return spec, nil
}
