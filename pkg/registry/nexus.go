package registry

import (
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// NexusRegistry is the Spec+State cache pair for Nexus resources.
type NexusRegistry struct {
	specs  *specCache[types.NexusSpec]
	states *stateCache[types.NexusState]
}

func newNexusRegistry() *NexusRegistry {
	return &NexusRegistry{specs: newSpecCache[types.NexusSpec](), states: newStateCache[types.NexusState]()}
}

func (r *NexusRegistry) GetSpec(id string) (types.NexusSpec, *sequencer.Sequencer, bool) {
	return r.specs.get(id)
}

func (r *NexusRegistry) Sequencer(id string) *sequencer.Sequencer { return r.specs.sequencer(id) }

func (r *NexusRegistry) PutSpec(id string, spec types.NexusSpec) { r.specs.put(id, spec) }

func (r *NexusRegistry) DeleteSpec(id string) { r.specs.delete(id); r.states.delete(id) }

func (r *NexusRegistry) ListSpecs() []types.NexusSpec { return r.specs.list() }

// ByNode filters Nexus Specs to those hosted on nodeID.
func (r *NexusRegistry) ByNode(nodeID string) []types.NexusSpec {
	return filter(r.specs.list(), func(n types.NexusSpec) bool { return n.NodeID == nodeID })
}

// ByVolume filters Nexus Specs owned by volumeID.
func (r *NexusRegistry) ByVolume(volumeID string) []types.NexusSpec {
	return filter(r.specs.list(), func(n types.NexusSpec) bool { return n.VolumeOwner == volumeID })
}

// ByReplica filters Nexus Specs referencing replicaID as a child.
func (r *NexusRegistry) ByReplica(replicaID string) []types.NexusSpec {
	return filter(r.specs.list(), func(n types.NexusSpec) bool { return n.ContainsReplica(replicaID) })
}

func (r *NexusRegistry) GetState(id string) (types.NexusState, bool) { return r.states.get(id) }

func (r *NexusRegistry) PutState(id string, state types.NexusState) { r.states.put(id, state) }

func (r *NexusRegistry) Get(id string) (types.NexusSpec, error) {
	spec, _, ok := r.specs.get(id)
	if !ok {
		return types.NexusSpec{}, errs.NotFoundErr("Nexus", id)
	}
	return spec, nil
}
