package registry

import (
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/sequencer"
	"github.com/noriteio/norite/pkg/types"
)

// VolumeRegistry is the Spec+State cache pair for Volume resources.
type VolumeRegistry struct {
	specs  *specCache[types.VolumeSpec]
	states *stateCache[types.VolumeState]
}

func newVolumeRegistry() *VolumeRegistry {
	return &VolumeRegistry{specs: newSpecCache[types.VolumeSpec](), states: newStateCache[types.VolumeState]()}
}

func (r *VolumeRegistry) GetSpec(id string) (types.VolumeSpec, *sequencer.Sequencer, bool) {
	return r.specs.get(id)
}

func (r *VolumeRegistry) Sequencer(id string) *sequencer.Sequencer { return r.specs.sequencer(id) }

func (r *VolumeRegistry) PutSpec(id string, spec types.VolumeSpec) { r.specs.put(id, spec) }

func (r *VolumeRegistry) DeleteSpec(id string) { r.specs.delete(id); r.states.delete(id) }

func (r *VolumeRegistry) ListSpecs() []types.VolumeSpec { return r.specs.list() }

func (r *VolumeRegistry) GetState(id string) (types.VolumeState, bool) { return r.states.get(id) }

func (r *VolumeRegistry) PutState(id string, state types.VolumeState) { r.states.put(id, state) }

func (r *VolumeRegistry) Get(id string) (types.VolumeSpec, error) {
	spec, _, ok := r.specs.get(id)
	if !ok {
		return types.VolumeSpec{}, errs.NotFoundErr("Volume", id)
	}
	return spec, nil
}
