package sequencer

import "github.com/noriteio/norite/pkg/types"

// VolumeTxn adapts a *types.VolumeSpec to the Transaction interface.
type VolumeTxn struct {
	Spec *types.VolumeSpec
}

func (t VolumeTxn) PendingOp() bool { return t.Spec.Operation != nil }

func (t VolumeTxn) SetOpResult(result bool) {
	if t.Spec.Operation != nil {
		t.Spec.Operation.Result = &result
	}
}

func (t VolumeTxn) ClearOp() { t.Spec.Operation = nil }

func (t VolumeTxn) CommitOp() {
	op := t.Spec.Operation
	if op != nil && op.Result != nil && *op.Result {
		switch op.Operation.Kind {
		case types.VolumeOpCreate:
			t.Spec.SpecStatus = types.Created(types.RuntimeOnline)
		case types.VolumeOpDestroy:
			t.Spec.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
		case types.VolumeOpPublish:
			t.Spec.TargetNexusID = op.Operation.NexusID
		case types.VolumeOpUnpublish:
			t.Spec.TargetNexusID = ""
		}
	}
	t.ClearOp()
}

func (t VolumeTxn) StartOp(op types.VolumeOperation) error {
	if err := GuardStart(t, "Volume"); err != nil {
		return err
	}
	t.Spec.Operation = &types.VolumeOperationState{Operation: op}
	return nil
}
