package sequencer

import "github.com/noriteio/norite/pkg/types"

// NexusTxn adapts a *types.NexusSpec to the Transaction interface and
// carries the nexus commit-effect table.
type NexusTxn struct {
	Spec *types.NexusSpec
}

func (t NexusTxn) PendingOp() bool { return t.Spec.Operation != nil }

func (t NexusTxn) SetOpResult(result bool) {
	if t.Spec.Operation != nil {
		t.Spec.Operation.Result = &result
	}
}

func (t NexusTxn) ClearOp() { t.Spec.Operation = nil }

func (t NexusTxn) CommitOp() {
	op := t.Spec.Operation
	if op != nil && op.Result != nil && *op.Result {
		switch op.Operation.Kind {
		case types.NexusOpCreate:
			t.Spec.SpecStatus = types.Created(types.RuntimeOnline)
		case types.NexusOpDestroy:
			t.Spec.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
		case types.NexusOpShutdown:
			t.Spec.SpecStatus = types.Created(types.RuntimeShutdown)
		case types.NexusOpShare:
			t.Spec.ShareProtocol = op.Operation.Share
		case types.NexusOpUnshare:
			t.Spec.ShareProtocol = types.ShareNone
		case types.NexusOpAddChild:
			t.Spec.Children = append(t.Spec.Children, op.Operation.Child)
		case types.NexusOpRemoveChild:
			t.Spec.Children = removeChild(t.Spec.Children, op.Operation.Child)
		}
	}
	t.ClearOp()
}

// removeChild drops children equal to target by full value, not by
// URI alone.
func removeChild(children []types.NexusChild, target types.NexusChild) []types.NexusChild {
	out := children[:0:0]
	for _, c := range children {
		if !c.Equal(target) {
			out = append(out, c)
		}
	}
	return out
}

// StartOp begins a new nexus operation, guarded by GuardStart.
func (t NexusTxn) StartOp(op types.NexusOperation) error {
	if err := GuardStart(t, "Nexus"); err != nil {
		return err
	}
	t.Spec.Operation = &types.NexusOperationState{Operation: op}
	return nil
}
