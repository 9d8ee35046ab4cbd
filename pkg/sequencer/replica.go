package sequencer

import "github.com/noriteio/norite/pkg/types"

// ReplicaTxn adapts a *types.ReplicaSpec to the Transaction interface.
type ReplicaTxn struct {
	Spec *types.ReplicaSpec
}

func (t ReplicaTxn) PendingOp() bool { return t.Spec.Operation != nil }

func (t ReplicaTxn) SetOpResult(result bool) {
	if t.Spec.Operation != nil {
		t.Spec.Operation.Result = &result
	}
}

func (t ReplicaTxn) ClearOp() { t.Spec.Operation = nil }

func (t ReplicaTxn) CommitOp() {
	op := t.Spec.Operation
	if op != nil && op.Result != nil && *op.Result {
		switch op.Operation.Kind {
		case types.ReplicaOpCreate:
			t.Spec.SpecStatus = types.Created(types.RuntimeOnline)
		case types.ReplicaOpDestroy:
			t.Spec.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
		case types.ReplicaOpShare:
			t.Spec.ShareProtocol = op.Operation.Share
		case types.ReplicaOpUnshare:
			t.Spec.ShareProtocol = types.ShareNone
		}
	}
	t.ClearOp()
}

func (t ReplicaTxn) StartOp(op types.ReplicaOperation) error {
	if err := GuardStart(t, "Replica"); err != nil {
		return err
	}
	t.Spec.Operation = &types.ReplicaOperationState{Operation: op}
	return nil
}
