package sequencer

import "github.com/noriteio/norite/pkg/types"

// PoolTxn adapts a *types.PoolSpec to the Transaction interface.
type PoolTxn struct {
	Spec *types.PoolSpec
}

func (t PoolTxn) PendingOp() bool { return t.Spec.Operation != nil }

func (t PoolTxn) SetOpResult(result bool) {
	if t.Spec.Operation != nil {
		t.Spec.Operation.Result = &result
	}
}

func (t PoolTxn) ClearOp() { t.Spec.Operation = nil }

func (t PoolTxn) CommitOp() {
	op := t.Spec.Operation
	if op != nil && op.Result != nil && *op.Result {
		switch op.Operation.Kind {
		case types.PoolOpCreate:
			t.Spec.SpecStatus = types.Created(types.RuntimeOnline)
		case types.PoolOpDestroy:
			t.Spec.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
		}
	}
	t.ClearOp()
}

func (t PoolTxn) StartOp(op types.PoolOperation) error {
	if err := GuardStart(t, "Pool"); err != nil {
		return err
	}
	t.Spec.Operation = &types.PoolOperationState{Operation: op}
	return nil
}
