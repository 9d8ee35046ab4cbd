package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noriteio/norite/pkg/types"
)

func TestNexusTxn_CommitCreate(t *testing.T) {
	spec := &types.NexusSpec{UUID: "n1", SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating}}
	txn := NexusTxn{Spec: spec}

	require.NoError(t, txn.StartOp(types.NexusOperation{Kind: types.NexusOpCreate}))
	assert.True(t, txn.PendingOp())

	// A second StartOp while one is pending is rejected.
	err := txn.StartOp(types.NexusOperation{Kind: types.NexusOpShare})
	require.Error(t, err)

	txn.SetOpResult(true)
	txn.CommitOp()

	assert.False(t, txn.PendingOp())
	assert.Equal(t, types.Created(types.RuntimeOnline), spec.SpecStatus)
}

func TestNexusTxn_RollbackOnFailure(t *testing.T) {
	spec := &types.NexusSpec{UUID: "n1", SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating}}
	txn := NexusTxn{Spec: spec}

	require.NoError(t, txn.StartOp(types.NexusOperation{Kind: types.NexusOpCreate}))
	txn.SetOpResult(false)
	txn.CommitOp()

	// A failed Create leaves no Spec entry in Created.
	assert.False(t, spec.SpecStatus.IsCreated())
	assert.False(t, txn.PendingOp())
}

func TestNexusTxn_RemoveChildByFullEquality(t *testing.T) {
	r1 := types.NexusChild{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}
	r2 := types.NexusChild{ReplicaUUID: "r2", ShareURI: "nvmf://a/r2"}
	spec := &types.NexusSpec{
		UUID:       "n1",
		Children:   []types.NexusChild{r1, r2},
		SpecStatus: types.Created(types.RuntimeOnline),
	}
	txn := NexusTxn{Spec: spec}

	require.NoError(t, txn.StartOp(types.NexusOperation{Kind: types.NexusOpRemoveChild, Child: r1}))
	txn.SetOpResult(true)
	txn.CommitOp()

	require.Len(t, spec.Children, 1)
	assert.True(t, spec.Children[0].Equal(r2))
}

func TestNexusTxn_RemoveChildDoesNotMatchByURIAlone(t *testing.T) {
	// Two children share a URI but differ in ReplicaUUID: equality must be
	// by full value, so removing one must not remove the other.
	a := types.NexusChild{ReplicaUUID: "r1", ShareURI: "nvmf://shared"}
	b := types.NexusChild{ReplicaUUID: "r2", ShareURI: "nvmf://shared"}
	spec := &types.NexusSpec{UUID: "n1", Children: []types.NexusChild{a, b}, SpecStatus: types.Created(types.RuntimeOnline)}
	txn := NexusTxn{Spec: spec}

	require.NoError(t, txn.StartOp(types.NexusOperation{Kind: types.NexusOpRemoveChild, Child: a}))
	txn.SetOpResult(true)
	txn.CommitOp()

	require.Len(t, spec.Children, 1)
	assert.Equal(t, "r2", spec.Children[0].ReplicaUUID)
}

func TestSequencer_TryLockSkipsBusyResource(t *testing.T) {
	s := New("nexus/n1")
	require.True(t, s.TryLock())
	defer s.Unlock()

	assert.False(t, s.TryLock(), "reconciler must skip a resource whose sequencer is held")
}
