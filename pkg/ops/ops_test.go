package ops

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

// fakeConnector records every data-plane call and fails the methods
// listed in failing.
type fakeConnector struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{failing: make(map[string]bool)}
}

func (f *fakeConnector) Invoke(ctx context.Context, endpoint, method string, req, resp any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if f.failing[method] {
		return errs.NodeUnavailable(endpoint, errors.New("injected failure"))
	}
	return nil
}

func (f *fakeConnector) Forget(endpoint string) {}
func (f *fakeConnector) Close() error           { return nil }

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExecutor(t *testing.T) (*Executor, *fakeConnector, *store.InMemory) {
	t.Helper()
	kv := store.NewInMemory()
	reg := registry.New(kv, 0, nil)
	conn := newFakeConnector()
	exec := New(reg, kv, conn)

	_, err := reg.Nodes.Register(context.Background(), "node-a", "10.0.0.1:10124")
	require.NoError(t, err)
	return exec, conn, kv
}

func TestCreateNexusCommitsOnline(t *testing.T) {
	exec, _, kv := newTestExecutor(t)
	ctx := context.Background()

	spec, err := exec.CreateNexus(ctx, types.NexusSpec{
		UUID:   "n1",
		NodeID: "node-a",
		Size:   1 << 30,
		Children: []types.NexusChild{
			{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"},
			{ReplicaUUID: "r2", ShareURI: "nvmf://a/r2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.Created(types.RuntimeOnline), spec.SpecStatus)
	assert.Nil(t, spec.Operation)

	// The committed spec is durable.
	_, ok, err := kv.Get(ctx, store.Key{Kind: registry.KindNexusSpec, UUID: "n1"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCreateNexusRollsBackOnDataPlaneFailure(t *testing.T) {
	exec, conn, _ := newTestExecutor(t)
	conn.failing["/norite.dataplane.v1.DataPlane/CreateNexus"] = true

	_, err := exec.CreateNexus(context.Background(), types.NexusSpec{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children: []types.NexusChild{{ReplicaUUID: "r1"}},
	})
	require.Error(t, err)

	// No spec is left in Created; it stays Creating for the reconciler.
	spec, _, ok := exec.Reg.Nexuses.GetSpec("n1")
	require.True(t, ok)
	assert.False(t, spec.SpecStatus.IsCreated())
	assert.Nil(t, spec.Operation)
}

func TestSecondOpIsRejectedWhilePending(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ctx := context.Background()

	spec := types.NexusSpec{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		SpecStatus: types.Created(types.RuntimeOnline),
		Operation: &types.NexusOperationState{
			Operation: types.NexusOperation{Kind: types.NexusOpShare, Share: types.ShareNvmf},
		},
	}
	exec.Reg.Nexuses.PutSpec("n1", spec)

	// A concurrent mutation against an in-flight operation conflicts.
	_, err := exec.UnshareNexus(ctx, "n1")
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestDestroyReplicaRefusesWhileNexusHoldsIt(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ctx := context.Background()

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{ID: "p1", NodeID: "node-a", SpecStatus: types.Created(types.RuntimeOnline)})
	exec.Reg.Replicas.PutSpec("r1", types.ReplicaSpec{UUID: "r1", PoolID: "p1", SpecStatus: types.Created(types.RuntimeOnline)})
	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a",
		Children:   []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}},
		SpecStatus: types.Created(types.RuntimeOnline),
	})

	err := exec.DestroyReplica(ctx, "r1")
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))

	// Once the membership is gone the destroy goes through.
	_, err = exec.RemoveChild(ctx, "n1", types.NexusChild{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"})
	require.NoError(t, err)
	require.NoError(t, exec.DestroyReplica(ctx, "r1"))
}

func TestDisownNexusIsIdempotent(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ctx := context.Background()

	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", VolumeOwner: "v1",
		SpecStatus: types.Created(types.RuntimeOnline),
	})

	require.NoError(t, exec.DisownNexus(ctx, "n1"))
	spec, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	assert.Empty(t, spec.VolumeOwner)

	// Repeating the disown is a no-op, as is disowning a nexus that
	// does not exist.
	require.NoError(t, exec.DisownNexus(ctx, "n1"))
	require.NoError(t, exec.DisownNexus(ctx, "no-such-nexus"))
}

func TestPublishAndUnpublishVolume(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.CreateVolume(ctx, types.VolumeSpec{UUID: "v1", Policy: types.VolumePolicy{ReplicaCount: 2}})
	require.NoError(t, err)

	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", SpecStatus: types.Created(types.RuntimeOnline),
	})

	vol, err := exec.PublishVolume(ctx, "v1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", vol.TargetNexusID)

	nexus, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	assert.Equal(t, "v1", nexus.VolumeOwner)

	vol, err = exec.UnpublishVolume(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, vol.TargetNexusID)

	nexus, _, _ = exec.Reg.Nexuses.GetSpec("n1")
	assert.Empty(t, nexus.VolumeOwner)

	// Unpublishing again is a no-op.
	_, err = exec.UnpublishVolume(ctx, "v1")
	require.NoError(t, err)
}

func TestRedriveCommitsRecordedResultWithoutReplay(t *testing.T) {
	exec, conn, _ := newTestExecutor(t)
	ctx := context.Background()

	// The operation result was recorded but the commit never
	// persisted. Redrive must commit without calling the data plane again.
	yes := true
	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children:   []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}},
		SpecStatus: types.Created(types.RuntimeOnline),
		Operation: &types.NexusOperationState{
			Operation: types.NexusOperation{Kind: types.NexusOpAddChild, Child: types.NexusChild{ReplicaUUID: "r3", ShareURI: "nvmf://a/r3"}},
			Result:    &yes,
		},
	})

	acted, err := exec.RedriveNexus(ctx, "n1")
	require.NoError(t, err)
	require.True(t, acted)
	assert.Zero(t, conn.callCount())

	spec, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	require.Len(t, spec.Children, 2)
	assert.Nil(t, spec.Operation)
}

func TestRedriveReplaysUnrecordedOperation(t *testing.T) {
	exec, conn, _ := newTestExecutor(t)
	ctx := context.Background()

	// Crash mid-operation, result never recorded. Redrive replays the
	// idempotent call and commits exactly one copy of the child.
	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children:   []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}},
		SpecStatus: types.Created(types.RuntimeOnline),
		Operation: &types.NexusOperationState{
			Operation: types.NexusOperation{Kind: types.NexusOpAddChild, Child: types.NexusChild{ReplicaUUID: "r3", ShareURI: "nvmf://a/r3"}},
		},
	})

	acted, err := exec.RedriveNexus(ctx, "n1")
	require.NoError(t, err)
	require.True(t, acted)
	assert.Equal(t, 1, conn.callCount())

	spec, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	count := 0
	for _, c := range spec.Children {
		if c.ReplicaUUID == "r3" {
			count++
		}
	}
	assert.Equal(t, 1, count, "replayed AddChild must not duplicate the child")
}

func TestStatePollerDropsStaleObservations(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	poller := NewStatePoller(exec, 0)

	newer := types.NexusState{Status: types.RuntimeOnline}
	newer.UpdatedAt = newer.UpdatedAt.Add(2)
	older := types.NexusState{Status: types.RuntimeFaulted}
	older.UpdatedAt = older.UpdatedAt.Add(1)

	poller.apply(types.StateReport{NodeID: "node-a", Nexuses: map[string]types.NexusState{"n1": newer}})
	poller.apply(types.StateReport{NodeID: "node-a", Nexuses: map[string]types.NexusState{"n1": older}})

	state, ok := exec.Reg.Nexuses.GetState("n1")
	require.True(t, ok)
	assert.Equal(t, types.RuntimeOnline, state.Status, "stale observation must be dropped")
}
