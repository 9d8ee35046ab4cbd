package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/ops"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

type fakeConnector struct {
	mu      sync.Mutex
	calls   []string
	failAll bool
}

func (f *fakeConnector) Invoke(ctx context.Context, endpoint, method string, req, resp any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if f.failAll {
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

func newTestReconciler(t *testing.T, cfg Config) (*Reconciler, *ops.Executor, *fakeConnector, *store.InMemory) {
	t.Helper()
	kv := store.NewInMemory()
	reg := registry.New(kv, time.Minute, nil)
	conn := &fakeConnector{}
	exec := ops.New(reg, kv, conn)

	_, err := reg.Nodes.Register(context.Background(), "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	return New(cfg, exec, kv), exec, conn, kv
}

func TestReconcileDrivesCreatingSpecToCreated(t *testing.T) {
	r, exec, _, _ := newTestReconciler(t, Config{})

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{
		ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"},
		SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating},
	})

	actions := r.ReconcileOnce()
	require.Positive(t, actions)

	spec, _, ok := exec.Reg.Pools.GetSpec("p1")
	require.True(t, ok)
	assert.Equal(t, types.Created(types.RuntimeOnline), spec.SpecStatus)
}

func TestReconcileGarbageCollectsTombstones(t *testing.T) {
	r, exec, _, kv := newTestReconciler(t, Config{})
	ctx := context.Background()

	tombstone := types.NexusSpec{UUID: "n1", NodeID: "node-a", SpecStatus: types.SpecStatus{Kind: types.SpecStatusDeleted}}
	exec.Reg.Nexuses.PutSpec("n1", tombstone)
	require.NoError(t, registry.Persist(ctx, kv, registry.KindNexusSpec, "n1", tombstone, nil))

	r.ReconcileOnce()

	_, _, ok := exec.Reg.Nexuses.GetSpec("n1")
	assert.False(t, ok, "tombstoned spec with no state and no holders is collected")

	_, found, err := kv.Get(ctx, store.Key{Kind: registry.KindNexusSpec, UUID: "n1"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconcileSkipsTombstoneWithHolders(t *testing.T) {
	r, exec, _, _ := newTestReconciler(t, Config{})

	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", VolumeOwner: "v1",
		SpecStatus: types.SpecStatus{Kind: types.SpecStatusDeleted},
	})

	r.ReconcileOnce()

	_, _, ok := exec.Reg.Nexuses.GetSpec("n1")
	assert.True(t, ok, "a tombstone still owned by a volume must not be collected")
}

func TestReconcileBacksOffAfterFailure(t *testing.T) {
	r, exec, conn, _ := newTestReconciler(t, Config{BackoffBase: time.Hour})
	conn.failAll = true

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{
		ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"},
		SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating},
	})

	r.ReconcileOnce()
	after := conn.callCount()
	require.Positive(t, after)

	// The next cycle lands inside the backoff window: no new attempt.
	r.ReconcileOnce()
	assert.Equal(t, after, conn.callCount())
}

func TestReconcileTombstonesAfterFailureBudget(t *testing.T) {
	r, exec, conn, _ := newTestReconciler(t, Config{
		BackoffBase:       time.Nanosecond,
		BackoffCap:        time.Nanosecond,
		MaxCreateFailures: 2,
	})
	conn.failAll = true

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{
		ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"},
		SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating},
	})

	for i := 0; i < 3; i++ {
		r.ReconcileOnce()
		time.Sleep(time.Millisecond)
	}

	spec, _, ok := exec.Reg.Pools.GetSpec("p1")
	if ok {
		assert.True(t, spec.SpecStatus.IsDeleted(), "exhausted create budget tombstones the spec")
	}
}

func TestReconcileSkipsBusySequencer(t *testing.T) {
	r, exec, conn, _ := newTestReconciler(t, Config{})

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{
		ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"},
		SpecStatus: types.SpecStatus{Kind: types.SpecStatusCreating},
	})

	seq := exec.Reg.Pools.Sequencer("p1")
	require.True(t, seq.TryLock())
	defer seq.Unlock()

	r.ReconcileOnce()
	assert.Zero(t, conn.callCount(), "a held sequencer is skipped, never waited on")
}

func TestReconcileMarksNexusUnknownWhenNodeOffline(t *testing.T) {
	kv := store.NewInMemory()
	reg := registry.New(kv, 20*time.Millisecond, nil)
	conn := &fakeConnector{}
	exec := ops.New(reg, kv, conn)
	r := New(Config{NodeGraceWindow: time.Millisecond}, exec, kv)

	_, err := reg.Nodes.Register(context.Background(), "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", SpecStatus: types.Created(types.RuntimeOnline),
	})
	exec.Reg.Nexuses.PutState("n1", types.NexusState{Status: types.RuntimeOnline, UpdatedAt: time.Now()})

	require.Eventually(t, func() bool {
		v, ok := reg.Nodes.Get("node-a")
		return ok && v.State.Status == types.NodeOffline
	}, time.Second, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	r.ReconcileOnce()

	state, ok := exec.Reg.Nexuses.GetState("n1")
	require.True(t, ok)
	assert.Equal(t, types.RuntimeUnknown, state.Status, "spec is untouched, state reflects the silence")

	spec, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	assert.True(t, spec.SpecStatus.IsCreated(), "node silence never mutates the spec")
}

func TestReconcileReplacesFaultedChild(t *testing.T) {
	r, exec, _, _ := newTestReconciler(t, Config{})

	exec.Reg.Pools.PutSpec("p1", types.PoolSpec{ID: "p1", NodeID: "node-a", SpecStatus: types.Created(types.RuntimeOnline)})
	exec.Reg.Replicas.PutSpec("r1", types.ReplicaSpec{UUID: "r1", PoolID: "p1", Size: 1 << 30, SpecStatus: types.Created(types.RuntimeOnline)})
	exec.Reg.Replicas.PutSpec("r2", types.ReplicaSpec{UUID: "r2", PoolID: "p1", Size: 1 << 30, SpecStatus: types.Created(types.RuntimeOnline)})
	exec.Reg.Replicas.PutState("r1", types.ReplicaState{Status: types.RuntimeFaulted, UpdatedAt: time.Now()})
	exec.Reg.Replicas.PutState("r2", types.ReplicaState{Status: types.RuntimeOnline, ShareURI: "nvmf://a/r2", UpdatedAt: time.Now()})

	exec.Reg.Nexuses.PutSpec("n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children:   []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}},
		SpecStatus: types.Created(types.RuntimeOnline),
	})
	exec.Reg.Nexuses.PutState("n1", types.NexusState{Status: types.RuntimeFaulted, UpdatedAt: time.Now()})

	r.ReconcileOnce()

	spec, _, _ := exec.Reg.Nexuses.GetSpec("n1")
	require.Len(t, spec.Children, 1)
	assert.Equal(t, "r2", spec.Children[0].ReplicaUUID, "faulted child swapped for the healthy candidate")
}
