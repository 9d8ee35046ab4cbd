package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory KeyValueStore fake used so registry
// tests don't need to stand up a raft cluster.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key store.Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[key.Kind]
	if !ok {
		return nil, false, nil
	}
	v, ok := bucket[key.UUID]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, key store.Key, value []byte, expectedRevision *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[key.Kind]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[key.Kind] = bucket
	}
	bucket[key.UUID] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key store.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[key.Kind], key.UUID)
	return nil
}

func (m *memStore) List(ctx context.Context, kind string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.data[kind] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) WatchPrefix(ctx context.Context, kind string) (<-chan store.Change, error) {
	ch := make(chan store.Change)
	return ch, nil
}

func (m *memStore) IsLeader() bool { return true }
func (m *memStore) Close() error   { return nil }

var _ store.KeyValueStore = (*memStore)(nil)

func TestPoolRegistrySpecAndStateLifecycle(t *testing.T) {
	reg := New(newMemStore(), 0, nil)

	_, _, ok := reg.Pools.GetSpec("p1")
	require.False(t, ok)

	seq := reg.Pools.Sequencer("p1")
	require.NotNil(t, seq)
	require.True(t, seq.TryLock())
	seq.Unlock()

	reg.Pools.PutSpec("p1", types.PoolSpec{ID: "p1", NodeID: "node-a"})
	spec, _, ok := reg.Pools.GetSpec("p1")
	require.True(t, ok)
	require.Equal(t, "node-a", spec.NodeID)

	reg.Pools.PutState("p1", types.PoolState{Capacity: 100, Status: types.RuntimeOnline})
	state, ok := reg.Pools.GetState("p1")
	require.True(t, ok)
	require.Equal(t, uint64(100), state.Capacity)

	reg.Pools.PutSpec("p2", types.PoolSpec{ID: "p2", NodeID: "node-b"})
	byNode := reg.Pools.ByNode("node-a")
	require.Len(t, byNode, 1)
	require.Equal(t, "p1", byNode[0].ID)

	reg.Pools.DeleteSpec("p1")
	_, _, ok = reg.Pools.GetSpec("p1")
	require.False(t, ok)
	_, ok = reg.Pools.GetState("p1")
	require.False(t, ok)
}

func TestRegistryLoadFromStoreRehydratesSpecsOnly(t *testing.T) {
	kv := newMemStore()
	ctx := context.Background()

	require.NoError(t, Persist(ctx, kv, KindNexusSpec, "n1", types.NexusSpec{
		UUID: "n1", NodeID: "node-a", SpecStatus: types.Created(types.RuntimeOnline),
	}, nil))

	reg := New(kv, 0, nil)
	require.NoError(t, reg.LoadFromStore(ctx))

	spec, _, ok := reg.Nexuses.GetSpec("n1")
	require.True(t, ok)
	require.Equal(t, "node-a", spec.NodeID)

	_, ok = reg.Nexuses.GetState("n1")
	require.False(t, ok, "State cache must start empty on rehydration")
}

func TestNodeRegistryRegisterAndWatchdogExpiry(t *testing.T) {
	kv := newMemStore()
	reg := New(kv, 50*time.Millisecond, nil)
	ctx := context.Background()

	view, err := reg.Nodes.Register(ctx, "node-a", "10.0.0.1:10124")
	require.NoError(t, err)
	require.Equal(t, types.NodeOnline, view.State.Status)

	require.Eventually(t, func() bool {
		v, ok := reg.Nodes.Get("node-a")
		return ok && v.State.Status == types.NodeOffline
	}, time.Second, 5*time.Millisecond, "watchdog should mark the node offline past its deadline")
}

func TestNodeRegistryReRegistrationResetsWatchdog(t *testing.T) {
	kv := newMemStore()
	reg := New(kv, 200*time.Millisecond, nil)
	ctx := context.Background()

	_, err := reg.Nodes.Register(ctx, "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, err = reg.Nodes.Register(ctx, "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	view, ok := reg.Nodes.Get("node-a")
	require.True(t, ok)
	require.Equal(t, types.NodeOnline, view.State.Status, "a refreshed heartbeat should push the deadline out")
}

func TestNodeRegistryReplaySeedsUnknownNotOnline(t *testing.T) {
	kv := newMemStore()
	ctx := context.Background()

	require.NoError(t, Persist(ctx, kv, KindNodeSpec, "node-a", types.NodeSpec{
		ID: "node-a", GrpcEndpoint: "10.0.0.1:10124",
	}, nil))

	reg := New(kv, 60*time.Millisecond, nil)
	require.NoError(t, reg.Nodes.LoadFromStore(ctx))

	view, ok := reg.Nodes.Get("node-a")
	require.True(t, ok)
	require.Equal(t, types.NodeUnknown, view.State.Status, "replay must not assume liveness")

	require.Eventually(t, func() bool {
		v, ok := reg.Nodes.Get("node-a")
		return ok && v.State.Status == types.NodeOffline
	}, time.Second, 5*time.Millisecond, "a node that never re-registers after replay still ages out")
}

func TestNodeRegistryRejectsConflictingEndpointWhileOnline(t *testing.T) {
	kv := newMemStore()
	reg := New(kv, time.Minute, nil)
	ctx := context.Background()

	_, err := reg.Nodes.Register(ctx, "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	_, err = reg.Nodes.Register(ctx, "node-a", "10.0.0.2:10124")
	require.Error(t, err)
}

func TestNodeRegistryDeregisterTombstones(t *testing.T) {
	kv := newMemStore()
	reg := New(kv, time.Minute, nil)
	ctx := context.Background()

	_, err := reg.Nodes.Register(ctx, "node-a", "10.0.0.1:10124")
	require.NoError(t, err)

	require.NoError(t, reg.Nodes.Deregister(ctx, "node-a"))
	_, ok := reg.Nodes.Get("node-a")
	require.False(t, ok)

	_, ok, err = kv.Get(ctx, store.Key{Kind: KindNodeSpec, UUID: "node-a"})
	require.NoError(t, err)
	require.False(t, ok)
}
