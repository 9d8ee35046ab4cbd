package api

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/health"
	"github.com/noriteio/norite/pkg/ops"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

type fakeConnector struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeConnector) Invoke(ctx context.Context, endpoint, method string, req, resp any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeConnector) Forget(endpoint string) {}
func (f *fakeConnector) Close() error           { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	kv := store.NewInMemory()
	reg := registry.New(kv, 0, nil)
	exec := ops.New(reg, kv, &fakeConnector{})

	checker := health.NewChecker()
	checker.Register("store", func() (bool, string) { return true, "" })

	d := New(Config{}, exec, checker)

	require.NoError(t, d.Register(context.Background(), RegisterRequest{ID: "node-a", GrpcEndpoint: "10.0.0.1:10124"}))
	return d
}

func TestProbeReportsReady(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Ready)
}

func TestRegisterValidatesArguments(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Register(ctx, RegisterRequest{GrpcEndpoint: "a:1"})
	require.Error(t, err)
	assert.Equal(t, errs.MissingArgument, errs.KindOf(err))

	err = d.Register(ctx, RegisterRequest{ID: "node-b"})
	require.Error(t, err)
	assert.Equal(t, errs.MissingArgument, errs.KindOf(err))
}

func TestCreateNexusValidation(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	child := []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}}

	_, err := d.CreateNexus(ctx, CreateNexusRequest{NodeID: "node-a", Size: 1, Children: child})
	assert.Equal(t, errs.MissingArgument, errs.KindOf(err))

	_, err = d.CreateNexus(ctx, CreateNexusRequest{UUID: "n1", NodeID: "node-a", Children: child})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	_, err = d.CreateNexus(ctx, CreateNexusRequest{UUID: "n1", NodeID: "node-a", Size: 1})
	assert.Equal(t, errs.MissingArgument, errs.KindOf(err))

	_, err = d.CreateNexus(ctx, CreateNexusRequest{UUID: "n1", NodeID: "ghost", Size: 1, Children: child})
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	_, err = d.CreateNexus(ctx, CreateNexusRequest{UUID: "n1", NodeID: "node-a", Size: 1, Children: child, ShareProtocol: "iscsi"})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestCreateGetDestroyNexusFlow(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	created, err := d.CreateNexus(ctx, CreateNexusRequest{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children: []types.NexusChild{
			{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"},
			{ReplicaUUID: "r2", ShareURI: "nvmf://a/r2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.Created(types.RuntimeOnline), created.SpecStatus)

	byNode, err := d.GetNexuses(ctx, types.Filters{Kind: types.FilterNode, NodeID: "node-a"})
	require.NoError(t, err)
	require.Len(t, byNode, 1)

	// Creating the same nexus again conflicts.
	_, err = d.CreateNexus(ctx, CreateNexusRequest{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children: []types.NexusChild{{ReplicaUUID: "r1"}},
	})
	assert.Equal(t, errs.AlreadyExists, errs.KindOf(err))

	require.NoError(t, d.DestroyNexus(ctx, "n1"))

	byNode, err = d.GetNexuses(ctx, types.Filters{Kind: types.FilterNode, NodeID: "node-a"})
	require.NoError(t, err)
	assert.Empty(t, byNode)
}

func TestShareProtocolCompatibility(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.ShareNexus(ctx, "n1", types.ShareNone)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	_, err = d.ShareReplica(ctx, "r1", "")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

// Every filter value in the union yields a well-defined, possibly
// empty, result on every list endpoint.
func TestFilterTotality(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	filters := []types.Filters{
		{Kind: types.FilterNone},
		{Kind: types.FilterNode, NodeID: "node-a"},
		{Kind: types.FilterPool, PoolID: "p1"},
		{Kind: types.FilterNodePool, NodeID: "node-a", PoolID: "p1"},
		{Kind: types.FilterNodeReplica, NodeID: "node-a", ReplicaID: "r1"},
		{Kind: types.FilterPoolReplica, PoolID: "p1", ReplicaID: "r1"},
		{Kind: types.FilterReplica, ReplicaID: "r1"},
		{Kind: types.FilterVolume, VolumeID: "v1"},
	}

	for _, filter := range filters {
		_, err := d.GetNodes(ctx, filter)
		require.NoError(t, err)
		_, err = d.GetPools(ctx, filter)
		require.NoError(t, err)
		_, err = d.GetReplicas(ctx, filter)
		require.NoError(t, err)
		_, err = d.GetNexuses(ctx, filter)
		require.NoError(t, err)
		_, err = d.GetVolumes(ctx, filter)
		require.NoError(t, err)
	}
}

func TestReplicaFilters(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.CreatePool(ctx, CreatePoolRequest{ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)

	_, err = d.CreateReplica(ctx, CreateReplicaRequest{UUID: "r1", PoolID: "p1", Size: 1 << 20})
	require.NoError(t, err)

	byPool, err := d.GetReplicas(ctx, types.Filters{Kind: types.FilterPool, PoolID: "p1"})
	require.NoError(t, err)
	require.Len(t, byPool, 1)

	byNode, err := d.GetReplicas(ctx, types.Filters{Kind: types.FilterNode, NodeID: "node-a"})
	require.NoError(t, err)
	require.Len(t, byNode, 1)

	byBoth, err := d.GetReplicas(ctx, types.Filters{Kind: types.FilterPoolReplica, PoolID: "p1", ReplicaID: "r1"})
	require.NoError(t, err)
	require.Len(t, byBoth, 1)

	miss, err := d.GetReplicas(ctx, types.Filters{Kind: types.FilterPoolReplica, PoolID: "p2", ReplicaID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, miss)
}

func TestDestroyPoolRefusesWithReplicas(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.CreatePool(ctx, CreatePoolRequest{ID: "p1", NodeID: "node-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)
	_, err = d.CreateReplica(ctx, CreateReplicaRequest{UUID: "r1", PoolID: "p1", Size: 1 << 20})
	require.NoError(t, err)

	err = d.DestroyPool(ctx, "p1")
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestVolumePublishFlow(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.CreateVolume(ctx, CreateVolumeRequest{UUID: "v1", ReplicaCount: 2})
	require.NoError(t, err)

	_, err = d.CreateNexus(ctx, CreateNexusRequest{
		UUID: "n1", NodeID: "node-a", Size: 1 << 30,
		Children: []types.NexusChild{{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}},
	})
	require.NoError(t, err)

	vol, err := d.PublishVolume(ctx, "v1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", vol.TargetNexusID)

	owned, err := d.GetNexuses(ctx, types.Filters{Kind: types.FilterVolume, VolumeID: "v1"})
	require.NoError(t, err)
	require.Len(t, owned, 1)

	vol, err = d.UnpublishVolume(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, vol.TargetNexusID)

	// Idempotent unpublish.
	_, err = d.UnpublishVolume(ctx, "v1")
	require.NoError(t, err)
}

func TestAuthorizedHosts(t *testing.T) {
	kv := store.NewInMemory()
	reg := registry.New(kv, 0, nil)
	exec := ops.New(reg, kv, &fakeConnector{})
	d := New(Config{AllowedHosts: []string{"10.0.0.5"}}, exec, health.NewChecker())

	assert.True(t, d.Authorized("10.0.0.5"))
	assert.False(t, d.Authorized("10.0.0.6"))

	open := New(Config{}, exec, health.NewChecker())
	assert.True(t, open.Authorized("anyone"))
}

func TestWireErrorMapsTaxonomy(t *testing.T) {
	cases := map[errs.Kind]codes.Code{
		errs.NotFound:           codes.NotFound,
		errs.AlreadyExists:      codes.AlreadyExists,
		errs.MissingArgument:    codes.InvalidArgument,
		errs.InvalidArgument:    codes.InvalidArgument,
		errs.Conflict:           codes.Aborted,
		errs.PreconditionFailed: codes.FailedPrecondition,
		errs.Unavailable:        codes.Unavailable,
		errs.Timeout:            codes.DeadlineExceeded,
		errs.Aborted:            codes.Aborted,
		errs.Unauthorized:       codes.PermissionDenied,
		errs.Unimplemented:      codes.Unimplemented,
		errs.Internal:           codes.Internal,
	}
	for kind, want := range cases {
		err := WireError(errs.New(kind, "Nexus", string(kind), "boom"))
		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, want, st.Code(), "kind %s", kind)
	}

	assert.NoError(t, WireError(nil))
}
