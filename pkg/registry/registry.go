package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindNodeSpec    = "NodeSpec"
	kindPoolSpec    = "PoolSpec"
	kindReplicaSpec = "ReplicaSpec"
	kindNexusSpec   = "NexusSpec"
	kindVolumeSpec  = "VolumeSpec"
)

// Registry aggregates every resource kind's Spec+State cache pair
// plus the Node Registry, backed by a single KeyValueStore.
type Registry struct {
	store store.KeyValueStore

	Nodes    *NodeRegistry
	Pools    *PoolRegistry
	Replicas *ReplicaRegistry
	Nexuses  *NexusRegistry
	Volumes  *VolumeRegistry
}

// New builds an empty Registry. Call LoadFromStore before serving
// traffic to rehydrate the Spec caches.
func New(kv store.KeyValueStore, nodeDeadline time.Duration, broker *events.Broker) *Registry {
	return &Registry{
		store:    kv,
		Nodes:    newNodeRegistry(kv, nodeDeadline, broker),
		Pools:    newPoolRegistry(),
		Replicas: newReplicaRegistry(),
		Nexuses:  newNexusRegistry(),
		Volumes:  newVolumeRegistry(),
	}
}

// LoadFromStore rehydrates every Spec cache from the persistent store
// and replays node registrations. The State caches start empty and
// fill from node polls.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if err := loadInto(ctx, r.store, kindPoolSpec, r.Pools.specs); err != nil {
		return err
	}
	if err := loadInto(ctx, r.store, kindReplicaSpec, r.Replicas.specs); err != nil {
		return err
	}
	if err := loadInto(ctx, r.store, kindNexusSpec, r.Nexuses.specs); err != nil {
		return err
	}
	if err := loadInto(ctx, r.store, kindVolumeSpec, r.Volumes.specs); err != nil {
		return err
	}
	if err := r.Nodes.LoadFromStore(ctx); err != nil {
		return err
	}
	r.RefreshMetrics()
	return nil
}

func loadInto[T any](ctx context.Context, kv store.KeyValueStore, kind string, cache *specCache[T]) error {
	raw, err := kv.List(ctx, kind)
	if err != nil {
		return fmt.Errorf("list %s: %w", kind, err)
	}
	for uuid, data := range raw {
		var spec T
		if err := json.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("decode %s %s: %w", kind, uuid, err)
		}
		cache.put(uuid, spec)
	}
	return nil
}

// Persist marshals and writes a Spec to the store, to be called by
// service-layer mutation methods after the sequencer starts or commits
// an operation.
func Persist[T any](ctx context.Context, kv store.KeyValueStore, kind, uuid string, spec T, expectedRevision *uint64) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, uuid, err)
	}
	return kv.Put(ctx, store.Key{Kind: kind, UUID: uuid}, data, expectedRevision)
}

// KindPoolSpec etc. are exported so the service/reconciler layers can
// call Persist without reaching into this package's unexported
// constants.
const (
	KindPoolSpec    = kindPoolSpec
	KindReplicaSpec = kindReplicaSpec
	KindNexusSpec   = kindNexusSpec
	KindVolumeSpec  = kindVolumeSpec
	KindNodeSpec    = kindNodeSpec
)

// RefreshMetrics recomputes the per-kind resource-count gauges from the
// current Spec caches. Called on rehydration and periodically by the
// metrics collector.
func (r *Registry) RefreshMetrics() {
	counts := func(specs []types.SpecStatus) map[types.SpecStatusKind]int {
		m := map[types.SpecStatusKind]int{}
		for _, s := range specs {
			m[s.Kind]++
		}
		return m
	}

	poolStatuses := make([]types.SpecStatus, 0)
	for _, p := range r.Pools.ListSpecs() {
		poolStatuses = append(poolStatuses, p.SpecStatus)
	}
	setGauge(metrics.PoolsTotal, counts(poolStatuses))

	replicaStatuses := make([]types.SpecStatus, 0)
	for _, rp := range r.Replicas.ListSpecs() {
		replicaStatuses = append(replicaStatuses, rp.SpecStatus)
	}
	setGauge(metrics.ReplicasTotal, counts(replicaStatuses))

	nexusStatuses := make([]types.SpecStatus, 0)
	for _, n := range r.Nexuses.ListSpecs() {
		nexusStatuses = append(nexusStatuses, n.SpecStatus)
	}
	setGauge(metrics.NexusesTotal, counts(nexusStatuses))

	volumeStatuses := make([]types.SpecStatus, 0)
	for _, v := range r.Volumes.ListSpecs() {
		volumeStatuses = append(volumeStatuses, v.SpecStatus)
	}
	setGauge(metrics.VolumesTotal, counts(volumeStatuses))
}

func setGauge(vec *prometheus.GaugeVec, counts map[types.SpecStatusKind]int) {
	for _, kind := range []types.SpecStatusKind{
		types.SpecStatusCreating, types.SpecStatusCreated, types.SpecStatusDeleting, types.SpecStatusDeleted,
	} {
		vec.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}
