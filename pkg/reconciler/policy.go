package reconciler

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

// The per-kind sweeps below share one shape: snapshot the Spec cache,
// TryLock each resource's sequencer (skip if busy), apply the policy
// table under the lock, release. Deterministic order across kinds is
// fixed in ReconcileOnce.

func (r *Reconciler) reconcilePools(ctx context.Context) int {
	actions := 0
	for _, spec := range r.exec.Reg.Pools.ListSpecs() {
		key := "Pool/" + spec.ID
		seq := r.exec.Reg.Pools.Sequencer(spec.ID)
		if !seq.TryLock() {
			observeSkip("Pool")
			continue
		}

		current, _, ok := r.exec.Reg.Pools.GetSpec(spec.ID)
		if !ok {
			seq.Unlock()
			continue
		}

		switch {
		case current.SpecStatus.IsDeleted():
			// GC only once nothing holds the pool: no replica spec still
			// references it and the data plane no longer reports it.
			_, hasState := r.exec.Reg.Pools.GetState(current.ID)
			if !hasState && len(r.exec.Reg.Replicas.ByPool(current.ID)) == 0 {
				if err := r.kv.Delete(ctx, store.Key{Kind: registry.KindPoolSpec, UUID: current.ID}); err == nil {
					r.exec.Reg.Pools.DeleteSpec(current.ID)
					r.forget(key)
					observeAction("Pool", "gc")
					actions++
				}
			}
		case r.shouldAttempt(key):
			acted, err := r.exec.RedrivePool(ctx, current.ID)
			if acted {
				observeAction("Pool", "redrive")
				actions++
			}
			r.handleFailure(ctx, key, "Pool", current.ID, current.SpecStatus, err)
		}

		seq.Unlock()
	}
	return actions
}

func (r *Reconciler) reconcileReplicas(ctx context.Context) int {
	actions := 0
	for _, spec := range r.exec.Reg.Replicas.ListSpecs() {
		key := "Replica/" + spec.UUID
		seq := r.exec.Reg.Replicas.Sequencer(spec.UUID)
		if !seq.TryLock() {
			observeSkip("Replica")
			continue
		}

		current, _, ok := r.exec.Reg.Replicas.GetSpec(spec.UUID)
		if !ok {
			seq.Unlock()
			continue
		}

		switch {
		case current.SpecStatus.IsDeleted():
			_, hasState := r.exec.Reg.Replicas.GetState(current.UUID)
			if !hasState && len(r.exec.Reg.Nexuses.ByReplica(current.UUID)) == 0 {
				if err := r.kv.Delete(ctx, store.Key{Kind: registry.KindReplicaSpec, UUID: current.UUID}); err == nil {
					r.exec.Reg.Replicas.DeleteSpec(current.UUID)
					r.forget(key)
					observeAction("Replica", "gc")
					actions++
				}
			}
		case r.shouldAttempt(key):
			acted, err := r.exec.RedriveReplica(ctx, current.UUID)
			if acted {
				observeAction("Replica", "redrive")
				actions++
			}
			r.handleFailure(ctx, key, "Replica", current.UUID, current.SpecStatus, err)
		}

		seq.Unlock()
	}
	return actions
}

func (r *Reconciler) reconcileNexuses(ctx context.Context) int {
	actions := 0
	rebuilds := 0
	for _, spec := range r.exec.Reg.Nexuses.ListSpecs() {
		key := "Nexus/" + spec.UUID
		seq := r.exec.Reg.Nexuses.Sequencer(spec.UUID)
		if !seq.TryLock() {
			observeSkip("Nexus")
			continue
		}

		current, _, ok := r.exec.Reg.Nexuses.GetSpec(spec.UUID)
		if !ok {
			seq.Unlock()
			continue
		}

		switch {
		case current.SpecStatus.IsDeleted():
			_, hasState := r.exec.Reg.Nexuses.GetState(current.UUID)
			if !hasState && current.VolumeOwner == "" {
				if err := r.kv.Delete(ctx, store.Key{Kind: registry.KindNexusSpec, UUID: current.UUID}); err == nil {
					r.exec.Reg.Nexuses.DeleteSpec(current.UUID)
					r.forget(key)
					observeAction("Nexus", "gc")
					actions++
				}
			}
		case current.Operation != nil || current.SpecStatus.Kind == types.SpecStatusCreating:
			if r.shouldAttempt(key) {
				acted, err := r.exec.RedriveNexus(ctx, current.UUID)
				if acted {
					observeAction("Nexus", "redrive")
					actions++
				}
				r.handleFailure(ctx, key, "Nexus", current.UUID, current.SpecStatus, err)
			}
		case r.isFaulted(current) && rebuilds < r.cfg.MaxConcurrentRebuilds && r.shouldAttempt(key):
			if r.replaceFaultedChild(ctx, current) {
				rebuilds++
				actions++
			}
		}

		seq.Unlock()
	}
	return actions
}

// isFaulted reports whether a nexus the Spec wants Online is observed
// Faulted by the data plane.
func (r *Reconciler) isFaulted(spec types.NexusSpec) bool {
	if spec.SpecStatus.Kind != types.SpecStatusCreated || spec.SpecStatus.Runtime != types.RuntimeOnline {
		return false
	}
	state, ok := r.exec.Reg.Nexuses.GetState(spec.UUID)
	return ok && state.Status == types.RuntimeFaulted
}

// replaceFaultedChild picks the first replica-backed child whose replica
// is observed Faulted and swaps it for a healthy shared replica. With no
// faulted child identified, the nexus fault is left for the data plane's
// own rebuild; with no replacement candidate, the faulted child is
// removed and the nexus runs degraded until a replica appears.
func (r *Reconciler) replaceFaultedChild(ctx context.Context, spec types.NexusSpec) bool {
	var faulted *types.NexusChild
	for i, child := range spec.Children {
		if child.ReplicaUUID == "" {
			continue
		}
		state, ok := r.exec.Reg.Replicas.GetState(child.ReplicaUUID)
		if ok && state.Status == types.RuntimeFaulted {
			faulted = &spec.Children[i]
			break
		}
	}
	if faulted == nil {
		return false
	}

	r.exec.PublishEvent(types.KindNexus, events.Faulted, spec.UUID, "faulted child detected")

	replacement := r.pickReplacement(spec)
	err := r.exec.ReplaceChild(ctx, spec.UUID, *faulted, replacement)
	r.recordOutcome("Nexus/"+spec.UUID, err)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("nexus", spec.UUID).
			Str("faulted_replica", faulted.ReplicaUUID).
			Msg("child replacement failed")
	} else {
		observeAction("Nexus", "replace-child")
	}
	return true
}

// pickReplacement finds a healthy shared replica large enough for the
// nexus that no nexus currently uses.
func (r *Reconciler) pickReplacement(spec types.NexusSpec) *types.NexusChild {
	for _, candidate := range r.exec.Reg.Replicas.ListSpecs() {
		if !candidate.SpecStatus.IsCreated() || candidate.Size < spec.Size {
			continue
		}
		state, ok := r.exec.Reg.Replicas.GetState(candidate.UUID)
		if !ok || state.Status != types.RuntimeOnline || state.ShareURI == "" {
			continue
		}
		if len(r.exec.Reg.Nexuses.ByReplica(candidate.UUID)) > 0 {
			continue
		}
		return &types.NexusChild{ReplicaUUID: candidate.UUID, ShareURI: state.ShareURI}
	}
	return nil
}

func (r *Reconciler) reconcileVolumes(ctx context.Context) int {
	actions := 0
	for _, spec := range r.exec.Reg.Volumes.ListSpecs() {
		key := "Volume/" + spec.UUID
		seq := r.exec.Reg.Volumes.Sequencer(spec.UUID)
		if !seq.TryLock() {
			observeSkip("Volume")
			continue
		}

		current, _, ok := r.exec.Reg.Volumes.GetSpec(spec.UUID)
		if !ok {
			seq.Unlock()
			continue
		}

		switch {
		case current.SpecStatus.IsDeleted():
			if len(r.exec.Reg.Nexuses.ByVolume(current.UUID)) == 0 {
				if err := r.kv.Delete(ctx, store.Key{Kind: registry.KindVolumeSpec, UUID: current.UUID}); err == nil {
					r.exec.Reg.Volumes.DeleteSpec(current.UUID)
					r.forget(key)
					observeAction("Volume", "gc")
					actions++
				}
			}
		default:
			acted, err := r.exec.RedriveVolume(ctx, current.UUID)
			if acted {
				observeAction("Volume", "redrive")
				actions++
			}
			r.recordOutcome(key, err)

			// A published volume whose nexus spec vanished is surfaced as
			// Degraded in the State cache; the binding itself is user
			// intent and is not cleared here.
			if current.TargetNexusID != "" {
				if _, _, ok := r.exec.Reg.Nexuses.GetSpec(current.TargetNexusID); !ok {
					r.exec.Reg.Volumes.PutState(current.UUID, types.VolumeState{
						Status:    types.RuntimeDegraded,
						UpdatedAt: time.Now(),
					})
				}
			}
		}

		seq.Unlock()
	}
	return actions
}

// reconcileNodes applies the node policy: a node Offline beyond the
// grace window has its hosted nexuses marked Unknown in the State cache
// (never in Spec) and its pooled connection dropped.
func (r *Reconciler) reconcileNodes(ctx context.Context) int {
	actions := 0
	now := time.Now()
	for _, node := range r.exec.Reg.Nodes.List() {
		if node.State.Status != types.NodeOffline {
			continue
		}
		if now.Sub(node.State.RegistrationDead) < r.cfg.NodeGraceWindow {
			continue
		}

		r.exec.Conn.Forget(node.Spec.GrpcEndpoint)

		for _, nexus := range r.exec.Reg.Nexuses.ByNode(node.Spec.ID) {
			state, ok := r.exec.Reg.Nexuses.GetState(nexus.UUID)
			if ok && state.Status == types.RuntimeUnknown {
				continue
			}
			state.Status = types.RuntimeUnknown
			state.UpdatedAt = now
			r.exec.Reg.Nexuses.PutState(nexus.UUID, state)
			observeAction("Nexus", "mark-unknown")
			actions++
		}
	}
	return actions
}

// handleFailure folds a redrive outcome into the backoff table; a spec
// still Creating after the failure budget is exhausted is tombstoned so
// GC can reclaim it, with an alarm in the log.
func (r *Reconciler) handleFailure(ctx context.Context, key, kind, id string, status types.SpecStatus, err error) {
	failures := r.recordOutcome(key, err)
	if err == nil || status.Kind != types.SpecStatusCreating || failures < r.cfg.MaxCreateFailures {
		return
	}

	r.logger.Error().
		Str("kind", kind).
		Str("id", id).
		Int("failures", failures).
		Msg("giving up on creation, tombstoning spec")

	switch kind {
	case "Pool":
		if current, _, ok := r.exec.Reg.Pools.GetSpec(id); ok {
			current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
			current.Operation = nil
			r.exec.Reg.Pools.PutSpec(id, current)
			_ = registry.Persist(ctx, r.kv, registry.KindPoolSpec, id, current, nil)
		}
	case "Replica":
		if current, _, ok := r.exec.Reg.Replicas.GetSpec(id); ok {
			current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
			current.Operation = nil
			r.exec.Reg.Replicas.PutSpec(id, current)
			_ = registry.Persist(ctx, r.kv, registry.KindReplicaSpec, id, current, nil)
		}
	case "Nexus":
		if current, _, ok := r.exec.Reg.Nexuses.GetSpec(id); ok {
			current.SpecStatus = types.SpecStatus{Kind: types.SpecStatusDeleted}
			current.Operation = nil
			r.exec.Reg.Nexuses.PutSpec(id, current)
			_ = registry.Persist(ctx, r.kv, registry.KindNexusSpec, id, current, nil)
		}
	}
	r.forget(key)
}
