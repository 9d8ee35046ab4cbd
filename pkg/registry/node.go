package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

// DefaultNodeDeadline is the watchdog period a node's registration is
// valid for before it is declared Offline.
const DefaultNodeDeadline = 10 * time.Second

// nodeEntry is one tracked node: its durable Spec, its observed
// liveness State, and the single-shot watchdog timer resetting the
// deadline on every heartbeat.
type nodeEntry struct {
	mu    sync.Mutex
	spec  types.NodeSpec
	state types.NodeState
	timer *time.Timer
}

// NodeRegistry is the Node Registry & Watchdog component. It
// owns the NodeSpec/NodeState pair for every known node and the
// watchdog timer driving Online/Offline transitions.
type NodeRegistry struct {
	mu       sync.RWMutex
	nodes    map[string]*nodeEntry
	store    store.KeyValueStore
	deadline time.Duration
	broker   *events.Broker
}

func newNodeRegistry(kv store.KeyValueStore, deadline time.Duration, broker *events.Broker) *NodeRegistry {
	if deadline <= 0 {
		deadline = DefaultNodeDeadline
	}
	return &NodeRegistry{nodes: make(map[string]*nodeEntry), store: kv, deadline: deadline, broker: broker}
}

// NodeView is the combined Spec+State snapshot returned to callers
// (there is no sequencer-guarded NodeSpec mutation path distinct from
// Register/Deregister, so callers never need the raw cache entry).
type NodeView struct {
	Spec  types.NodeSpec
	State types.NodeState
}

// LoadFromStore rehydrates every persisted NodeSpec on startup,
// seeding a watchdog in Unknown rather than assuming liveness: a node
// that never re-registers after a control-plane restart must still age
// out to Offline on schedule instead of being held artificially Online
// until its first real heartbeat.
func (r *NodeRegistry) LoadFromStore(ctx context.Context) error {
	raw, err := r.store.List(ctx, kindNodeSpec)
	if err != nil {
		return fmt.Errorf("list persisted node specs: %w", err)
	}
	for id, data := range raw {
		var spec types.NodeSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("decode node spec %s: %w", id, err)
		}
		r.seedUnknown(spec)
	}
	return nil
}

func (r *NodeRegistry) seedUnknown(spec types.NodeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.nodes[spec.ID]; known {
		return
	}
	now := time.Now()
	e := &nodeEntry{
		spec:  spec,
		state: types.NodeState{Status: types.NodeUnknown, RegistrationDead: now.Add(r.deadline)},
	}
	e.timer = time.AfterFunc(r.deadline, func() { r.expire(spec.ID) })
	r.nodes[spec.ID] = e
}

// Register handles a node's self-registration heartbeat. A brand-new
// id is upserted outright; a known id with a
// differing endpoint is accepted only if the stored record is
// currently Offline past its own deadline, otherwise Conflict.
func (r *NodeRegistry) Register(ctx context.Context, id, endpoint string) (NodeView, error) {
	spec := types.NodeSpec{ID: id, GrpcEndpoint: endpoint}

	r.mu.Lock()
	e, known := r.nodes[spec.ID]
	if !known {
		e = &nodeEntry{}
		r.nodes[spec.ID] = e
	}
	r.mu.Unlock()

	e.mu.Lock()

	if known && e.spec.GrpcEndpoint != "" && e.spec.GrpcEndpoint != spec.GrpcEndpoint {
		pastDeadline := e.state.Status == types.NodeOffline && time.Now().After(e.state.RegistrationDead)
		if !pastDeadline {
			e.mu.Unlock()
			return NodeView{}, errs.New(errs.Conflict, "Node", "EndpointMismatch",
				fmt.Sprintf("node %q is already registered with a different endpoint", spec.ID))
		}
	}

	now := time.Now()
	wasOnline := e.state.Status == types.NodeOnline
	e.spec = spec
	e.state = types.NodeState{Status: types.NodeOnline, LastSeen: now, RegistrationDead: now.Add(r.deadline)}

	if e.timer == nil {
		e.timer = time.AfterFunc(r.deadline, func() { r.expire(spec.ID) })
	} else {
		e.timer.Reset(r.deadline)
	}

	if err := r.persist(ctx, spec); err != nil {
		e.mu.Unlock()
		return NodeView{}, err
	}
	view := NodeView{Spec: e.spec, State: e.state}
	e.mu.Unlock()

	r.refreshMetric()
	if !wasOnline {
		r.publish(events.Registered, spec.ID, "node registered")
	}
	return view, nil
}

// expire fires when a node's watchdog deadline elapses without a new
// registration; it transitions Online or Unknown to Offline. It never
// touches the node's Spec.
func (r *NodeRegistry) expire(id string) {
	r.mu.RLock()
	e, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.state.Status != types.NodeOnline && e.state.Status != types.NodeUnknown {
		e.mu.Unlock()
		return
	}
	e.state.Status = types.NodeOffline
	e.mu.Unlock()

	metrics.NodeWatchdogExpiredTotal.Inc()
	r.refreshMetric()
	r.publish(events.Offline, id, "node watchdog deadline elapsed")
	logger := log.WithNode(id)
	logger.Warn().Msg("node marked offline: watchdog deadline elapsed")
}

// Deregister explicitly tombstones a node.
func (r *NodeRegistry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.nodes[id]
	r.mu.Unlock()
	if !ok {
		return errs.NotFoundErr("Node", id)
	}

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state.Status = types.NodeDeleted
	e.mu.Unlock()

	if err := r.store.Delete(ctx, store.Key{Kind: kindNodeSpec, UUID: id}); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.nodes, id)
	r.mu.Unlock()

	r.refreshMetric()
	r.publish(events.Deleted, id, "node deregistered")
	return nil
}

// Get returns the combined Spec+State snapshot for a node.
func (r *NodeRegistry) Get(id string) (NodeView, bool) {
	r.mu.RLock()
	e, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return NodeView{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return NodeView{Spec: e.spec, State: e.state}, true
}

// List returns a snapshot of every known node.
func (r *NodeRegistry) List() []NodeView {
	r.mu.RLock()
	entries := make([]*nodeEntry, 0, len(r.nodes))
	for _, e := range r.nodes {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]NodeView, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, NodeView{Spec: e.spec, State: e.state})
		e.mu.Unlock()
	}
	return out
}

func (r *NodeRegistry) persist(ctx context.Context, spec types.NodeSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode node spec: %w", err)
	}
	return r.store.Put(ctx, store.Key{Kind: kindNodeSpec, UUID: spec.ID}, data, nil)
}

func (r *NodeRegistry) refreshMetric() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[types.NodeStatus]int{}
	for _, e := range r.nodes {
		e.mu.Lock()
		counts[e.state.Status]++
		e.mu.Unlock()
	}
	for _, status := range []types.NodeStatus{types.NodeUnknown, types.NodeOnline, types.NodeOffline, types.NodeDeleted} {
		metrics.NodesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (r *NodeRegistry) publish(what events.Type, nodeID, message string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(events.Event{
		Type:       what,
		Kind:       types.KindNode,
		ResourceID: nodeID,
		Message:    message,
	})
}
