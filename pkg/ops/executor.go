/*
Package ops holds the per-resource operation executors shared by the
RPC dispatcher (pkg/api) and the reconciler (pkg/reconciler). Both
callers drive mutations through the same code path here, which is what
makes replaying a pending operation safe regardless of who re-drives
it.

Each operation follows the same three-phase shape:

 1. Acquire the resource's sequencer, start the operation, and persist
    the Spec with its operation slot populated *before* calling the
    data plane; a crash here leaves the op recorded for the
    reconciler to retry, never silently lost.
 2. Call the data plane through the NodeConnector.
 3. Record the result, commit or roll back via the sequencer, and
    persist the final Spec.
*/
package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
	"github.com/noriteio/norite/pkg/types"
)

// Executor drives resource mutations across the Registry, the
// persistent store, and the data plane (via NodeConnector).
type Executor struct {
	Reg   *registry.Registry
	Store store.KeyValueStore
	Conn  connector.NodeConnector

	// Broker, when set, receives lifecycle events for committed
	// mutations.
	Broker *events.Broker
}

// New builds an Executor.
func New(reg *registry.Registry, kv store.KeyValueStore, conn connector.NodeConnector) *Executor {
	return &Executor{Reg: reg, Store: kv, Conn: conn}
}

// PublishEvent emits a lifecycle event if a broker is attached.
func (x *Executor) PublishEvent(kind types.ResourceKind, what events.Type, resourceID, message string) {
	if x.Broker == nil {
		return
	}
	x.Broker.Publish(events.Event{
		Type:       what,
		Kind:       kind,
		ResourceID: resourceID,
		Message:    message,
	})
}

// persist writes spec to the store under kind/uuid, instrumented as
// part of the op-duration timer by the caller.
func (x *Executor) persist(ctx context.Context, kind, uuid string, spec any) error {
	return registry.Persist(ctx, x.Store, kind, uuid, spec, nil)
}

// nodeEndpoint resolves a node id to its gRPC endpoint, or
// errs.NodeUnavailable if the node is not currently known.
func (x *Executor) nodeEndpoint(nodeID string) (string, error) {
	view, ok := x.Reg.Nodes.Get(nodeID)
	if !ok {
		return "", errs.NodeUnavailable(nodeID, errNoSuchNode(nodeID))
	}
	return view.Spec.GrpcEndpoint, nil
}

type errNoSuchNode string

func (e errNoSuchNode) Error() string { return "node " + string(e) + " is not registered" }

// observeOpStart records a rejected StartOp (OpInProgress) against the
// sequencer metrics.
func observeOpStart(kind string, startErr error) {
	if startErr != nil && errs.KindOf(startErr) == errs.Conflict {
		metrics.OpInProgressTotal.WithLabelValues(kind).Inc()
	}
}

// observeOpResult records a committed operation's duration and
// outcome.
func observeOpResult(kind, op string, start time.Time, callErr error) {
	outcome := "success"
	if callErr != nil {
		outcome = "failure"
	}
	metrics.SequencerOpsTotal.WithLabelValues(kind, op, outcome).Inc()
	metrics.SequencerOpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
