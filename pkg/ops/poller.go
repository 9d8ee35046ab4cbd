package ops

import (
	"context"
	"time"

	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/types"
)

// DefaultCachePeriod is how often the State caches are refreshed from
// the fleet when the operator does not override it.
const DefaultCachePeriod = 30 * time.Second

// StatePoller refreshes the State caches from the data plane: each tick
// it asks every Online node for a StateReport and folds the answer into
// the registry. Updates are monotonic per resource: an entry whose
// observation timestamp is not newer than the cached one is dropped.
type StatePoller struct {
	exec   *Executor
	period time.Duration
	stopCh chan struct{}
}

// NewStatePoller builds a poller over exec's registry and connector.
func NewStatePoller(exec *Executor, period time.Duration) *StatePoller {
	if period <= 0 {
		period = DefaultCachePeriod
	}
	return &StatePoller{exec: exec, period: period, stopCh: make(chan struct{})}
}

// Start begins the polling loop.
func (p *StatePoller) Start() {
	go p.run()
}

// Stop stops the polling loop.
func (p *StatePoller) Stop() {
	close(p.stopCh)
}

func (p *StatePoller) run() {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	logger := log.WithComponent("state-poller")
	logger.Info().Dur("period", p.period).Msg("state poller started")

	for {
		select {
		case <-ticker.C:
			p.PollOnce(context.Background())
		case <-p.stopCh:
			logger.Info().Msg("state poller stopped")
			return
		}
	}
}

// PollOnce polls every Online node once. Nodes that fail to answer are
// skipped; their resources keep the last observed state until the
// watchdog or reconciler acts on the silence.
func (p *StatePoller) PollOnce(ctx context.Context) {
	for _, node := range p.exec.Reg.Nodes.List() {
		if node.State.Status != types.NodeOnline {
			continue
		}
		var report types.StateReport
		err := p.exec.Conn.Invoke(ctx, node.Spec.GrpcEndpoint, connector.MethodGetState, nil, &report)
		if err != nil {
			logger := log.WithNode(node.Spec.ID)
			logger.Debug().Err(err).Msg("state poll failed")
			continue
		}
		p.apply(report)
	}
}

func (p *StatePoller) apply(report types.StateReport) {
	reg := p.exec.Reg
	for id, state := range report.Pools {
		if current, ok := reg.Pools.GetState(id); ok && !state.UpdatedAt.After(current.UpdatedAt) {
			continue
		}
		reg.Pools.PutState(id, state)
	}
	for id, state := range report.Replicas {
		if current, ok := reg.Replicas.GetState(id); ok && !state.UpdatedAt.After(current.UpdatedAt) {
			continue
		}
		reg.Replicas.PutState(id, state)
	}
	for id, state := range report.Nexuses {
		if current, ok := reg.Nexuses.GetState(id); ok && !state.UpdatedAt.After(current.UpdatedAt) {
			continue
		}
		reg.Nexuses.PutState(id, state)
	}
}
