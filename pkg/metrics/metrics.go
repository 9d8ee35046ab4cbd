package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource-count metrics, one gauge per kind, labeled by spec status.
	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "norite_pools_total",
			Help: "Total number of pools by spec status",
		},
		[]string{"status"},
	)

	ReplicasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "norite_replicas_total",
			Help: "Total number of replicas by spec status",
		},
		[]string{"status"},
	)

	NexusesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "norite_nexuses_total",
			Help: "Total number of nexuses by spec status",
		},
		[]string{"status"},
	)

	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "norite_volumes_total",
			Help: "Total number of volumes by spec status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "norite_nodes_total",
			Help: "Total number of registered data-plane nodes by liveness status",
		},
		[]string{"status"},
	)

	// Raft / cluster-lease metrics.
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "norite_raft_is_leader",
			Help: "Whether this process currently holds the cluster leader lease (1) or not (0)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "norite_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "norite_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "norite_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry (a Spec store Put/Delete)",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sequencer metrics.
	SequencerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "norite_sequencer_ops_total",
			Help: "Total number of sequencer operations by resource kind, op kind, and outcome",
		},
		[]string{"kind", "op", "outcome"},
	)

	SequencerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "norite_sequencer_op_duration_seconds",
			Help:    "Time a pending operation spent between StartOp and CommitOp",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	OpInProgressTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "norite_sequencer_op_in_progress_total",
			Help: "Total number of StartOp calls rejected because a mutation was already pending",
		},
		[]string{"kind"},
	)

	// Reconciler metrics.
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "norite_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "norite_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle across all resource kinds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "norite_reconcile_actions_total",
			Help: "Total number of compensating operations issued by the reconciler by kind and action",
		},
		[]string{"kind", "action"},
	)

	ReconcileSkippedBusyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "norite_reconcile_skipped_busy_total",
			Help: "Total number of resources skipped this tick because their sequencer was held",
		},
		[]string{"kind"},
	)

	// API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "norite_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "norite_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Node-registry metrics.
	NodeWatchdogExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "norite_node_watchdog_expired_total",
			Help: "Total number of times a node's registration watchdog elapsed, transitioning it Offline",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolsTotal,
		ReplicasTotal,
		NexusesTotal,
		VolumesTotal,
		NodesTotal,
		RaftLeader,
		RaftPeers,
		RaftAppliedIndex,
		RaftApplyDuration,
		SequencerOpsTotal,
		SequencerOpDuration,
		OpInProgressTotal,
		ReconciliationCyclesTotal,
		ReconciliationDuration,
		ReconcileActionsTotal,
		ReconcileSkippedBusyTotal,
		APIRequestsTotal,
		APIRequestDuration,
		NodeWatchdogExpiredTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
