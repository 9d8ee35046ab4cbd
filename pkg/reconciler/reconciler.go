/*
Package reconciler implements the background loop driving observed
State toward desired Spec.

Each cycle sweeps the Spec caches in a fixed order (pools, replicas,
nexuses, volumes, nodes), tries each resource's sequencer without
blocking, and issues at most one compensating operation per resource
through the same executor path an RPC would use. A resource whose
sequencer is busy is skipped this tick, never waited on.

The loop has two cadences: an active period while recent cycles issued
work, and a longer idle period once the fleet has converged.
*/
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/ops"
	"github.com/noriteio/norite/pkg/store"
)

// Defaults for the two loop cadences and the retry policy.
const (
	DefaultPeriod     = 10 * time.Second
	DefaultIdlePeriod = 60 * time.Second

	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 60 * time.Second

	// DefaultMaxCreateFailures is how many consecutive failed Create
	// attempts are tolerated before a Creating spec is tombstoned.
	DefaultMaxCreateFailures = 10

	// DefaultNodeGraceWindow is how long past Offline a node may stay
	// silent before its hosted nexuses are marked Unknown in the State
	// cache.
	DefaultNodeGraceWindow = 30 * time.Second
)

// Config tunes the reconciliation loop.
type Config struct {
	Period     time.Duration
	IdlePeriod time.Duration

	BackoffBase time.Duration
	BackoffCap  time.Duration

	MaxCreateFailures int

	NodeGraceWindow time.Duration

	// MaxConcurrentRebuilds caps how many child replacements may be
	// driven in a single cycle across all nexuses.
	MaxConcurrentRebuilds int

	// CycleBudget bounds the wall-clock time of one whole reconcile
	// cycle; every compensating operation in the cycle shares that
	// deadline.
	CycleBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.IdlePeriod <= 0 {
		c.IdlePeriod = DefaultIdlePeriod
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxCreateFailures <= 0 {
		c.MaxCreateFailures = DefaultMaxCreateFailures
	}
	if c.NodeGraceWindow <= 0 {
		c.NodeGraceWindow = DefaultNodeGraceWindow
	}
	if c.MaxConcurrentRebuilds <= 0 {
		c.MaxConcurrentRebuilds = 4
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = 30 * time.Second
	}
	return c
}

// backoffState tracks consecutive failures for one resource so retries
// decay exponentially instead of hammering a broken node every tick.
type backoffState struct {
	failures    int
	nextAttempt time.Time
}

// Reconciler is the reconciliation loop.
type Reconciler struct {
	cfg    Config
	exec   *ops.Executor
	kv     store.KeyValueStore
	logger zerolog.Logger

	mu      sync.Mutex
	backoff map[string]*backoffState

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Reconciler over the executor's registry, store, and
// connector.
func New(cfg Config, exec *ops.Executor, kv store.KeyValueStore) *Reconciler {
	return &Reconciler{
		cfg:     cfg.withDefaults(),
		exec:    exec,
		kv:      kv,
		logger:  log.WithComponent("reconciler"),
		backoff: make(map[string]*backoffState),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the current cycle to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	r.logger.Info().
		Dur("period", r.cfg.Period).
		Dur("idle_period", r.cfg.IdlePeriod).
		Msg("reconciler started")

	timer := time.NewTimer(r.cfg.Period)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			actions := r.ReconcileOnce()
			next := r.cfg.IdlePeriod
			if actions > 0 {
				next = r.cfg.Period
			}
			timer.Reset(next)
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// ReconcileOnce performs one full cycle and returns the number of
// compensating actions issued.
func (r *Reconciler) ReconcileOnce() int {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CycleBudget)
	defer cancel()

	actions := 0
	actions += r.reconcilePools(ctx)
	actions += r.reconcileReplicas(ctx)
	actions += r.reconcileNexuses(ctx)
	actions += r.reconcileVolumes(ctx)
	actions += r.reconcileNodes(ctx)
	return actions
}

// shouldAttempt consults the backoff table. The zero entry always
// allows an attempt.
func (r *Reconciler) shouldAttempt(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backoff[key]
	if !ok {
		return true
	}
	return time.Now().After(b.nextAttempt)
}

// recordOutcome updates the backoff table after an attempt and returns
// the consecutive failure count.
func (r *Reconciler) recordOutcome(key string, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.backoff, key)
		return 0
	}
	b, ok := r.backoff[key]
	if !ok {
		b = &backoffState{}
		r.backoff[key] = b
	}
	b.failures++
	delay := r.cfg.BackoffBase << (b.failures - 1)
	if delay > r.cfg.BackoffCap || delay <= 0 {
		delay = r.cfg.BackoffCap
	}
	b.nextAttempt = time.Now().Add(delay)
	return b.failures
}

func (r *Reconciler) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backoff, key)
}

func observeAction(kind, action string) {
	metrics.ReconcileActionsTotal.WithLabelValues(kind, action).Inc()
}

func observeSkip(kind string) {
	metrics.ReconcileSkippedBusyTotal.WithLabelValues(kind).Inc()
}
