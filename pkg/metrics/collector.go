package metrics

import (
	"time"
)

// Source is what the collector scrapes each tick. The registry and the
// raft store both satisfy a slice of it; the CLI wires them in at
// startup.
type Source interface {
	RefreshMetrics()
}

// LeaderReporter exposes cluster-lease standing; when a non-nil one is
// passed to NewCollector the collector keeps the leader gauge current
// between store writes.
type LeaderReporter interface {
	IsLeader() bool
}

// Collector periodically refreshes gauge families that are derived from
// cached state rather than incremented at call sites.
type Collector struct {
	sources []Source
	leader  LeaderReporter
	period  time.Duration
	stopCh  chan struct{}
}

// NewCollector builds a collector over the given sources.
func NewCollector(period time.Duration, leader LeaderReporter, sources ...Source) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{sources: sources, leader: leader, period: period, stopCh: make(chan struct{})}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops collecting metrics.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, s := range c.sources {
		s.RefreshMetrics()
	}
	if c.leader != nil {
		v := 0.0
		if c.leader.IsLeader() {
			v = 1
		}
		RaftLeader.Set(v)
	}
}
