package metrics

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObservesElapsedTime(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_timer_seconds",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(hist)

	assert.GreaterOrEqual(t, timer.Duration(), 5*time.Millisecond)
}

type fakeSource struct {
	refreshed atomic.Int32
}

func (f *fakeSource) RefreshMetrics() { f.refreshed.Add(1) }

type fakeLeader struct{ leader bool }

func (f *fakeLeader) IsLeader() bool { return f.leader }

func TestCollectorRefreshesSourcesOnStart(t *testing.T) {
	src := &fakeSource{}
	c := NewCollector(time.Hour, &fakeLeader{leader: true}, src)
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return src.refreshed.Load() >= 1
	}, time.Second, time.Millisecond, "collector refreshes sources immediately on start")
}
