package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreInert(t *testing.T) {
	m := New(Config{})
	m.Inc(MetricRefreshSuccess)
	require.Zero(t, m.Value(MetricRefreshSuccess))
	require.Empty(t, m.Snapshot().Counters)

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricRefreshSuccess)
	require.False(t, nilMetrics.Enabled())
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRefreshReuseDetected)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(8000), m.Value(MetricRefreshReuseDetected))
	m.Add(MetricSweepRecordsDeleted, 7)
	require.Equal(t, uint64(7), m.Snapshot().Counters[MetricSweepRecordsDeleted])
}

func TestRotateLatencyHistogram(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricRotateLatency, 3*time.Millisecond)
	m.Observe(MetricRotateLatency, 40*time.Millisecond)
	m.Observe(MetricRotateLatency, time.Second)
	m.Observe(MetricRefreshSuccess, time.Millisecond)

	s := m.Snapshot()
	require.Equal(t, []uint64{1, 0, 0, 1, 0, 0, 0, 1}, s.Histograms[MetricRotateLatency])
	_, hasLatencyCounter := s.Counters[MetricRotateLatency]
	require.False(t, hasLatencyCounter)
}
