package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	goRotate "github.com/MrEthical07/goRotate"
)

type fakeSource struct {
	snapshot goRotate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goRotate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRotate.MetricsSnapshot{
			Counters:   map[goRotate.MetricID]uint64{},
			Histograms: map[goRotate.MetricID][]uint64{},
		},
	})
	require.Empty(t, exp.Render())
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRotate.MetricsSnapshot{
			Counters: map[goRotate.MetricID]uint64{
				goRotate.MetricRefreshSuccess:       7,
				goRotate.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[goRotate.MetricID][]uint64{
				goRotate.MetricRotateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	require.Contains(t, out, "gorotate_refresh_success_total 7")
	require.Contains(t, out, "gorotate_refresh_reuse_detected_total 2")
	require.Contains(t, out, "gorotate_login_issued_total 0")
	require.Contains(t, out, `gorotate_rotate_latency_seconds_bucket{le="0.005"} 1`)
	require.Contains(t, out, `gorotate_rotate_latency_seconds_bucket{le="+Inf"} 36`)
	require.Contains(t, out, "gorotate_rotate_latency_seconds_count 36")
	require.Contains(t, out, "gorotate_audit_dropped_total 2")
}

func TestRenderOmitsHistogramWhenNotCollected(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRotate.MetricsSnapshot{
			Counters:   map[goRotate.MetricID]uint64{goRotate.MetricLoginIssued: 1},
			Histograms: map[goRotate.MetricID][]uint64{},
		},
	})
	require.NotContains(t, exp.Render(), "gorotate_rotate_latency_seconds")
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRotate.MetricsSnapshot{
			Counters:   map[goRotate.MetricID]uint64{goRotate.MetricLoginIssued: 1},
			Histograms: map[goRotate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, rec.Body.String(), "gorotate_login_issued_total 1")
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goRotate.MetricsSnapshot{
			Counters: map[goRotate.MetricID]uint64{
				goRotate.MetricLoginIssued:    1000,
				goRotate.MetricRefreshSuccess: 800,
				goRotate.MetricRefreshFailure: 10,
				goRotate.MetricSessionCreated: 800,
				goRotate.MetricSessionEvicted: 20,
			},
			Histograms: map[goRotate.MetricID][]uint64{
				goRotate.MetricRotateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
