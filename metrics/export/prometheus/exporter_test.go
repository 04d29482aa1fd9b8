package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot goGuard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                    { return f.dropped }

func collect(exp *Exporter) []prometheus.Metric {
	ch := make(chan prometheus.Metric, 64)
	exp.Collect(ch)
	close(ch)
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCollectNothingWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters:   map[goGuard.MetricID]uint64{},
			Histograms: map[goGuard.MetricID][]uint64{},
		},
	})
	if got := collect(exp); len(got) != 0 {
		t.Fatalf("expected no series for disabled metrics, got %d", len(got))
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricLoginSuccess:     7,
				goGuard.MetricPermissionDenied: 2,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[goGuard.MetricID]time.Duration{
				goGuard.MetricLoginLatency: 1500 * time.Millisecond,
			},
		},
		dropped: 2,
	})

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}

	out := scrape(t, exp)
	for _, want := range []string{
		"goguard_login_success_total 7",
		"goguard_permission_denied_total 2",
		"goguard_events_dropped_total 2",
		`goguard_login_latency_seconds_bucket{le="0.005"} 1`,
		`goguard_login_latency_seconds_bucket{le="0.5"} 28`,
		`goguard_login_latency_seconds_bucket{le="+Inf"} 36`,
		"goguard_login_latency_seconds_count 36",
		"goguard_login_latency_seconds_sum 1.5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestExporterReadsEngine(t *testing.T) {
	cfg := goGuard.DefaultConfig()
	cfg.Password.Hashing.Memory = 8 * 1024
	cfg.Password.Hashing.Time = 1
	cfg.PermissionCache.SweepInterval = 0
	e, err := goGuard.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	e.Metrics().Inc(goGuard.MetricLogout)

	if out := scrape(t, NewExporter(e)); !strings.Contains(out, "goguard_logout_total 1") {
		t.Fatalf("engine counter not exported:\n%s", out)
	}
}
