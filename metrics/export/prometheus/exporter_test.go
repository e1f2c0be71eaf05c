package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/clinicguard"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot clinicguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() clinicguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                         { return f.dropped }

func scrape(t testing.TB, exp *Exporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectOnlyDropCounterWhenDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: clinicguard.MetricsSnapshot{
			Counters:   map[clinicguard.MetricID]uint64{},
			Histograms: map[clinicguard.MetricID][]uint64{},
		},
	})

	out := scrape(t, exp)
	if strings.Contains(out, "clinicguard_token_validated_total") {
		t.Fatalf("expected no engine counters for disabled metrics, got:\n%s", out)
	}
	if !strings.Contains(out, "clinicguard_audit_dropped_total 0") {
		t.Fatalf("expected audit drop counter, got:\n%s", out)
	}
}

func TestCollectIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: clinicguard.MetricsSnapshot{
			Counters: map[clinicguard.MetricID]uint64{
				clinicguard.MetricTokenValidated: 7,
				clinicguard.MetricAuthzDenied:    2,
			},
			Histograms: map[clinicguard.MetricID][]uint64{
				clinicguard.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := scrape(t, exp)
	for _, want := range []string{
		"clinicguard_token_validated_total 7",
		"clinicguard_authz_denied_total 2",
		"clinicguard_session_created_total 0",
		`clinicguard_validate_latency_seconds_bucket{le="0.005"} 1`,
		`clinicguard_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"clinicguard_validate_latency_seconds_count 36",
		"clinicguard_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "clinicguard_authorize_latency_seconds") {
		t.Fatal("histogram without data must be omitted")
	}
}

func TestExporterRegistersWithCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp := NewExporterFromSource(fakeSource{snapshot: clinicguard.MetricsSnapshot{
		Counters: map[clinicguard.MetricID]uint64{clinicguard.MetricLoginSuccess: 1},
	}})
	if err := reg.Register(exp); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected gathered families")
	}
}

func TestExporterHandlesNilEngine(t *testing.T) {
	var engine *clinicguard.Engine
	out := scrape(t, NewExporter(engine))
	if !strings.Contains(out, "clinicguard_audit_dropped_total 0") {
		t.Fatalf("nil engine should still report drops, got:\n%s", out)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: clinicguard.MetricsSnapshot{
			Counters: map[clinicguard.MetricID]uint64{
				clinicguard.MetricTokenValidated:   1000,
				clinicguard.MetricTokenRejected:    40,
				clinicguard.MetricSessionCreated:   800,
				clinicguard.MetricSessionValidated: 8000,
			},
			Histograms: map[clinicguard.MetricID][]uint64{
				clinicguard.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(exp)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Gather()
	}
}
