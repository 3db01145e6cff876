package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/54b3r/docqa-go/internal/rag"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T, svc DocService) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newTestServer(t, svc, func(c *Config) {
		c.MetricsRegistry = reg
		c.MetricsGatherer = reg
	})
	return s, reg
}

// counterValue returns the value of the named counter whose labels include
// every pair in want, or -1 when no such series exists.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, want) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t, &fakeService{})

	w := do(t, s, http.MethodGet, "/metrics", "", "")

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_QueryOutcomeCounted(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t, &fakeService{answer: "a"})

	do(t, s, http.MethodPost, "/api/query", "alice", `{"question":"q","name":"n"}`)

	if v := counterValue(t, reg, "docqa_api_requests_total", map[string]string{"operation": "query", "outcome": "ok"}); v != 1 {
		t.Errorf("docqa_api_requests_total{operation=query,outcome=ok}: want 1, got %v", v)
	}
	if v := counterValue(t, reg, "docqa_http_requests_total", map[string]string{"handler": "query", "code": "200"}); v != 1 {
		t.Errorf("docqa_http_requests_total{handler=query,code=200}: want 1, got %v", v)
	}
}

func Test_Metrics_ErrorKindAsOutcome(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t, &fakeService{ingestErr: fmt.Errorf("wrap: %w", rag.ErrEmptyDocument)})

	do(t, s, http.MethodPost, "/api/ingest", "alice", `{"text":"   ","name":"n"}`)

	if v := counterValue(t, reg, "docqa_api_requests_total", map[string]string{"operation": "ingest", "outcome": "empty_document"}); v != 1 {
		t.Errorf("want outcome=empty_document counted once, got %v", v)
	}
	if v := counterValue(t, reg, "docqa_http_requests_total", map[string]string{"handler": "ingest", "code": "422"}); v != 1 {
		t.Errorf("want code=422 counted once, got %v", v)
	}
}

func Test_Metrics_UnauthenticatedNotObserved(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t, &fakeService{})

	do(t, s, http.MethodPost, "/api/query", "", `{"question":"q","name":"n"}`)

	if v := counterValue(t, reg, "docqa_http_requests_total", map[string]string{"handler": "query", "code": "401"}); v != 1 {
		t.Errorf("want code=401 counted once, got %v", v)
	}
	if v := counterValue(t, reg, "docqa_api_requests_total", map[string]string{"operation": "query"}); v != -1 {
		t.Errorf("service call must not be observed, got %v", v)
	}
}

func Test_Metrics_ObserveDirect(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)

	m.observe("query", nil, 10*time.Millisecond)
	m.observe("query", rag.ErrNotFound, 10*time.Millisecond)
	m.observe("query", rag.ErrNotFound, 10*time.Millisecond)

	if v := counterValue(t, reg, "docqa_api_requests_total", map[string]string{"outcome": "not_found"}); v != 2 {
		t.Errorf("want not_found=2, got %v", v)
	}
}
