package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("analyze_sentiment", "ok", 120*time.Millisecond)
	m.ObserveRequest("analyze_sentiment", "ok", 80*time.Millisecond)
	m.ObserveRequest("analyze_sentiment", "error", time.Second)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("analyze_sentiment", "ok")); got != 2 {
		t.Errorf("expected 2 ok requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("analyze_sentiment", "error")); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordOutcome("overall", "scored")
	m.RecordOutcome("overall", "skipped")
	m.ChunkCompleted("entity")
	m.BucketAssigned("overall", "Positive")
	m.EntitiesFound(3)

	if got := testutil.ToFloat64(m.chunks.WithLabelValues("entity")); got != 1 {
		t.Errorf("expected 1 chunk, got %v", got)
	}
	if got := testutil.ToFloat64(m.entities); got != 3 {
		t.Errorf("expected 3 entities, got %v", got)
	}
	if got := testutil.ToFloat64(m.buckets.WithLabelValues("overall", "Positive")); got != 1 {
		t.Errorf("expected 1 Positive assignment, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", "ok", time.Second)
	m.RecordOutcome("overall", "scored")
	m.ChunkCompleted("overall")
	m.BucketAssigned("overall", "Neutral")
	m.EntitiesFound(1)
	if err := m.Push(context.Background(), "http://unused", "job", "run"); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.RecordOutcome("overall", "scored")
	if err := m.Push(context.Background(), srv.URL, "surveysentiment", "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotPath, "/job/surveysentiment") || !strings.Contains(gotPath, "run_id/abc") {
		t.Errorf("unexpected push path %q", gotPath)
	}
}
