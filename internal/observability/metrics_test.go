package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordMessage("invocation")
	m.RecordMessage("invocation")
	m.RecordMessage("chatter")
	m.RecordInvocation("completed", 2*time.Second)
	m.RecordLLMRequest("planner", "anthropic", "ok", time.Second)
	m.RecordToolExecution("web_search", "succeeded", 300*time.Millisecond)
	m.ObserveNode("plan", 150*time.Millisecond)
	m.RecordSchedulerFire("delivered")
	m.RecordTrendFollow("emoji")
	m.RecordError("gateway", "rate_limited")

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("invocation")); got != 2 {
		t.Errorf("invocation messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues("chatter")); got != 1 {
		t.Errorf("chatter messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Invocations.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed invocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("planner", "anthropic", "ok")); got != 1 {
		t.Errorf("llm requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("web_search", "succeeded")); got != 1 {
		t.Errorf("tool executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SchedulerFires.WithLabelValues("delivered")); got != 1 {
		t.Errorf("scheduler fires = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrendFollows.WithLabelValues("emoji")); got != 1 {
		t.Errorf("trend follows = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("gateway", "rate_limited")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordMessage("invocation")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	out := string(body)
	if !strings.Contains(out, "prism_messages_total") {
		t.Error("prism_messages_total missing from exposition")
	}
	if !strings.Contains(out, "go_goroutines") {
		t.Error("go collector missing from exposition")
	}
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordMessage("invocation")

	if got := testutil.ToFloat64(b.Messages.WithLabelValues("invocation")); got != 0 {
		t.Errorf("second registry counted %v, want 0", got)
	}
}
