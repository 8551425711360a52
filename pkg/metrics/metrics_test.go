package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/report"
)

func TestObserve(t *testing.T) {
	m := New("test")
	events := []bus.Event{
		{ExecutionID: 1, Path: "0", Kind: bus.KindStarted, Report: &report.StepExecutionReport{Status: report.StatusRunning}},
		{ExecutionID: 1, Path: "0/0", Kind: bus.KindEnded, Report: &report.StepExecutionReport{Type: "success", Status: report.StatusSuccess, Duration: time.Millisecond}},
		{ExecutionID: 1, Kind: bus.KindPaused},
		{ExecutionID: 1, Kind: bus.KindResumed},
		{ExecutionID: 1, Path: "0", Kind: bus.KindEnded, Report: &report.StepExecutionReport{Status: report.StatusSuccess}},
		{ExecutionID: 1, Kind: bus.KindExecutionEnded, Report: &report.StepExecutionReport{Status: report.StatusSuccess}},
	}
	for _, ev := range events {
		if err := m.Observe(ev); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(m.ExecutionsActive); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("SUCCESS")); got != 1 {
		t.Errorf("executions SUCCESS = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("success", "SUCCESS")); got != 1 {
		t.Errorf("steps success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("composite", "SUCCESS")); got != 1 {
		t.Errorf("steps composite = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("paused")); got != 1 {
		t.Errorf("paused transitions = %v, want 1", got)
	}
}

func TestRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("chutney")
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
	m.RecordExecutionStarted()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "chutney_executions_active 1") {
		t.Errorf("body missing gauge:\n%s", rec.Body.String())
	}
}

func TestAttach(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	m := New("attach")
	sub := m.Attach(b)
	defer sub.Close()

	b.Publish(bus.Event{ExecutionID: 1, Path: "0", Kind: bus.KindStarted})
	deadline := time.Now().Add(5 * time.Second)
	for testutil.ToFloat64(m.ExecutionsActive) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("gauge not updated from bus")
		}
		time.Sleep(time.Millisecond)
	}
}
