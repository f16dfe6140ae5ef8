package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Step()
	m.ModelCall(errors.New("x"))
	m.Dispatch("ping", "ok")
	m.Recovery("parse")
	m.RepeatLoop()
	m.Completion("answered", time.Second)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Step()
	m.Step()
	m.Dispatch("ping", "ok")
	m.Recovery("repeat_loop")
	m.Completion("answered", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"friday_agent_steps_total 2",
		`friday_tool_dispatches_total{outcome="ok",tool="ping"} 1`,
		`friday_error_recoveries_total{cause="repeat_loop"} 1`,
		`friday_completions_total{reason="answered"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
