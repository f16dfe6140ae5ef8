package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/parser"
	"github.com/ashutoshrp06/friday/internal/types"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeRunner struct {
	queries []string
	cleared int
	result  agent.Result
	err     error
}

func (f *fakeRunner) ProcessQuery(_ context.Context, query string) (agent.Result, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func (f *fakeRunner) ClearHistory() { f.cleared++ }

func (f *fakeRunner) ListTools() []types.ToolInfo {
	return []types.ToolInfo{
		{Name: "ping", Description: "Ping a host"},
		{Name: "dns-lookup", Description: "Resolve a domain"},
	}
}

func TestBanner(t *testing.T) {
	banner := Banner()
	if len(strings.Split(banner, "\n")) < 3 {
		t.Fatal("banner should span several lines")
	}
	if !strings.Contains(banner, "DevOps") {
		t.Error("banner should carry the tagline")
	}
}

func TestStylesRender(t *testing.T) {
	styles := DefaultStyles()
	for name, rendered := range map[string]string{
		"answer":  styles.Answer.Render("test"),
		"thought": styles.Thought.Render("test"),
		"error":   styles.ToolFail.Render("test"),
	} {
		if !strings.Contains(rendered, "test") {
			t.Errorf("%s style lost its content: %q", name, rendered)
		}
	}
}

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func ready(t *testing.T, runner Runner) Model {
	t.Helper()
	return update(t, NewModel(context.Background(), runner), tea.WindowSizeMsg{Width: 120, Height: 60})
}

func TestModel_SubmitQuery(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{Result: "all good", StepsTaken: 1, StepsLimit: 20}}
	m := ready(t, runner)
	m.textInput.SetValue("is the api up?")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if !m.busy || cmd == nil {
		t.Fatal("enter should start a query")
	}
	if m.messages[0].role != "user" || m.messages[0].content != "is the api up?" {
		t.Fatalf("unexpected transcript %+v", m.messages)
	}

	done := cmd()
	if len(runner.queries) != 1 {
		t.Fatalf("runner got %v", runner.queries)
	}
	m = update(t, m, done)
	if m.busy {
		t.Fatal("query completion should clear the busy state")
	}
}

func TestModel_AgentEvents(t *testing.T) {
	m := ready(t, &fakeRunner{})
	m.busy = true

	m = update(t, m,
		stepMsg{step: 1, limit: 20},
		thoughtMsg("check dns first"),
		planMsg([]parser.PlanStep{{Tool: "dns-lookup"}, {Tool: "ping"}}),
		toolStartMsg("dns-lookup"),
		toolArgsMsg(json.RawMessage(`{"domain":"example.com"}`)),
		toolResultMsg(json.RawMessage(`"93.184.216.34"`)),
		toolStartMsg("ping"),
		agentErrorMsg("ping failed: timeout"),
		toolResultMsg(json.RawMessage(`{"error":"ping failed: timeout"}`)),
		answerMsg("DNS works, ping times out"),
		completeMsg{taken: 3, limit: 20},
		queryDoneMsg{result: agent.Result{Result: "DNS works, ping times out"}},
	)

	var roles []string
	for _, msg := range m.messages {
		roles = append(roles, msg.role)
	}
	want := "thought,plan,tool,tool,assistant,system"
	if got := strings.Join(roles, ","); got != want {
		t.Fatalf("roles = %s, want %s", got, want)
	}

	lookup, ping := m.messages[2].tool, m.messages[3].tool
	if !lookup.success || lookup.output != "93.184.216.34" || lookup.params["domain"] != "example.com" {
		t.Fatalf("unexpected lookup %+v", lookup)
	}
	if ping.success || ping.error != "ping failed: timeout" {
		t.Fatalf("unexpected ping %+v", ping)
	}

	view := m.View()
	for _, s := range []string{"Tool: dns-lookup", "Failed: ping failed", "DNS works"} {
		if !strings.Contains(view, s) {
			t.Errorf("view missing %q", s)
		}
	}
}

func TestModel_QueryError(t *testing.T) {
	m := ready(t, &fakeRunner{})
	m.busy = true

	m = update(t, m, queryDoneMsg{err: errors.New("invalid input: query is empty")})
	if m.err == nil || m.messages[len(m.messages)-1].role != "error" {
		t.Fatal("query errors should be shown")
	}

	m.busy = true
	before := len(m.messages)
	m = update(t, m, queryDoneMsg{err: context.Canceled})
	if len(m.messages) != before {
		t.Fatal("cancellation is not an error")
	}
}

func TestModel_Commands(t *testing.T) {
	runner := &fakeRunner{}
	m := ready(t, runner)

	m.textInput.SetValue("tools")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	last := m.messages[len(m.messages)-1].content
	if !strings.Contains(last, "dns-lookup") || strings.Index(last, "dns-lookup") > strings.Index(last, "ping") {
		t.Fatalf("tools should be listed sorted: %q", last)
	}

	m.textInput.SetValue("clear")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(m.messages) != 0 || runner.cleared != 1 {
		t.Fatal("clear should reset the transcript and the agent history")
	}
	if len(runner.queries) != 0 {
		t.Fatal("commands must not reach the agent")
	}
}

func TestModel_EscCancelsRunningQuery(t *testing.T) {
	m := ready(t, &fakeRunner{})
	cancelled := false
	m.busy = true
	m.cancel = func() { cancelled = true }

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if !cancelled || m.quitting {
		t.Fatal("esc while busy should cancel, not quit")
	}
}

func TestEvents_DetachedDropsCallbacks(t *testing.T) {
	e := NewEvents()
	// no program attached: must not block or panic
	e.OnStepStart(1, 20)
	e.OnToolResult(json.RawMessage(`"x"`))
	e.OnComplete(1, 20)
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OnStepStart(1, 20)
	p.OnThought("resolve first")
	p.OnToolStart("dns-lookup")
	p.OnToolArgs(json.RawMessage(`{"domain":"example.com"}`))
	p.OnToolResult(json.RawMessage(`"93.184.216.34"`))
	p.OnToolStart("ping")
	p.OnError("ping failed: timeout")
	p.OnToolResult(json.RawMessage(`{"error":"ping failed: timeout"}`))
	p.OnFinalAnswer("DNS resolves, host does not answer pings")
	p.OnComplete(2, 20)

	out := buf.String()
	for _, s := range []string{"resolve first", "→ dns-lookup", "| 93.184.216.34", "✗ ping failed", "host does not answer", "completed in 2/20 steps"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
	if strings.Contains(out, `{"error"`) {
		t.Error("failed tool results should not be printed twice")
	}
	if strings.Contains(out, "step 1/20") || strings.Contains(out, "example.com") {
		t.Error("step markers and arguments are verbose-only")
	}
}

func TestRunOneShot(t *testing.T) {
	var buf bytes.Buffer
	runner := &fakeRunner{result: agent.Result{Result: "ok", StepsTaken: 1, StepsLimit: 20}}

	res, err := RunOneShot(context.Background(), runner, "ping localhost", &buf)
	if err != nil || res.Result != "ok" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if !strings.Contains(buf.String(), "You: ping localhost") {
		t.Fatalf("query not echoed: %q", buf.String())
	}
}
