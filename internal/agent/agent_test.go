package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/ashutoshrp06/friday/internal/parser"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
)

// scriptedModel replays canned replies; the last one repeats forever.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *scriptedModel) Complete(ctx context.Context, _ []types.Message, _ []tools.ToolSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	m.calls++
	return m.replies[idx], nil
}

func script(replies ...string) *scriptedModel {
	return &scriptedModel{replies: replies}
}

// countingTool records every invocation.
type countingTool struct {
	mu    sync.Mutex
	calls []map[string]any
	out   any
	err   error
}

func (c *countingTool) Invoke(_ context.Context, args map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, args)
	if c.err != nil {
		return nil, c.err
	}
	if c.out != nil {
		return c.out, nil
	}
	return args, nil
}

func (c *countingTool) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func echoTool() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "echo",
		Description: "Echo text back",
		Parameters: []types.ToolParameter{
			{Name: "text", Type: types.ParamString, Required: true},
		},
		Handler: tools.HandlerFunc(func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		}),
	}
}

func newTestAgent(t *testing.T, model Model, settings AgentConfig, defs ...tools.ToolDefinition) *Agent {
	t.Helper()
	registry := tools.NewRegistry(nil)
	for _, def := range defs {
		registry.MustRegister(def)
	}
	a, err := New(Config{Settings: settings, Model: model, Registry: registry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func roles(history []types.Message) string {
	parts := make([]string, len(history))
	for i, m := range history {
		parts[i] = string(m.Role)
	}
	return strings.Join(parts, ",")
}

// ─── scenarios ────────────────────────────────────────────────────────────────

func TestProcessQuery_EchoScenario(t *testing.T) {
	model := script(`{"tool":"echo","tool_args":{"text":"hi"}}`, `{"answer":"done"}`)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	want := Result{Result: "done", StepsTaken: 2, StepsLimit: 20, Reason: ReasonAnswered}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}

	history := a.History()
	if got := roles(history); got != "system,user,assistant,tool,assistant" {
		t.Fatalf("history roles = %s", got)
	}
	if history[3].Name != "echo" || history[3].Content != "hi" {
		t.Fatalf("unexpected tool message %+v", history[3])
	}
	if a.State() != types.StateCompletion {
		t.Fatalf("state = %s", a.State())
	}
}

func TestProcessQuery_StepLimitMarker(t *testing.T) {
	model := script(`{"tool":"echo","tool_args":{"text":"again"}}`)
	a := newTestAgent(t, model, AgentConfig{MaxSteps: 1}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.StepsTaken != 1 || res.StepsLimit != 1 || res.Reason != ReasonStepLimit {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Result, "[step limit reached after 1 steps]") {
		t.Fatalf("missing step limit marker in %q", res.Result)
	}
	if model.calls != 1 {
		t.Fatalf("model called %d times", model.calls)
	}
}

func TestProcessQuery_RepeatLoopBlocksDispatch(t *testing.T) {
	tool := &countingTool{out: "same"}
	def := tools.ToolDefinition{
		Name:       "x",
		Parameters: []types.ToolParameter{{Name: "a", Type: types.ParamInteger}},
		Handler:    tool,
	}
	model := script(`{"tool":"x","tool_args":{"a":1}}`)
	a := newTestAgent(t, model, AgentConfig{}, def)

	res, err := a.ProcessQuery(context.Background(), "keep going")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if tool.count() != DefaultMaxConsecutiveRepeats {
		t.Fatalf("tool dispatched %d times, want %d", tool.count(), DefaultMaxConsecutiveRepeats)
	}
	if res.Reason != ReasonRecoveryExhausted {
		t.Fatalf("reason = %s", res.Reason)
	}
	if res.StepsTaken > res.StepsLimit {
		t.Fatalf("steps %d exceed limit %d", res.StepsTaken, res.StepsLimit)
	}

	var corrections int
	for _, m := range a.History() {
		if m.Role == types.RoleSystem && strings.Contains(m.Content, "not making progress") {
			corrections++
		}
	}
	if corrections != DefaultMaxRecoveries {
		t.Fatalf("got %d repeat corrections, want %d", corrections, DefaultMaxRecoveries)
	}
}

func TestProcessQuery_ValidationErrorIsToolMessage(t *testing.T) {
	model := script(`{"tool":"echo","tool_args":{}}`, `{"answer":"gave up on echo"}`)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "echo nothing")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.Result != "gave up on echo" || res.StepsTaken != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	toolMsgs := toolMessages(a.History())
	if len(toolMsgs) != 1 {
		t.Fatalf("got %d tool messages", len(toolMsgs))
	}
	if !strings.Contains(toolMsgs[0].Content, "missing required parameter: text") {
		t.Fatalf("tool message = %q", toolMsgs[0].Content)
	}
}

func TestProcessQuery_ExecutionErrorIsToolMessage(t *testing.T) {
	failing := tools.ToolDefinition{
		Name:    "flaky",
		Handler: &countingTool{err: errors.New("connection refused")},
	}
	model := script(`{"tool":"flaky"}`, `{"answer":"host is down"}`)
	a := newTestAgent(t, model, AgentConfig{}, failing)

	res, err := a.ProcessQuery(context.Background(), "check")
	if err != nil || res.Reason != ReasonAnswered {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	toolMsgs := toolMessages(a.History())
	if len(toolMsgs) != 1 || !strings.Contains(toolMsgs[0].Content, "connection refused") {
		t.Fatalf("unexpected tool messages %+v", toolMsgs)
	}
}

func TestProcessQuery_PlanResolvesReferences(t *testing.T) {
	lookup := &countingTool{out: map[string]any{"ip": "10.0.0.7"}}
	ping := &countingTool{out: "reachable"}
	model := script(
		`{"thought":"resolve then ping","plan":[{"tool":"lookup","tool_args":{"domain":"db.local"}},{"tool":"ping","tool_args":{"host":"${1.ip}"}}]}`,
		`{"answer":"db.local is reachable"}`,
	)
	a := newTestAgent(t, model, AgentConfig{},
		tools.ToolDefinition{Name: "lookup", Handler: lookup},
		tools.ToolDefinition{Name: "ping", Handler: ping},
	)

	res, err := a.ProcessQuery(context.Background(), "is db.local up?")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.StepsTaken != 3 || res.Result != "db.local is reachable" {
		t.Fatalf("unexpected result %+v", res)
	}
	if ping.count() != 1 || ping.calls[0]["host"] != "10.0.0.7" {
		t.Fatalf("ping args = %+v", ping.calls)
	}
	if model.calls != 2 {
		t.Fatalf("model called %d times, want 2", model.calls)
	}
}

func TestProcessQuery_HistoryPairing(t *testing.T) {
	model := script(
		`{"plan":[{"tool":"echo","tool_args":{"text":"a"}},{"tool":"echo","tool_args":{"text":"b"}},{"tool":"echo","tool_args":{"text":"c"}}]}`,
		`{"tool":"echo","tool_args":{"text":"d"}}`,
		`{"answer":"ok"}`,
	)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	if _, err := a.ProcessQuery(context.Background(), "pair them"); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}

	history := a.History()
	var order []string
	for i, m := range history {
		if m.Role != types.RoleTool {
			continue
		}
		if i == 0 || history[i-1].Role != types.RoleAssistant {
			t.Fatalf("tool message %d is not preceded by an assistant message: %s", i, roles(history))
		}
		if err := m.Validate(); err != nil {
			t.Fatalf("invalid tool message: %v", err)
		}
		order = append(order, m.Content)
	}
	if got := strings.Join(order, ""); got != "abcd" {
		t.Fatalf("tool results out of order: %q", got)
	}
}

func TestProcessQuery_PlanStepFailureAbandonsPlan(t *testing.T) {
	after := &countingTool{out: "never"}
	model := script(
		`{"plan":[{"tool":"echo","tool_args":{}},{"tool":"after"}]}`,
		`{"answer":"stopped"}`,
	)
	a := newTestAgent(t, model, AgentConfig{}, echoTool(),
		tools.ToolDefinition{Name: "after", Handler: after})

	res, err := a.ProcessQuery(context.Background(), "run plan")
	if err != nil || res.Result != "stopped" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if after.count() != 0 {
		t.Fatal("steps after a failed step must not run")
	}
	if !hasSystemMessage(a.History(), "tool arguments were invalid") {
		t.Fatalf("expected validation correction in history: %s", roles(a.History()))
	}
}

func TestProcessQuery_PlanLimit(t *testing.T) {
	model := script(
		`{"plan":[{"tool":"echo","tool_args":{"text":"1"}}]}`,
		`{"plan":[{"tool":"echo","tool_args":{"text":"2"}}]}`,
		`{"answer":"fine"}`,
	)
	a := newTestAgent(t, model, AgentConfig{MaxPlanIterations: 1}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "plan twice")
	if err != nil || res.Result != "fine" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if len(toolMessages(a.History())) != 1 {
		t.Fatal("second plan must not run")
	}
	if !hasSystemMessage(a.History(), "Do not propose another plan") {
		t.Fatal("expected plan limit correction")
	}
}

func TestProcessQuery_UnknownToolRecovers(t *testing.T) {
	model := script(`{"tool":"teleport","tool_args":{}}`, `{"answer":"cannot teleport"}`)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "beam me up")
	if err != nil || res.Reason != ReasonAnswered || res.StepsTaken != 2 {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
	if len(toolMessages(a.History())) != 0 {
		t.Fatal("unknown tool must not produce a tool message")
	}
	if !hasSystemMessage(a.History(), "unknown tool: teleport") {
		t.Fatal("expected unknown tool correction")
	}
}

func TestProcessQuery_PlanWithUnknownToolRecovers(t *testing.T) {
	model := script(`{"plan":[{"tool":"echo","tool_args":{"text":"a"}},{"tool":"nope"}]}`, `{"answer":"ok"}`)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	if _, err := a.ProcessQuery(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if len(toolMessages(a.History())) != 0 {
		t.Fatal("a plan naming an unknown tool must not start")
	}
}

func TestProcessQuery_DegradedOutputs(t *testing.T) {
	tests := []struct {
		name       string
		replies    []string
		wantResult string
		wantSteps  int
	}{
		{"prose is accepted as answer", []string{"Everything looks healthy."}, "Everything looks healthy.", 1},
		{"fenced json", []string{"Sure:\n```json\n{\"answer\":\"fenced\"}\n```"}, "fenced", 1},
		{"broken json recovers", []string{`{"tool": "echo", "tool_args": {`, `{"answer":"recovered"}`}, "recovered", 2},
		{"empty output recovers", []string{"", `{"answer":"second try"}`}, "second try", 2},
		{"no outcome recovers", []string{`{"thought":"hmm"}`, `{"answer":"decided"}`}, "decided", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, script(tt.replies...), AgentConfig{}, echoTool())
			res, err := a.ProcessQuery(context.Background(), "status?")
			if err != nil {
				t.Fatalf("ProcessQuery: %v", err)
			}
			if res.Result != tt.wantResult || res.StepsTaken != tt.wantSteps {
				t.Fatalf("result = %+v, want %q in %d steps", res, tt.wantResult, tt.wantSteps)
			}
		})
	}
}

func TestProcessQuery_ModelErrorsExhaustRecovery(t *testing.T) {
	calls := 0
	model := ModelFunc(func(context.Context, []types.Message, []tools.ToolSchema) (string, error) {
		calls++
		return "", errors.New("503 from upstream")
	})
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "anyone there?")
	if err != nil {
		t.Fatalf("model errors must not surface: %v", err)
	}
	if res.Reason != ReasonRecoveryExhausted || calls != DefaultMaxRecoveries+1 {
		t.Fatalf("unexpected result %+v after %d calls", res, calls)
	}
	if !strings.Contains(res.Result, "503 from upstream") {
		t.Fatalf("result should explain the failure: %q", res.Result)
	}
}

func TestProcessQuery_RecoveryCounterResetsOnProgress(t *testing.T) {
	model := script(
		"", `{"tool":"echo","tool_args":{"text":"1"}}`,
		"", `{"tool":"echo","tool_args":{"text":"2"}}`,
		"", "", `{"answer":"made it"}`,
	)
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(context.Background(), "q")
	if err != nil || res.Result != "made it" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestProcessQuery_BoundedTermination(t *testing.T) {
	behaviours := map[string][]string{
		"always tool":    {`{"tool":"echo","tool_args":{"text":"x"}}`},
		"always plan":    {`{"plan":[{"tool":"echo","tool_args":{"text":"1"}},{"tool":"echo","tool_args":{"text":"2"}}]}`},
		"always garbage": {"{{{"},
		"alternating":    {`{"tool":"echo","tool_args":{"text":"a"}}`, `{"tool":"echo","tool_args":{"text":"b"}}`},
	}

	for name, replies := range behaviours {
		for _, maxSteps := range []int{1, 2, 5, 20} {
			t.Run(fmt.Sprintf("%s/max=%d", name, maxSteps), func(t *testing.T) {
				cycle := make([]string, 0, 64)
				for len(cycle) < 64 {
					cycle = append(cycle, replies...)
				}
				a := newTestAgent(t, script(cycle...), AgentConfig{MaxSteps: maxSteps}, echoTool())
				res, err := a.ProcessQuery(context.Background(), "go")
				if err != nil {
					t.Fatalf("ProcessQuery: %v", err)
				}
				if res.StepsTaken > res.StepsLimit || res.StepsLimit != maxSteps {
					t.Fatalf("steps %d exceed limit %d", res.StepsTaken, res.StepsLimit)
				}
				if res.Result == "" {
					t.Fatal("completion must carry a result")
				}
			})
		}
	}
}

func TestProcessQuery_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := ModelFunc(func(ctx context.Context, _ []types.Message, _ []tools.ToolSchema) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	a := newTestAgent(t, model, AgentConfig{}, echoTool())

	res, err := a.ProcessQuery(ctx, "slow question")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Reason != ReasonCancelled || res.StepsTaken != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessQuery_InvalidInput(t *testing.T) {
	a := newTestAgent(t, script(`{"answer":"x"}`), AgentConfig{})

	if _, err := a.ProcessQuery(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
	if got := roles(a.History()); got != "system" {
		t.Fatalf("invalid input must not touch history: %s", got)
	}
}

// ─── agent surface ────────────────────────────────────────────────────────────

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	a := newTestAgent(t, script(`{"answer":"x"}`), AgentConfig{})
	s := a.Settings()
	if s.MaxSteps != 20 || s.MaxPlanIterations != 3 || s.MaxConsecutiveRepeats != 4 || s.MaxRecoveries != 2 {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestClearHistory(t *testing.T) {
	a := newTestAgent(t, script(`{"answer":"x"}`), AgentConfig{})
	if _, err := a.ProcessQuery(context.Background(), "first topic"); err != nil {
		t.Fatal(err)
	}
	a.ClearHistory()
	if got := roles(a.History()); got != "system" {
		t.Fatalf("history after clear = %s", got)
	}
}

func TestRegisterTool_SnapshotStaysShared(t *testing.T) {
	base := tools.NewRegistry(nil)
	base.MustRegister(echoTool())
	snap := base.Snapshot()

	a, err := New(Config{Model: script(`{"answer":"x"}`), Registry: snap})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.RegisterTool(tools.ToolDefinition{Name: "private", Handler: &countingTool{}}); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	if _, ok := snap.Get("private"); ok {
		t.Fatal("agent registration leaked into the shared snapshot")
	}
	if len(a.ListTools()) != 2 {
		t.Fatalf("agent tools = %+v", a.ListTools())
	}
}

func TestDisconnectAllMCP_Idempotent(t *testing.T) {
	a := newTestAgent(t, script(`{"answer":"x"}`), AgentConfig{})
	a.DisconnectAllMCP()
	a.DisconnectAllMCP()
	if a.ConnectMCPServer(context.Background(), "missing", "/nonexistent/friday-mcp", nil) {
		t.Fatal("connect to a missing binary must fail")
	}
	if len(a.MCPServers()) != 0 {
		t.Fatal("no server should be connected")
	}
}

// ─── output handler ───────────────────────────────────────────────────────────

type recordingOutput struct {
	NopOutput
	events []string
}

func (r *recordingOutput) OnStepStart(step, limit int) {
	r.events = append(r.events, fmt.Sprintf("step %d/%d", step, limit))
}
func (r *recordingOutput) OnThought(text string)        { r.events = append(r.events, "thought "+text) }
func (r *recordingOutput) OnPlan(s []parser.PlanStep)   { r.events = append(r.events, fmt.Sprintf("plan %d", len(s))) }
func (r *recordingOutput) OnToolStart(name string)      { r.events = append(r.events, "tool "+name) }
func (r *recordingOutput) OnToolArgs(a json.RawMessage) { r.events = append(r.events, "args "+string(a)) }
func (r *recordingOutput) OnToolResult(json.RawMessage) { r.events = append(r.events, "result") }
func (r *recordingOutput) OnFinalAnswer(text string)    { r.events = append(r.events, "answer "+text) }
func (r *recordingOutput) OnComplete(taken, limit int) {
	r.events = append(r.events, fmt.Sprintf("complete %d/%d", taken, limit))
}

func TestOutputHandler_Callbacks(t *testing.T) {
	out := &recordingOutput{}
	registry := tools.NewRegistry(nil)
	registry.MustRegister(echoTool())
	a, err := New(Config{
		Model:    script(`{"thought":"try echo","tool":"echo","tool_args":{"text":"hi"}}`, `{"answer":"done"}`),
		Registry: registry,
		Output:   out,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.ProcessQuery(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"step 1/20",
		"thought try echo",
		"tool echo",
		`args {"text":"hi"}`,
		"result",
		"step 2/20",
		"answer done",
		"complete 2/20",
	}
	if strings.Join(out.events, "|") != strings.Join(want, "|") {
		t.Fatalf("events:\n got %q\nwant %q", out.events, want)
	}
}

type panickingOutput struct{ NopOutput }

func (panickingOutput) OnStepStart(int, int) { panic("renderer crashed") }
func (panickingOutput) OnFinalAnswer(string) { panic("renderer crashed again") }

func TestOutputHandler_PanicsAreContained(t *testing.T) {
	a, err := New(Config{Model: script(`{"answer":"still fine"}`), Output: panickingOutput{}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.ProcessQuery(context.Background(), "hello")
	if err != nil || res.Result != "still fine" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func toolMessages(history []types.Message) []types.Message {
	var out []types.Message
	for _, m := range history {
		if m.Role == types.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func hasSystemMessage(history []types.Message, substr string) bool {
	for _, m := range history {
		if m.Role == types.RoleSystem && strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
		{"abc", 3, "abc"},
		{"héllo", 2, "h..."},
		{"héllo", 3, "hé..."},
		{"日本語", 4, "日..."},
		{"日本語", 2, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
		if !utf8.ValidString(result) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.input, tt.maxLen)
		}
	}
}
