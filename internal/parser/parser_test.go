package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParse_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string // answer, tool or plan
	}{
		{"answer", `{"answer":"done"}`, "answer"},
		{"final_answer alias", `{"thought":"ok","final_answer":"done"}`, "answer"},
		{"tool", `{"tool":"echo","tool_args":{"text":"hi"}}`, "tool"},
		{"plan", `{"plan":[{"tool":"a","tool_args":{}},{"tool":"b"}]}`, "plan"},
		{"plan wins over tool", `{"plan":[{"tool":"a"}],"tool":"b"}`, "plan"},
		{"tool wins over answer", `{"tool":"a","answer":"x"}`, "tool"},
		{"wrapped in prose", "Sure! Here you go:\n{\"tool\":\"echo\",\"tool_args\":{\"text\":\"hi\"}}\nLet me know.", "tool"},
		{"json fence", "```json\n{\"answer\": \"fenced\"}\n```", "answer"},
		{"bare array plan", `[{"tool":"a"},{"tool":"b"}]`, "plan"},
		{"empty plan falls back to tool", `{"plan":[],"tool":"x"}`, "tool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Parse(tt.raw)
			if resp.Degraded() {
				t.Fatalf("unexpected degraded parse: %v", resp.Err)
			}
			switch resp.Outcome.(type) {
			case Answer:
				if tt.want != "answer" {
					t.Fatalf("got answer, want %s", tt.want)
				}
			case ToolCall:
				if tt.want != "tool" {
					t.Fatalf("got tool, want %s", tt.want)
				}
			case Plan:
				if tt.want != "plan" {
					t.Fatalf("got plan, want %s", tt.want)
				}
			default:
				t.Fatalf("unexpected outcome %T", resp.Outcome)
			}
		})
	}
}

func TestParse_ToolCallFields(t *testing.T) {
	resp := Parse(`{"thought":"check it","goal":"reach host","tool":" ping ","tool_args":{"host":"example.com","count":2}}`)

	call, ok := resp.Outcome.(ToolCall)
	if !ok {
		t.Fatalf("expected ToolCall, got %T", resp.Outcome)
	}
	if call.Name != "ping" {
		t.Errorf("name = %q", call.Name)
	}
	if call.Args["host"] != "example.com" || call.Args["count"] != float64(2) {
		t.Errorf("unexpected args %v", call.Args)
	}
	if resp.Thought != "check it" || resp.Goal != "reach host" {
		t.Errorf("thought/goal = %q/%q", resp.Thought, resp.Goal)
	}
}

func TestParse_ArgAliases(t *testing.T) {
	for _, key := range []string{"tool_args", "args", "arguments", "params"} {
		resp := Parse(`{"tool":"echo","` + key + `":{"text":"hi"}}`)
		call, ok := resp.Outcome.(ToolCall)
		if !ok || call.Args["text"] != "hi" {
			t.Errorf("%s: unexpected outcome %#v", key, resp.Outcome)
		}
	}
}

func TestParse_StringifiedArgs(t *testing.T) {
	resp := Parse(`{"tool":"echo","tool_args":"{\"text\":\"hi\"}"}`)
	call, ok := resp.Outcome.(ToolCall)
	if !ok {
		t.Fatalf("expected ToolCall, got %T (%v)", resp.Outcome, resp.Err)
	}
	if call.Args["text"] != "hi" {
		t.Fatalf("unexpected args %v", call.Args)
	}
}

func TestParse_MissingArgsIsEmptyObject(t *testing.T) {
	call, ok := Parse(`{"tool":"netinfo"}`).Outcome.(ToolCall)
	if !ok {
		t.Fatal("expected ToolCall")
	}
	if call.Args == nil || len(call.Args) != 0 {
		t.Fatalf("expected empty args, got %v", call.Args)
	}
}

func TestParse_PlanDropsNamelessSteps(t *testing.T) {
	resp := Parse(`{"plan":[{"tool":""},{"tool":"a","args":{"x":1}},"junk",{"tool_args":{}},{"tool":"b"}]}`)
	plan, ok := resp.Outcome.(Plan)
	if !ok {
		t.Fatalf("expected Plan, got %T", resp.Outcome)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].Tool != "a" || plan.Steps[1].Tool != "b" {
		t.Fatalf("unexpected steps %+v", plan.Steps)
	}
	if plan.Steps[0].ToolArgs["x"] != float64(1) {
		t.Fatalf("args lost: %v", plan.Steps[0].ToolArgs)
	}
}

func TestParse_Degraded(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind ErrorKind
	}{
		{"empty", "", KindEmpty},
		{"whitespace", "  \n\t ", KindEmpty},
		{"prose", "The host is reachable.", KindProse},
		{"prose with braces", "Set ${HOME} and retry {soon}", KindProse},
		{"broken json", `{"tool": "echo", "tool_args": {`, KindMalformed},
		{"trailing comma", `{"answer": "x",}`, KindMalformed},
		{"no outcome", `{"thought":"hmm"}`, KindNoOutcome},
		{"empty answer", `{"answer":"  "}`, KindNoOutcome},
		{"bad stringified args", `{"tool":"echo","tool_args":"not json"}`, KindMalformed},
		{"args wrong type", `{"tool":"echo","tool_args":[1,2]}`, KindMalformed},
		{"only nameless plan", `{"plan":[{"tool":""}]}`, KindNoOutcome},
		{"bare number", `42`, KindProse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Parse(tt.raw)
			if !resp.Degraded() {
				t.Fatalf("expected degraded parse, got %#v", resp.Outcome)
			}
			if resp.Err.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s (%s)", resp.Err.Kind, tt.kind, resp.Err.Message)
			}
			ans, ok := resp.Outcome.(Answer)
			if !ok {
				t.Fatalf("degraded outcome must be Answer, got %T", resp.Outcome)
			}
			if ans.Text != strings.TrimSpace(tt.raw) {
				t.Fatalf("degraded answer = %q", ans.Text)
			}
		})
	}
}

func TestParse_DegradedKeepsThought(t *testing.T) {
	resp := Parse(`{"thought":"thinking","goal":"g"}`)
	if resp.Thought != "thinking" || resp.Goal != "g" {
		t.Fatalf("thought/goal lost: %q/%q", resp.Thought, resp.Goal)
	}
}

func TestParse_Total(t *testing.T) {
	inputs := []string{
		"", "{", "}", "{{{{", "]]]", `"`, `{"a":`, "null", "true", "[]", "[{}]",
		`{"plan":null}`, `{"plan":"a,b"}`, `{"tool":42}`, `{"answer":{"nested":true}}`,
		`{"tool":"x","tool_args":null}`, "\x00\xff\xfe", strings.Repeat("{", 2000),
		`{"answer":"a"} {"tool":"b"}`, `{"s":"}{"}`,
	}
	for _, in := range inputs {
		resp := Parse(in)
		if resp.Outcome == nil {
			t.Errorf("Parse(%q) returned nil outcome", in)
		}
		if resp.Raw != in {
			t.Errorf("Parse(%q) lost raw text", in)
		}
	}
}

func TestParse_UnclosedBracesStayLinear(t *testing.T) {
	inputs := []string{
		"Sure " + strings.Repeat("{", 200000),
		strings.Repeat(`{"`, 100000),
		strings.Repeat("{ [", 100000),
		strings.Repeat(`"{`, 100000),
	}
	for _, in := range inputs {
		start := time.Now()
		resp := Parse(in)
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("Parse of %d bytes took %v", len(in), elapsed)
		}
		if resp.Err == nil {
			t.Errorf("expected a degraded parse for %q...", in[:10])
		}
	}
}

func TestParse_ObjectInsideUnclosedBrace(t *testing.T) {
	resp := Parse(`note { see {"answer":"hi"} and more`)
	ans, ok := resp.Outcome.(Answer)
	if !ok || ans.Text != "hi" || resp.Err != nil {
		t.Fatalf("expected nested answer, got %#v err=%v", resp.Outcome, resp.Err)
	}

	resp = Parse(strings.Repeat("{ ", 100) + `{"tool":"ping"}`)
	if call, ok := resp.Outcome.(ToolCall); !ok || call.Name != "ping" {
		t.Fatalf("expected tool call after unclosed braces, got %#v", resp.Outcome)
	}
}

func TestParse_FirstDecodableObjectWins(t *testing.T) {
	resp := Parse(`I will call {"tool":"a"} and then {"tool":"b"}`)
	call, ok := resp.Outcome.(ToolCall)
	if !ok || call.Name != "a" {
		t.Fatalf("expected first tool call, got %#v", resp.Outcome)
	}
}

func TestParse_NonStringAnswerIsJSON(t *testing.T) {
	ans, ok := Parse(`{"answer":{"status":"ok"}}`).Outcome.(Answer)
	if !ok || ans.Text != `{"status":"ok"}` {
		t.Fatalf("unexpected answer %#v", ans)
	}
}
