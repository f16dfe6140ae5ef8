// Package parser turns raw model output into a structured intent.
//
// Parse is total: every input produces a ParsedResponse. Inputs that cannot
// be understood yield a degraded Answer carrying the raw text and a
// ParseError, so callers decide whether to accept or recover.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is exactly one of Answer, ToolCall or Plan.
type Outcome interface {
	isOutcome()
}

// Answer is a final answer for the user.
type Answer struct {
	Text string
}

// ToolCall requests a single tool dispatch.
type ToolCall struct {
	Name string
	Args map[string]any
}

// PlanStep is one tool call of a multi-step plan.
type PlanStep struct {
	Tool     string         `json:"tool"`
	ToolArgs map[string]any `json:"tool_args"`
}

// Plan is an ordered list of tool calls, executed one at a time.
type Plan struct {
	Steps []PlanStep
}

func (Answer) isOutcome()   {}
func (ToolCall) isOutcome() {}
func (Plan) isOutcome()     {}

// ParsedResponse is the result of parsing one model output.
type ParsedResponse struct {
	Thought string
	Goal    string
	Outcome Outcome
	Raw     string

	// Err is set when the outcome is a degraded Answer(Raw).
	Err *ParseError
}

// Degraded reports whether the parse fell back to the raw text.
func (r ParsedResponse) Degraded() bool {
	return r.Err != nil
}

// ErrorKind classifies parse failures.
type ErrorKind int

const (
	// KindEmpty means the output was empty or whitespace.
	KindEmpty ErrorKind = iota
	// KindProse means the output contained no JSON object at all.
	KindProse
	// KindMalformed means something JSON-like was present but did not decode.
	KindMalformed
	// KindNoOutcome means a JSON object decoded but named no answer, tool or plan.
	KindNoOutcome
)

func (k ErrorKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindProse:
		return "prose"
	case KindMalformed:
		return "malformed"
	case KindNoOutcome:
		return "no_outcome"
	}
	return "unknown"
}

// ParseError describes why a response was degraded.
type ParseError struct {
	Kind    ErrorKind
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Kind, e.Message)
}

var argKeys = []string{"tool_args", "args", "arguments", "params"}

// Parse converts raw model output into a ParsedResponse. It never panics.
func Parse(raw string) (resp ParsedResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = degraded(raw, KindMalformed, fmt.Sprintf("parser panic: %v", r))
		}
	}()

	text := strings.TrimSpace(raw)
	if text == "" {
		return degraded(raw, KindEmpty, "model returned no output")
	}

	var sawMalformed bool
	var fallback *ParsedResponse

	for _, candidate := range candidates(text) {
		obj, err := decodeCandidate(candidate)
		if err != nil {
			sawMalformed = true
			continue
		}

		parsed, perr := fromObject(obj)
		parsed.Raw = raw
		if perr == nil {
			return parsed
		}
		if fallback == nil {
			parsed.Outcome = Answer{Text: text}
			parsed.Err = perr
			fallback = &parsed
		}
	}

	if fallback != nil {
		return *fallback
	}
	if sawMalformed && looksLikeJSON(text) {
		return degraded(raw, KindMalformed, "output looks like JSON but does not decode")
	}
	return degraded(raw, KindProse, "no JSON object found")
}

func degraded(raw string, kind ErrorKind, msg string) ParsedResponse {
	return ParsedResponse{
		Outcome: Answer{Text: strings.TrimSpace(raw)},
		Raw:     raw,
		Err:     &ParseError{Kind: kind, Message: msg},
	}
}

// looksLikeJSON reports whether text opens like a JSON document or a
// JSON code fence, as opposed to prose that happens to contain a brace.
func looksLikeJSON(text string) bool {
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return true
	}
	return strings.Contains(text, "```json") || strings.Contains(text, "\"tool\"") ||
		strings.Contains(text, "\"answer\"") || strings.Contains(text, "\"plan\"")
}

// maxFailedScans bounds how many fresh scans for a closing brace may fail
// before candidates gives up on the rest of the text.
const maxFailedScans = 32

// candidates returns the whole text first, followed by every balanced
// top-level {...} substring in order of appearance.
func candidates(text string) []string {
	out := []string{text}
	known := make(map[int]int)
	failed := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := known[i]
		if !ok {
			if failed >= maxFailedScans {
				break
			}
			end = matchClose(text, i, known)
			if end < 0 {
				failed++
			}
		}
		if end < 0 {
			continue
		}
		if sub := text[i : end+1]; sub != text {
			out = append(out, sub)
		}
		i = end
	}
	return out
}

type openBracket struct {
	want byte
	pos  int // -1 for '['
}

// matchClose returns the index of the bracket closing text[start], or -1.
// Brackets inside JSON strings are ignored. Every '{' the scan opens outside
// a string gets its own answer recorded in known, since a scan starting
// there would see the same bytes in the same state.
func matchClose(text string, start int, known map[int]int) int {
	var stack []openBracket
	inString, escaped := false, false

	unclosed := func() int {
		for _, b := range stack {
			if b.pos >= 0 {
				known[b.pos] = -1
			}
		}
		return -1
	}

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, openBracket{want: '}', pos: i})
		case '[':
			stack = append(stack, openBracket{want: ']', pos: -1})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].want != c {
				return unclosed()
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.pos >= 0 {
				known[top.pos] = i
			}
			if len(stack) == 0 {
				return i
			}
		}
	}
	return unclosed()
}

// decodeCandidate decodes an object. A bare array is read as a plan.
func decodeCandidate(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		return map[string]any{"plan": t}, nil
	}
	return nil, fmt.Errorf("expected JSON object, got %T", v)
}

func fromObject(obj map[string]any) (ParsedResponse, *ParseError) {
	resp := ParsedResponse{
		Thought: stringField(obj, "thought"),
		Goal:    stringField(obj, "goal"),
	}

	if steps, ok := obj["plan"].([]any); ok {
		plan, err := planSteps(steps)
		if err != nil {
			return resp, err
		}
		if len(plan) > 0 {
			resp.Outcome = Plan{Steps: plan}
			return resp, nil
		}
	}

	if name := strings.TrimSpace(stringField(obj, "tool")); name != "" {
		args, err := toolArgs(obj)
		if err != nil {
			return resp, err
		}
		resp.Outcome = ToolCall{Name: name, Args: args}
		return resp, nil
	}

	for _, key := range []string{"answer", "final_answer"} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		text := answerText(v)
		if strings.TrimSpace(text) == "" {
			continue
		}
		resp.Outcome = Answer{Text: text}
		return resp, nil
	}

	return resp, &ParseError{Kind: KindNoOutcome, Message: "JSON object has no answer, tool or plan field"}
}

func planSteps(raw []any) ([]PlanStep, *ParseError) {
	steps := make([]PlanStep, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringField(obj, "tool"))
		if name == "" {
			continue
		}
		args, err := toolArgs(obj)
		if err != nil {
			return nil, err
		}
		steps = append(steps, PlanStep{Tool: name, ToolArgs: args})
	}
	return steps, nil
}

// toolArgs reads the first present argument alias. Arguments given as a
// JSON-encoded string are decoded.
func toolArgs(obj map[string]any) (map[string]any, *ParseError) {
	for _, key := range argKeys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			return t, nil
		case string:
			if strings.TrimSpace(t) == "" {
				return map[string]any{}, nil
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(t), &args); err != nil {
				return nil, &ParseError{Kind: KindMalformed, Message: fmt.Sprintf("%s is not a JSON object: %v", key, err)}
			}
			if args == nil {
				args = map[string]any{}
			}
			return args, nil
		default:
			return nil, &ParseError{Kind: KindMalformed, Message: fmt.Sprintf("%s must be an object, got %T", key, v)}
		}
	}
	return map[string]any{}, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func answerText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
