package agent

import (
	"encoding/json"

	"github.com/ashutoshrp06/friday/internal/parser"
	"go.uber.org/zap"
)

// OutputHandler receives progress callbacks while a query runs. Calls are
// synchronous; return values do not exist and panics are swallowed.
type OutputHandler interface {
	OnStepStart(step, limit int)
	OnThought(text string)
	OnGoal(text string)
	OnPlan(steps []parser.PlanStep)
	OnToolStart(name string)
	OnToolArgs(args json.RawMessage)
	OnToolResult(result json.RawMessage)
	OnError(message string)
	OnFinalAnswer(text string)
	OnComplete(stepsTaken, stepsLimit int)
}

// NopOutput ignores every callback. Embed it to implement only some of them.
type NopOutput struct{}

func (NopOutput) OnStepStart(int, int) {}
func (NopOutput) OnThought(string) {}
func (NopOutput) OnGoal(string) {}
func (NopOutput) OnPlan([]parser.PlanStep) {}
func (NopOutput) OnToolStart(string) {}
func (NopOutput) OnToolArgs(json.RawMessage) {}
func (NopOutput) OnToolResult(json.RawMessage) {}
func (NopOutput) OnError(string) {}
func (NopOutput) OnFinalAnswer(string) {}
func (NopOutput) OnComplete(int, int) {}

// safeOutput shields the loop from a misbehaving handler.
type safeOutput struct {
	h      OutputHandler
	logger *zap.Logger
}

func (s safeOutput) call(name string, fn func(OutputHandler)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("Output handler panicked",
				zap.String("callback", name),
				zap.Any("panic", rec))
		}
	}()
	fn(s.h)
}

func (s safeOutput) stepStart(step, limit int) {
	s.call("OnStepStart", func(h OutputHandler) { h.OnStepStart(step, limit) })
}

func (s safeOutput) thought(text string) {
	if text != "" {
		s.call("OnThought", func(h OutputHandler) { h.OnThought(text) })
	}
}

func (s safeOutput) goal(text string) {
	if text != "" {
		s.call("OnGoal", func(h OutputHandler) { h.OnGoal(text) })
	}
}

func (s safeOutput) plan(steps []parser.PlanStep) {
	s.call("OnPlan", func(h OutputHandler) { h.OnPlan(steps) })
}

func (s safeOutput) toolStart(name string, args map[string]any) {
	s.call("OnToolStart", func(h OutputHandler) { h.OnToolStart(name) })
	raw, err := json.Marshal(args)
	if err != nil || args == nil {
		raw = json.RawMessage(`{}`)
	}
	s.call("OnToolArgs", func(h OutputHandler) { h.OnToolArgs(raw) })
}

func (s safeOutput) toolResult(result json.RawMessage) {
	s.call("OnToolResult", func(h OutputHandler) { h.OnToolResult(result) })
}

func (s safeOutput) error(message string) {
	s.call("OnError", func(h OutputHandler) { h.OnError(message) })
}

func (s safeOutput) finalAnswer(text string) {
	s.call("OnFinalAnswer", func(h OutputHandler) { h.OnFinalAnswer(text) })
}

func (s safeOutput) complete(taken, limit int) {
	s.call("OnComplete", func(h OutputHandler) { h.OnComplete(taken, limit) })
}
