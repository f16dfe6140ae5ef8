package ui

import (
	"encoding/json"
	"sync/atomic"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/parser"
	tea "github.com/charmbracelet/bubbletea"
)

// Messages delivered to the Bubble Tea model while a query runs.
type stepMsg struct{ step, limit int }

type thoughtMsg string

type goalMsg string

type planMsg []parser.PlanStep

type toolStartMsg string

type toolArgsMsg json.RawMessage

type toolResultMsg json.RawMessage

type agentErrorMsg string

type answerMsg string

type completeMsg struct{ taken, limit int }

type queryDoneMsg struct {
	result agent.Result
	err    error
}

// Events is an agent.OutputHandler that forwards every callback to a running
// Bubble Tea program. Callbacks before Attach or after Detach are dropped.
type Events struct {
	program atomic.Pointer[tea.Program]
}

var _ agent.OutputHandler = (*Events)(nil)

// NewEvents creates a detached event forwarder.
func NewEvents() *Events {
	return &Events{}
}

// Attach starts forwarding to p.
func (e *Events) Attach(p *tea.Program) { e.program.Store(p) }

// Detach stops forwarding.
func (e *Events) Detach() { e.program.Store(nil) }

func (e *Events) send(msg tea.Msg) {
	if p := e.program.Load(); p != nil {
		p.Send(msg)
	}
}

func (e *Events) OnStepStart(step, limit int) { e.send(stepMsg{step: step, limit: limit}) }

func (e *Events) OnThought(text string) { e.send(thoughtMsg(text)) }

func (e *Events) OnGoal(text string) { e.send(goalMsg(text)) }

func (e *Events) OnPlan(steps []parser.PlanStep) { e.send(planMsg(steps)) }

func (e *Events) OnToolStart(name string) { e.send(toolStartMsg(name)) }

func (e *Events) OnToolArgs(args json.RawMessage) { e.send(toolArgsMsg(args)) }

func (e *Events) OnToolResult(result json.RawMessage) { e.send(toolResultMsg(result)) }

func (e *Events) OnError(message string) { e.send(agentErrorMsg(message)) }

func (e *Events) OnFinalAnswer(text string) { e.send(answerMsg(text)) }

func (e *Events) OnComplete(stepsTaken, stepsLimit int) {
	e.send(completeMsg{taken: stepsTaken, limit: stepsLimit})
}
