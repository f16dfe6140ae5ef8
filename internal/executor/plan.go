// Package executor runs multi-step plans one step at a time.
package executor

import (
	"fmt"
	"strconv"

	"github.com/ashutoshrp06/friday/internal/parser"
)

// Step is a plan step ready for dispatch.
type Step struct {
	Index int // 1-based position in the plan
	Tool  string
	Args  map[string]any
}

// PlanCursor walks a plan strictly in order. Results of finished steps are
// addressable by later steps as ${<index>.path} or ${<tool>.path}.
type PlanCursor struct {
	steps    []parser.PlanStep
	next     int
	resolver *VariableResolver
}

func NewPlanCursor(steps []parser.PlanStep) *PlanCursor {
	return &PlanCursor{
		steps:    steps,
		resolver: NewVariableResolver(),
	}
}

// Len returns the number of steps in the plan.
func (c *PlanCursor) Len() int { return len(c.steps) }

// Remaining returns the number of steps not yet taken.
func (c *PlanCursor) Remaining() int { return len(c.steps) - c.next }

// Done reports whether every step has been taken.
func (c *PlanCursor) Done() bool { return c.next >= len(c.steps) }

// Steps returns the plan as proposed.
func (c *PlanCursor) Steps() []parser.PlanStep {
	out := make([]parser.PlanStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// Next takes the next step and resolves its argument references. The step
// is consumed even when resolution fails.
func (c *PlanCursor) Next() (Step, error) {
	if c.Done() {
		return Step{}, fmt.Errorf("plan exhausted after %d steps", len(c.steps))
	}
	raw := c.steps[c.next]
	c.next++

	step := Step{Index: c.next, Tool: raw.Tool, Args: raw.ToolArgs}
	if step.Args == nil {
		step.Args = map[string]any{}
	}
	if ContainsVariables(step.Args) {
		args, err := c.resolver.ResolveParams(step.Args)
		if err != nil {
			return step, fmt.Errorf("step %d (%s): %w", step.Index, step.Tool, err)
		}
		step.Args = args
	}
	return step, nil
}

// Record stores the output of a finished step for later references.
func (c *PlanCursor) Record(step Step, output string) {
	c.resolver.AddResult(strconv.Itoa(step.Index), output)
	c.resolver.AddResult(step.Tool, output)
}
