package agent

import (
	"context"
	"errors"

	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
)

const (
	DefaultMaxSteps              = 20
	DefaultMaxPlanIterations     = 3
	DefaultMaxConsecutiveRepeats = 4
	DefaultMaxRecoveries         = 2
)

var (
	// ErrRepeatLoop marks a tool call blocked for repeating the same
	// arguments too many times in a row.
	ErrRepeatLoop = errors.New("repeat loop detected")

	// ErrStepBudgetExceeded ends a query that ran out of steps.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	// ErrNoModel is returned by New when no model is configured.
	ErrNoModel = errors.New("agent requires a model")
)

// Model produces one raw response for the conversation so far.
type Model interface {
	Complete(ctx context.Context, messages []types.Message, tools []tools.ToolSchema) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, messages []types.Message, tools []tools.ToolSchema) (string, error)

func (f ModelFunc) Complete(ctx context.Context, messages []types.Message, tools []tools.ToolSchema) (string, error) {
	return f(ctx, messages, tools)
}

// AgentConfig bounds the step loop. Zero values take the defaults above; it
// is copied into the Agent and never changes afterwards.
type AgentConfig struct {
	MaxSteps              int
	MaxPlanIterations     int
	MaxConsecutiveRepeats int
	MaxRecoveries         int

	ContextSize int
	ModelID     string
	Debug       bool
	Streaming   bool
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxPlanIterations <= 0 {
		c.MaxPlanIterations = DefaultMaxPlanIterations
	}
	if c.MaxConsecutiveRepeats <= 0 {
		c.MaxConsecutiveRepeats = DefaultMaxConsecutiveRepeats
	}
	if c.MaxRecoveries <= 0 {
		c.MaxRecoveries = DefaultMaxRecoveries
	}
	return c
}

// CompletionReason says why a query finished.
type CompletionReason string

const (
	ReasonAnswered          CompletionReason = "answered"
	ReasonStepLimit         CompletionReason = "step_limit"
	ReasonRecoveryExhausted CompletionReason = "recovery_exhausted"
	ReasonCancelled         CompletionReason = "cancelled"
)

// Result is returned by ProcessQuery.
type Result struct {
	Result     string           `json:"result"`
	StepsTaken int              `json:"steps_taken"`
	StepsLimit int              `json:"steps_limit"`
	Reason     CompletionReason `json:"reason"`
}
