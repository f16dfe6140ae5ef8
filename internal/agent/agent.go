// Package agent implements the step loop that drives a model and its tools
// to a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	ctxmgr "github.com/ashutoshrp06/friday/internal/context"
	"github.com/ashutoshrp06/friday/internal/executor"
	"github.com/ashutoshrp06/friday/internal/llm"
	"github.com/ashutoshrp06/friday/internal/mcp"
	"github.com/ashutoshrp06/friday/internal/metrics"
	"github.com/ashutoshrp06/friday/internal/parser"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
	"github.com/ashutoshrp06/friday/internal/validator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxResultChars caps a tool result as stored in the history.
const maxResultChars = 4000

// Agent orchestrates the conversation between user, model and tools. One
// Agent processes one query at a time; it owns its history, repeat detector
// and MCP bridge.
type Agent struct {
	settings  AgentConfig
	model     Model
	registry  *tools.Registry
	bridge    *mcp.Bridge
	history   *ctxmgr.Manager
	repeats   *RepeatDetector
	validator *validator.InputValidator
	out       safeOutput
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	state atomic.Int32
}

// Config holds agent dependencies.
type Config struct {
	Settings AgentConfig
	Model    Model

	// Registry is used directly when writable. A read-only snapshot is
	// cloned so this agent's registrations stay private.
	Registry *tools.Registry

	Output       OutputHandler
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	SystemPrompt string
	Validator    *validator.InputValidator
}

// New creates an agent with all components initialized.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	registry := cfg.Registry
	switch {
	case registry == nil:
		registry = tools.NewRegistry(cfg.Logger)
	case registry.ReadOnly():
		registry = registry.Clone()
	}

	if cfg.Output == nil {
		cfg.Output = NopOutput{}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = llm.SystemPrompt()
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.NewInputValidator()
	}

	settings := cfg.Settings.withDefaults()
	a := &Agent{
		settings:  settings,
		model:     cfg.Model,
		registry:  registry,
		bridge:    mcp.NewBridge(registry, cfg.Logger),
		history:   ctxmgr.NewManager(cfg.SystemPrompt),
		repeats:   NewRepeatDetector(settings.MaxConsecutiveRepeats),
		validator: cfg.Validator,
		out:       safeOutput{h: cfg.Output, logger: cfg.Logger},
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	a.state.Store(int32(types.StateCompletion))
	return a, nil
}

// run is the state of one ProcessQuery call.
type run struct {
	id      string
	started time.Time
	logger  *zap.Logger

	state      types.AgentState
	steps      int
	plan       *executor.PlanCursor
	plans      int
	recoveries int
	pending    recovery

	answer string
	reason CompletionReason

	lastThought string
	lastResult  string
}

func (r *run) bestEffort(marker string) string {
	switch {
	case r.lastThought != "":
		return r.lastThought + "\n\n" + marker
	case r.lastResult != "":
		return r.lastResult + "\n\n" + marker
	}
	return marker
}

// ProcessQuery runs the step loop until the model answers, the step budget
// runs out or recovery gives up. Model and tool failures never surface as
// errors: the caller always gets a Result. An error is returned only for
// invalid input or when ctx ends.
func (a *Agent) ProcessQuery(ctx context.Context, query string) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	limit := a.settings.MaxSteps
	if err := a.validator.Validate(query); err != nil {
		return Result{StepsLimit: limit}, fmt.Errorf("invalid input: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{StepsLimit: limit, Reason: ReasonCancelled}, err
	}

	r := &run{id: uuid.NewString(), started: time.Now()}
	r.logger = a.logger.With(zap.String("run_id", r.id))
	r.logger.Info("Processing query",
		zap.Int("max_steps", limit),
		zap.String("query", truncate(query, 200)))

	a.repeats.Reset()
	a.history.Append(types.UserMessage(a.validator.Sanitize(query)))
	a.setState(r, types.StatePlanning)

	for r.state != types.StateCompletion {
		if ctx.Err() != nil {
			a.finish(r, ReasonCancelled, fmt.Sprintf("[cancelled after %d steps]", r.steps))
			continue
		}
		if r.state == types.StateErrorRecovery {
			a.recover(r)
			continue
		}
		if r.steps >= limit {
			r.logger.Warn("Step budget exhausted",
				zap.Int("steps", r.steps),
				zap.Error(ErrStepBudgetExceeded))
			a.out.error(ErrStepBudgetExceeded.Error())
			a.finish(r, ReasonStepLimit, r.bestEffort(fmt.Sprintf("[step limit reached after %d steps]", r.steps)))
			continue
		}

		r.steps++
		a.metrics.Step()
		a.out.stepStart(r.steps, limit)

		switch r.state {
		case types.StatePlanning:
			a.think(ctx, r)
		case types.StateExecutingPlan:
			a.executePlanStep(ctx, r, false)
		}
	}

	elapsed := time.Since(r.started)
	a.out.complete(r.steps, limit)
	a.metrics.Completion(string(r.reason), elapsed)
	r.logger.Info("Query complete",
		zap.String("reason", string(r.reason)),
		zap.Int("steps", r.steps),
		zap.Duration("elapsed", elapsed))

	result := Result{
		Result:     r.answer,
		StepsTaken: r.steps,
		StepsLimit: limit,
		Reason:     r.reason,
	}
	if r.reason == ReasonCancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// think performs the Planning step: one model call and, for a tool call or a
// plan, the first dispatch.
func (a *Agent) think(ctx context.Context, r *run) {
	raw, err := a.model.Complete(ctx, a.history.History(), a.registry.Schemas())
	a.metrics.ModelCall(err)
	if err != nil {
		if ctx.Err() != nil {
			a.finish(r, ReasonCancelled, fmt.Sprintf("[cancelled after %d steps]", r.steps))
			return
		}
		r.logger.Warn("Model call failed", zap.Int("step", r.steps), zap.Error(err))
		a.fail(r, causeModel, err.Error())
		return
	}

	r.logger.Debug("Model output",
		zap.Int("step", r.steps),
		zap.String("raw", truncate(raw, 500)))
	if strings.TrimSpace(raw) != "" {
		a.history.Append(types.AssistantMessage(raw))
	}

	parsed := parser.Parse(raw)
	a.out.thought(parsed.Thought)
	a.out.goal(parsed.Goal)
	if parsed.Thought != "" {
		r.lastThought = parsed.Thought
	}

	// plain prose is taken as the answer; anything else degraded is retried
	if parsed.Degraded() && parsed.Err.Kind != parser.KindProse {
		a.fail(r, causeParse, parsed.Err.Error())
		return
	}

	switch o := parsed.Outcome.(type) {
	case parser.Answer:
		a.finish(r, ReasonAnswered, o.Text)
	case parser.ToolCall:
		a.setState(r, types.StateDirectExecution)
		a.executeDirect(ctx, r, o)
	case parser.Plan:
		a.startPlan(ctx, r, o)
	}
}

func (a *Agent) executeDirect(ctx context.Context, r *run, call parser.ToolCall) {
	res := a.dispatch(ctx, r, call.Name, call.Args)
	if res.outcome == outcomeSkipped {
		return
	}
	a.setState(r, types.StatePlanning)
}

func (a *Agent) startPlan(ctx context.Context, r *run, plan parser.Plan) {
	if r.plans >= a.settings.MaxPlanIterations {
		a.fail(r, causePlanLimit, fmt.Sprintf("plan limit of %d reached", a.settings.MaxPlanIterations))
		return
	}
	for _, step := range plan.Steps {
		if _, ok := a.registry.Get(step.Tool); !ok {
			a.fail(r, causeUnknownTool, fmt.Sprintf("plan uses unknown tool: %s", step.Tool))
			return
		}
	}

	r.plans++
	r.plan = executor.NewPlanCursor(plan.Steps)
	a.out.plan(r.plan.Steps())
	r.logger.Info("Executing plan",
		zap.Int("plan", r.plans),
		zap.Int("steps", r.plan.Len()))

	a.setState(r, types.StateExecutingPlan)
	a.executePlanStep(ctx, r, true)
}

// executePlanStep dispatches the next plan step. Steps after the first get
// an assistant message of their own so every tool message stays paired.
func (a *Agent) executePlanStep(ctx context.Context, r *run, first bool) {
	step, err := r.plan.Next()
	if err != nil {
		a.fail(r, causeExecution, err.Error())
		return
	}
	if !first {
		a.history.Append(types.AssistantMessage(
			fmt.Sprintf("Executing plan step %d of %d: %s", step.Index, r.plan.Len(), step.Tool)))
	}

	res := a.dispatch(ctx, r, step.Tool, step.Args)
	switch res.outcome {
	case outcomeSkipped:
		return
	case outcomeFailed:
		cause := causeExecution
		if kind, ok := tools.KindOf(res.err); ok && kind == tools.KindValidation {
			cause = causeValidation
		}
		a.fail(r, cause, fmt.Sprintf("step %d (%s): %v", step.Index, step.Tool, res.err))
		return
	}

	r.plan.Record(step, string(res.raw))
	if r.plan.Done() {
		r.plan = nil
		a.setState(r, types.StatePlanning)
	}
}

type dispatchOutcome int

const (
	outcomeOK dispatchOutcome = iota
	// outcomeFailed means the tool returned an error, recorded as a tool message.
	outcomeFailed
	// outcomeSkipped means nothing was dispatched and the state already moved on.
	outcomeSkipped
)

type dispatchResult struct {
	outcome dispatchOutcome
	raw     json.RawMessage
	err     error
}

// dispatch runs one tool call and appends its tool message.
func (a *Agent) dispatch(ctx context.Context, r *run, name string, args map[string]any) dispatchResult {
	logger := r.logger.With(zap.String("tool", name), zap.Int("step", r.steps))

	if a.repeats.Blocked(name, args) {
		a.metrics.RepeatLoop()
		logger.Warn("Blocking repeated tool call",
			zap.Int("streak", a.repeats.Streak(name, args)))
		a.fail(r, causeRepeatLoop, fmt.Sprintf("%v: %s was called %d times in a row with the same arguments",
			ErrRepeatLoop, name, a.settings.MaxConsecutiveRepeats))
		return dispatchResult{outcome: outcomeSkipped}
	}

	a.out.toolStart(name, args)
	start := time.Now()
	raw, err := a.registry.Dispatch(ctx, name, args)

	if err != nil {
		kind, ok := tools.KindOf(err)
		if !ok {
			kind = tools.KindExecution
		}
		a.metrics.Dispatch(name, kind.String())

		if kind == tools.KindUnknownTool {
			logger.Warn("Model requested unknown tool")
			a.fail(r, causeUnknownTool, err.Error())
			return dispatchResult{outcome: outcomeSkipped}
		}
		if ctx.Err() != nil {
			a.finish(r, ReasonCancelled, fmt.Sprintf("[cancelled after %d steps]", r.steps))
			return dispatchResult{outcome: outcomeSkipped}
		}

		logger.Warn("Tool call failed", zap.Error(err))
		a.repeats.Record(name, args)
		a.history.Append(types.ToolMessage(name, uuid.NewString(), "error: "+err.Error()))
		a.out.error(err.Error())
		errJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
		a.out.toolResult(errJSON)
		return dispatchResult{outcome: outcomeFailed, err: err}
	}

	a.metrics.Dispatch(name, "ok")
	a.repeats.Record(name, args)
	content := truncate(tools.ResultText(raw), maxResultChars)
	a.history.Append(types.ToolMessage(name, uuid.NewString(), content))
	a.out.toolResult(raw)

	r.lastResult = content
	r.recoveries = 0
	logger.Info("Tool call succeeded", zap.Duration("elapsed", time.Since(start)))
	return dispatchResult{outcome: outcomeOK, raw: raw}
}

// fail moves the run to ErrorRecovery. Any plan in progress is abandoned.
func (a *Agent) fail(r *run, cause recoveryCause, detail string) {
	r.pending = recovery{cause: cause, detail: detail}
	r.plan = nil
	a.setState(r, types.StateErrorRecovery)
}

// recover handles the ErrorRecovery state. It does not consume a step.
func (a *Agent) recover(r *run) {
	r.recoveries++
	a.metrics.Recovery(string(r.pending.cause))
	a.out.error(r.pending.detail)
	r.logger.Warn("Entering error recovery",
		zap.String("cause", string(r.pending.cause)),
		zap.String("detail", r.pending.detail),
		zap.Int("attempt", r.recoveries))

	if r.recoveries > a.settings.MaxRecoveries {
		marker := fmt.Sprintf("[gave up after %d recovery attempts: %s]", a.settings.MaxRecoveries, r.pending.detail)
		a.finish(r, ReasonRecoveryExhausted, r.bestEffort(marker))
		return
	}

	a.history.Append(types.SystemMessage(correction(r.pending.cause, r.pending.detail)))
	a.setState(r, types.StatePlanning)
}

func (a *Agent) finish(r *run, reason CompletionReason, text string) {
	r.answer = text
	r.reason = reason
	a.setState(r, types.StateCompletion)
	a.out.finalAnswer(text)
}

func (a *Agent) setState(r *run, s types.AgentState) {
	if r.state != s {
		r.logger.Debug("State transition",
			zap.Stringer("from", r.state),
			zap.Stringer("to", s),
			zap.Int("step", r.steps))
	}
	r.state = s
	a.state.Store(int32(s))
}

// State returns the state of the current or most recent query.
func (a *Agent) State() types.AgentState {
	return types.AgentState(a.state.Load())
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []types.Message {
	return a.history.History()
}

// ClearHistory starts a new topic: the history goes back to the system
// prompt alone.
func (a *Agent) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Clear()
	a.repeats.Reset()
}

// RegisterTool adds a tool to this agent's registry.
func (a *Agent) RegisterTool(def tools.ToolDefinition) error {
	return a.registry.Register(def)
}

// ListTools returns available tool information.
func (a *Agent) ListTools() []types.ToolInfo {
	return a.registry.ListTools()
}

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *tools.Registry {
	return a.registry
}

// ConnectMCPServer spawns a tool server and registers its tools. It reports
// false if the server could not be started or did not complete the
// handshake.
func (a *Agent) ConnectMCPServer(ctx context.Context, name, command string, args []string) bool {
	return a.bridge.Connect(ctx, name, command, args)
}

// ConnectMCPServers connects every configured server; failures are joined.
func (a *Agent) ConnectMCPServers(ctx context.Context, servers []mcp.ServerConfig) error {
	return a.bridge.ConnectAll(ctx, servers)
}

// MCPServers returns the names of connected tool servers.
func (a *Agent) MCPServers() []string {
	return a.bridge.Servers()
}

// DisconnectAllMCP stops every tool server. Safe to call at any time.
func (a *Agent) DisconnectAllMCP() {
	a.bridge.DisconnectAll()
}

// Settings returns the effective loop limits.
func (a *Agent) Settings() AgentConfig {
	return a.settings
}

// Metrics returns the collector passed to New, or nil.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

// Ping checks if the model is reachable.
func (a *Agent) Ping(ctx context.Context) error {
	_, err := a.model.Complete(ctx, []types.Message{types.UserMessage("Respond with OK")}, nil)
	if err != nil {
		return fmt.Errorf("model not reachable: %w", err)
	}
	return nil
}

// Close releases agent resources.
func (a *Agent) Close() error {
	a.bridge.DisconnectAll()
	return nil
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// back off to a rune start so the cut never splits a UTF-8 sequence
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
