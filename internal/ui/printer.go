package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/parser"
	"github.com/ashutoshrp06/friday/internal/tools"
)

// maxPrintedOutput caps how much of a tool result the printer shows.
const maxPrintedOutput = 600

// Printer is an agent.OutputHandler that writes the agent's progress to a
// terminal as plain styled lines. It is used for one-shot queries.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles

	// Verbose also prints step boundaries and raw tool arguments.
	Verbose bool

	toolPending bool
	toolFailed  bool
}

var _ agent.OutputHandler = (*Printer)(nil)

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styles: DefaultStyles()}
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *Printer) OnStepStart(step, limit int) {
	if p.Verbose {
		p.println(p.styles.StepLabel.Render(fmt.Sprintf("── step %d/%d", step, limit)))
	}
}

func (p *Printer) OnThought(text string) {
	p.println(p.styles.Thought.Render(text))
}

func (p *Printer) OnGoal(text string) {
	p.println(p.styles.Goal.Render("Goal: " + text))
}

func (p *Printer) OnPlan(steps []parser.PlanStep) {
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, s.Tool)
	}
	p.println(p.styles.Label.Render("  Plan:"))
	p.println(p.styles.PlanStep.Render(strings.Join(lines, "\n")))
}

func (p *Printer) OnToolStart(name string) {
	p.mu.Lock()
	p.toolPending, p.toolFailed = true, false
	p.mu.Unlock()
	p.println(p.styles.ToolName.Render("  → " + name))
}

func (p *Printer) OnToolArgs(args json.RawMessage) {
	if p.Verbose && len(args) > 0 && string(args) != "{}" {
		p.println(p.styles.ToolArgs.Render("    " + string(args)))
	}
}

func (p *Printer) OnToolResult(result json.RawMessage) {
	p.mu.Lock()
	failed := p.toolFailed
	p.toolPending, p.toolFailed = false, false
	p.mu.Unlock()
	if failed {
		return
	}

	out := tools.ResultText(result)
	if len(out) > maxPrintedOutput {
		out = out[:maxPrintedOutput] + "..."
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			p.println(p.styles.ToolOutput.Render("    | " + line))
		}
	}
}

func (p *Printer) OnError(message string) {
	p.mu.Lock()
	inTool := p.toolPending
	if inTool {
		p.toolFailed = true
	}
	p.mu.Unlock()

	if inTool {
		p.println(p.styles.ToolFail.Render("    ✗ " + message))
		return
	}
	p.println(p.styles.Error.Render("! " + message))
}

func (p *Printer) OnFinalAnswer(text string) {
	p.println("")
	p.println(p.styles.Answer.Render(text))
}

func (p *Printer) OnComplete(stepsTaken, stepsLimit int) {
	p.println(p.styles.Status.Render(fmt.Sprintf("\n  completed in %d/%d steps", stepsTaken, stepsLimit)))
}

// RunOneShot processes a single query. Progress is rendered by whatever
// OutputHandler the agent was created with, normally a Printer.
func RunOneShot(ctx context.Context, runner Runner, query string, w io.Writer) (agent.Result, error) {
	styles := DefaultStyles()
	fmt.Fprintln(w, styles.User.Render("You: "+query))
	fmt.Fprintln(w)

	res, err := runner.ProcessQuery(ctx, query)
	if err != nil {
		fmt.Fprintln(w, styles.ToolFail.Render("Error: "+err.Error()))
	}
	return res, err
}
