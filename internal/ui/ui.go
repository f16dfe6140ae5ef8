// Package ui provides the terminal user interface using Bubble Tea.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Runner is the part of the agent the UI drives.
type Runner interface {
	ProcessQuery(ctx context.Context, query string) (agent.Result, error)
	ClearHistory()
	ListTools() []types.ToolInfo
}

// Model is the Bubble Tea model for the interactive session.
type Model struct {
	// UI Components
	textInput textinput.Model
	spinner   spinner.Model
	viewport  viewport.Model
	styles    Styles

	// State
	busy        bool
	step        int
	limit       int
	messages    []chatMessage
	currentTool *toolExecution
	width       int
	height      int
	ready       bool
	quitting    bool
	err         error

	ctx    context.Context
	cancel context.CancelFunc
	runner Runner
}

// chatMessage represents a message in the chat history.
type chatMessage struct {
	role    string // "user", "assistant", "system", "thought", "plan", "error", "tool"
	content string
	tool    *toolExecution
}

// toolExecution tracks a tool call and its result.
type toolExecution struct {
	name     string
	params   map[string]any
	output   string
	success  bool
	error    string
	started  time.Time
	duration time.Duration
	done     bool
}

// NewModel creates a new UI model. Queries run under ctx.
func NewModel(ctx context.Context, runner Runner) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe your issue... (e.g., 'Check if gRPC service on port 50051 is healthy')"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 80

	styles := DefaultStyles()
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.DefaultKeyMap()

	if ctx == nil {
		ctx = context.Background()
	}
	return Model{
		textInput: ti,
		spinner:   s,
		viewport:  vp,
		styles:    styles,
		messages:  make([]chatMessage, 0),
		ctx:       ctx,
		runner:    runner,
	}
}

// Run starts the interactive session. events must be the OutputHandler the
// agent behind runner was created with.
func Run(ctx context.Context, runner Runner, events *Events) error {
	p := tea.NewProgram(NewModel(ctx, runner), tea.WithAltScreen())
	events.Attach(p)
	defer events.Detach()

	_, err := p.Run()
	return err
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

// headerHeight returns the number of terminal lines occupied by the banner.
func (m Model) headerHeight() int {
	banner := m.styles.Title.Render(Banner())
	return lipgloss.Height(banner) + 2
}

// footerHeight returns the number of terminal lines occupied by the input + help bar.
func (m Model) footerHeight() int {
	// blank line, prompt line, newline, help bar
	return 4
}

// updateViewport rebuilds the viewport content and scrolls to the bottom.
func (m *Model) updateViewport() {
	var b strings.Builder

	for _, msg := range m.messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	if m.currentTool != nil && !m.currentTool.done {
		b.WriteString(m.renderToolInProgress())
		b.WriteString("\n")
	}

	if m.busy {
		b.WriteString(m.renderStatus())
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if !m.busy {
				m.quitting = true
				return m, tea.Quit
			}
			// cancel the running query; queryDoneMsg resets the state
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil

		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}

			query := strings.TrimSpace(m.textInput.Value())
			if query == "" {
				return m, nil
			}
			m.textInput.SetValue("")

			if cmd, handled := m.handleCommand(query); handled {
				m.updateViewport()
				return m, cmd
			}

			m.messages = append(m.messages, chatMessage{role: "user", content: query})
			m.busy = true
			m.step, m.limit = 0, 0
			m.err = nil
			m.updateViewport()
			cmd := m.startQuery(query)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textInput.Width = msg.Width - 10

		vpHeight := msg.Height - m.headerHeight() - m.footerHeight()
		if vpHeight < 1 {
			vpHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.viewport.KeyMap = viewport.DefaultKeyMap()
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}

		m.ready = true
		m.updateViewport()

	case stepMsg, thoughtMsg, goalMsg, planMsg, toolStartMsg, toolArgsMsg,
		toolResultMsg, agentErrorMsg, answerMsg, completeMsg, queryDoneMsg:
		m = m.handleAgentEvent(msg)
		m.updateViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.busy {
			m.updateViewport()
		}
	}

	if !m.busy {
		var tiCmd tea.Cmd
		m.textInput, tiCmd = m.textInput.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

// startQuery runs one query in the background. Progress arrives through
// Events; the final result through queryDoneMsg.
func (m *Model) startQuery(query string) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	runner := m.runner

	return func() tea.Msg {
		defer cancel()
		if runner == nil {
			return queryDoneMsg{err: errors.New("no agent configured")}
		}
		res, err := runner.ProcessQuery(ctx, query)
		return queryDoneMsg{result: res, err: err}
	}
}

// handleCommand processes special commands. It reports whether input was
// one.
func (m *Model) handleCommand(input string) (tea.Cmd, bool) {
	switch strings.ToLower(input) {
	case "exit", "quit", "q":
		m.quitting = true
		return tea.Quit, true

	case "clear":
		m.messages = make([]chatMessage, 0)
		if m.runner != nil {
			m.runner.ClearHistory()
		}
		return nil, true

	case "help", "?":
		m.messages = append(m.messages, chatMessage{
			role: "system",
			content: `Available commands:
  help, ?     Show this help
  tools       List available tools
  clear       Start a new conversation
  exit, quit  Exit friday

Press esc while a query runs to cancel it.

Example queries:
  "Check if gRPC service on port 50051 is healthy"
  "Resolve api.internal and check port 443"
  "Inspect network buffer settings"`,
		})
		return nil, true

	case "tools":
		m.messages = append(m.messages, chatMessage{role: "system", content: m.toolList()})
		return nil, true
	}

	return nil, false
}

func (m Model) toolList() string {
	if m.runner == nil {
		return "No tools available."
	}
	infos := m.runner.ListTools()
	if len(infos) == 0 {
		return "No tools available."
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "  %-28s %s\n", info.Name, info.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleAgentEvent folds one agent callback into the transcript.
func (m Model) handleAgentEvent(msg tea.Msg) Model {
	switch msg := msg.(type) {
	case stepMsg:
		m.step, m.limit = msg.step, msg.limit

	case thoughtMsg:
		m.messages = append(m.messages, chatMessage{role: "thought", content: string(msg)})

	case goalMsg:
		m.messages = append(m.messages, chatMessage{role: "thought", content: "Goal: " + string(msg)})

	case planMsg:
		lines := make([]string, len(msg))
		for i, step := range msg {
			lines[i] = fmt.Sprintf("%d. %s", i+1, step.Tool)
		}
		m.messages = append(m.messages, chatMessage{role: "plan", content: strings.Join(lines, "\n")})

	case toolStartMsg:
		m.currentTool = &toolExecution{name: string(msg), started: time.Now()}

	case toolArgsMsg:
		if m.currentTool != nil {
			var params map[string]any
			if err := json.Unmarshal(msg, &params); err == nil {
				m.currentTool.params = params
			}
		}

	case agentErrorMsg:
		if m.currentTool != nil && !m.currentTool.done {
			m.currentTool.error = string(msg)
			break
		}
		m.messages = append(m.messages, chatMessage{role: "error", content: string(msg)})

	case toolResultMsg:
		if m.currentTool == nil {
			break
		}
		t := m.currentTool
		t.done = true
		t.success = t.error == ""
		t.duration = time.Since(t.started)
		if t.success {
			t.output = tools.ResultText(json.RawMessage(msg))
		}
		m.messages = append(m.messages, chatMessage{role: "tool", tool: t})
		m.currentTool = nil

	case answerMsg:
		m.messages = append(m.messages, chatMessage{role: "assistant", content: string(msg)})

	case completeMsg:
		m.messages = append(m.messages, chatMessage{
			role:    "system",
			content: fmt.Sprintf("Completed in %d/%d steps", msg.taken, msg.limit),
		})

	case queryDoneMsg:
		m.busy = false
		m.cancel = nil
		m.currentTool = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
			m.messages = append(m.messages, chatMessage{role: "error", content: msg.err.Error()})
		}
	}
	return m
}

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return m.styles.Note.Render("Goodbye!\n")
	}

	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder

	b.WriteString(m.styles.Title.Render(Banner()))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(m.styles.Prompt.Render("> "))
	if !m.busy {
		b.WriteString(m.textInput.View())
	} else {
		b.WriteString(m.styles.Status.Render("(processing... esc to cancel)"))
	}
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())

	return m.styles.Frame.Render(b.String())
}

// renderMessage renders a single chat message.
func (m Model) renderMessage(msg chatMessage) string {
	switch msg.role {
	case "user":
		return m.styles.User.Render("You: " + msg.content)

	case "assistant":
		return m.styles.Answer.Render(msg.content)

	case "system":
		return m.styles.Note.Render(msg.content)

	case "thought":
		return m.styles.Thought.Render(msg.content)

	case "plan":
		return m.styles.Label.Render("  Plan:") + "\n" + m.styles.PlanStep.Render(msg.content)

	case "error":
		return m.styles.Error.Render("Error: " + msg.content)

	case "tool":
		if msg.tool != nil {
			return m.renderToolResult(msg.tool)
		}
	}
	return ""
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// renderToolResult renders a completed tool execution.
func (m Model) renderToolResult(t *toolExecution) string {
	var b strings.Builder

	b.WriteString(m.styles.ToolName.Render("Tool: " + t.name))
	if len(t.params) > 0 {
		b.WriteString(" ")
		b.WriteString(m.styles.ToolArgs.Render(formatParams(t.params)))
	}
	b.WriteString("\n")

	if t.success {
		b.WriteString(m.styles.ToolOK.Render("  Success"))
		if t.duration > 0 {
			b.WriteString(m.styles.ToolArgs.Render(fmt.Sprintf(" (%s)", t.duration.Round(time.Millisecond))))
		}
		b.WriteString("\n")
		if t.output != "" {
			output := t.output
			if len(output) > 300 {
				output = output[:300] + "..."
			}
			for _, line := range strings.Split(output, "\n") {
				if line != "" {
					b.WriteString(m.styles.ToolOutput.Render("  | " + line))
					b.WriteString("\n")
				}
			}
		}
	} else {
		b.WriteString(m.styles.ToolFail.Render("  Failed: " + t.error))
		b.WriteString("\n")
	}

	return m.styles.ToolCard.Render(b.String())
}

// renderToolInProgress renders a tool that's currently executing.
func (m Model) renderToolInProgress() string {
	var b strings.Builder

	b.WriteString(m.styles.ToolName.Render("Tool: " + m.currentTool.name))
	if len(m.currentTool.params) > 0 {
		b.WriteString(" ")
		b.WriteString(m.styles.ToolArgs.Render(formatParams(m.currentTool.params)))
	}
	b.WriteString("\n")
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Status.Render("Executing..."))

	return m.styles.ToolCard.Render(b.String())
}

// renderStatus renders the current processing status.
func (m Model) renderStatus() string {
	label := "Thinking..."
	if m.limit > 0 {
		label = fmt.Sprintf("Step %d/%d...", m.step, m.limit)
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.styles.Label.Render(label))
}

// renderHelpBar renders the bottom help bar.
func (m Model) renderHelpBar() string {
	help := []string{
		m.styles.Key.Render("enter") + m.styles.KeyHint.Render(" send"),
		m.styles.Key.Render("esc") + m.styles.KeyHint.Render(" cancel/quit"),
		m.styles.Key.Render("help") + m.styles.KeyHint.Render(" commands"),
		m.styles.Key.Render("tools") + m.styles.KeyHint.Render(" list tools"),
	}
	return m.styles.HelpBar.Render(strings.Join(help, "  |  "))
}
