package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette is the set of colors the terminal output is drawn with.
type Palette struct {
	Brand  lipgloss.Color
	Info   lipgloss.Color
	Tool   lipgloss.Color
	OK     lipgloss.Color
	Fail   lipgloss.Color
	Dim    lipgloss.Color
	Faint  lipgloss.Color
	Text   lipgloss.Color
	Strong lipgloss.Color
}

// DefaultPalette is tuned for dark terminals.
func DefaultPalette() Palette {
	return Palette{
		Brand:  lipgloss.Color("#7C3AED"),
		Info:   lipgloss.Color("#06B6D4"),
		Tool:   lipgloss.Color("#F59E0B"),
		OK:     lipgloss.Color("#10B981"),
		Fail:   lipgloss.Color("#EF4444"),
		Dim:    lipgloss.Color("#6B7280"),
		Faint:  lipgloss.Color("#9CA3AF"),
		Text:   lipgloss.Color("#F9FAFB"),
		Strong: lipgloss.Color("#FFFFFF"),
	}
}

// Styles holds one style per kind of line the agent transcript can contain,
// plus the chrome around it.
type Styles struct {
	// transcript
	User      lipgloss.Style
	Note      lipgloss.Style
	Thought   lipgloss.Style
	Goal      lipgloss.Style
	Label     lipgloss.Style
	PlanStep  lipgloss.Style
	Answer    lipgloss.Style
	Error     lipgloss.Style
	StepLabel lipgloss.Style

	// tool cards
	ToolCard   lipgloss.Style
	ToolName   lipgloss.Style
	ToolArgs   lipgloss.Style
	ToolOutput lipgloss.Style
	ToolOK     lipgloss.Style
	ToolFail   lipgloss.Style

	// chrome
	Frame   lipgloss.Style
	Title   lipgloss.Style
	Prompt  lipgloss.Style
	Spinner lipgloss.Style
	Status  lipgloss.Style
	Key     lipgloss.Style
	KeyHint lipgloss.Style
	HelpBar lipgloss.Style
}

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// NewStyles derives every style from p.
func NewStyles(p Palette) Styles {
	indent := func(s lipgloss.Style) lipgloss.Style { return s.PaddingLeft(2) }

	return Styles{
		User:      indent(fg(p.Info).Bold(true)),
		Note:      indent(fg(p.Dim).Italic(true)),
		Thought:   indent(fg(p.Faint).Italic(true)),
		Goal:      indent(fg(p.Info)),
		Label:     fg(p.Brand).Bold(true),
		PlanStep:  fg(p.Tool).PaddingLeft(4),
		Error:     indent(fg(p.Fail)),
		StepLabel: fg(p.Dim).Bold(true),
		Answer: fg(p.Strong).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(p.OK).
			PaddingLeft(1).
			MarginLeft(2),

		ToolCard: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(p.Tool).
			Padding(0, 1).
			Margin(1, 0, 1, 2),
		ToolName:   fg(p.Tool).Bold(true),
		ToolArgs:   fg(p.Faint),
		ToolOutput: fg(p.Text).PaddingLeft(1),
		ToolOK:     fg(p.OK).Bold(true),
		ToolFail:   fg(p.Fail).Bold(true),

		Frame:   lipgloss.NewStyle().Padding(1, 2),
		Title:   fg(p.Brand).Bold(true),
		Prompt:  fg(p.Info).Bold(true),
		Spinner: fg(p.Brand),
		Status:  fg(p.Faint),
		Key:     fg(p.Dim),
		KeyHint: fg(p.Faint),
		HelpBar: fg(p.Dim).MarginTop(1),
	}
}

// DefaultStyles returns styles for the default palette.
func DefaultStyles() Styles {
	return NewStyles(DefaultPalette())
}

// Banner returns the ASCII art banner.
func Banner() string {
	return `
 ███████╗██████╗ ██╗██████╗  █████╗ ██╗   ██╗
 ██╔════╝██╔══██╗██║██╔══██╗██╔══██╗╚██╗ ██╔╝
 █████╗  ██████╔╝██║██║  ██║███████║ ╚████╔╝
 ██╔══╝  ██╔══██╗██║██║  ██║██╔══██║  ╚██╔╝
 ██║     ██║  ██║██║██████╔╝██║  ██║   ██║
 ╚═╝     ╚═╝  ╚═╝╚═╝╚═════╝ ╚═╝  ╚═╝   ╚═╝
   Tool-using assistant for DevOps and network debugging`
}
