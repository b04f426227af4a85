package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one key/value line in a Header.
type Param struct {
	Key, Value string
}

// Header is the banner naxctl prints before a long-running command.
type Header struct {
	Title   string  // e.g. "STATE BRIDGE"
	Command string  // e.g. "naxctl serve"
	Params  []Param // rendered in order
	Width   int
}

// NewHeader creates a header sized to the terminal.
func NewHeader(title, command string, params ...Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth overrides the render width.
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the bordered header.
func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)

	top := lipgloss.JoinVertical(lipgloss.Left,
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command))

	content := top
	if len(h.Params) > 0 {
		keyWidth := 0
		for _, p := range h.Params {
			keyWidth = max(keyWidth, len(p.Key)+1)
		}
		lines := make([]string, 0, len(h.Params))
		for _, p := range h.Params {
			key := HeaderParamKeyStyle.Render(padRight(p.Key+":", keyWidth))
			lines = append(lines, key+" "+HeaderParamValueStyle.Render(p.Value))
		}
		divider := lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Render(strings.Repeat("─", max(width-6, 10)))
		content = lipgloss.JoinVertical(lipgloss.Left, top, divider, strings.Join(lines, "\n"))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

// String implements fmt.Stringer.
func (h *Header) String() string {
	return h.Render()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
