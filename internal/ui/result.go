package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
)

// ResultType selects the box color.
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result is a bordered outcome box.
type Result struct {
	Type            ResultType
	Title           string
	Details         []Param
	Error           error
	Troubleshooting []string
	Width           int
}

// NewSuccessResult creates a success box.
func NewSuccessResult(title string, details ...Param) *Result {
	return &Result{Type: ResultSuccess, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure box. Troubleshooting tips default to
// the ones naxerr.Hint suggests for err.
func NewFailureResult(title string, err error, troubleshooting ...string) *Result {
	if len(troubleshooting) == 0 {
		troubleshooting = Tips(err)
	}
	return &Result{
		Type:            ResultFailure,
		Title:           title,
		Error:           err,
		Troubleshooting: troubleshooting,
		Width:           GetTerminalWidth(),
	}
}

// NewWarningResult creates a warning box.
func NewWarningResult(title string, details ...Param) *Result {
	return &Result{Type: ResultWarning, Title: title, Details: details, Width: GetTerminalWidth()}
}

// SetWidth overrides the render width.
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail appends a detail line.
func (r *Result) AddDetail(key, value string) *Result {
	r.Details = append(r.Details, Param{key, value})
	return r
}

// Render returns the bordered box.
func (r *Result) Render() string {
	width := max(r.Width, MinTerminalWidth)

	var (
		color lipgloss.Color
		title string
	)
	switch r.Type {
	case ResultFailure:
		color = ErrorColor
		title = ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, r.Title))
	case ResultWarning:
		color = WarningColor
		title = lipgloss.NewStyle().Foreground(WarningColor).Bold(true).
			Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", r.Title))
	default:
		color = SuccessColor
		title = SuccessTitleStyle.Render(fmt.Sprintf("   %s  SUCCESS  ─  %s", SuccessMarker, r.Title))
	}

	lines := []string{"", title, ""}
	for _, d := range r.Details {
		lines = append(lines, ResultKeyStyle.Render("   "+d.Key+":")+" "+ResultValueStyle.Render(d.Value))
	}
	if len(r.Details) > 0 {
		lines = append(lines, "")
	}
	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}
	if len(r.Troubleshooting) > 0 {
		lines = append(lines, r.renderTroubleshooting(width), "")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

func (r *Result) renderTroubleshooting(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(max(width-12, 40)).
		Padding(0, 1).
		MarginLeft(3).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	return r.Render()
}

// Tips extracts the bullet points of naxerr.Hint(err).
func Tips(err error) []string {
	if err == nil {
		return nil
	}
	var tips []string
	for _, line := range strings.Split(naxerr.Hint(err), "\n") {
		if tip, ok := strings.CutPrefix(strings.TrimSpace(line), "• "); ok {
			tips = append(tips, tip)
		}
	}
	return tips
}
