package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jetsoncontrols/ha-nax/internal/session"
)

// Palette.
var (
	PrimaryColor = lipgloss.Color("#7D56F4")
	SuccessColor = lipgloss.Color("#43BF6D")
	ErrorColor   = lipgloss.Color("#FF5555")
	WarningColor = lipgloss.Color("#FFA500")
	MutedColor   = lipgloss.Color("#626262")
	TextColor    = lipgloss.Color("#FFFFFF")
)

const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

var (
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(2)

	HeaderCommandStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamKeyStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(15)

	ResultValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	TroubleshootingTitleStyle = lipgloss.NewStyle().
					Foreground(MutedColor).
					Bold(true)

	TroubleshootingItemStyle = lipgloss.NewStyle().
					Foreground(MutedColor)

	// Table and monitor styles.
	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				Bold(true)

	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Background(PrimaryColor).
				Bold(true)

	MutedStyle = lipgloss.NewStyle().Foreground(MutedColor)
)

const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	OnMarker      = "●"
	OffMarker     = "○"
)

// StateStyle colors a connection state: green when connected, orange
// while connecting, red otherwise.
func StateStyle(s session.State) lipgloss.Style {
	switch s {
	case session.Connected:
		return lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	case session.Connecting, session.Authenticating, session.Subscribing, session.Reconnecting:
		return lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	}
}

// GetTerminalWidth returns the terminal width clamped to the supported
// range.
func GetTerminalWidth() int {
	w, _ := GetTerminalSize()
	return w
}

// GetTerminalSize returns the clamped terminal width and the height.
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24
	}
	return clampWidth(width), height
}

func clampWidth(w int) int {
	return min(max(w, MinTerminalWidth), MaxContentWidth)
}
