package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Confirm shows a warning box on out and reads one line from in. It
// returns true only for "y" or "yes".
func Confirm(in io.Reader, out io.Writer, title string, warnings ...string) bool {
	width := GetTerminalWidth()

	lines := []string{"", lipgloss.NewStyle().
		Foreground(WarningColor).
		Bold(true).
		Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", title)), ""}
	for _, w := range warnings {
		lines = append(lines, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+w))
	}
	lines = append(lines, "")

	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(WarningColor).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	fmt.Fprintln(out, box)
	fmt.Fprint(out, lipgloss.NewStyle().Foreground(WarningColor).Bold(true).Render("Continue? [y/N]: "))

	input, err := bufio.NewReader(in).ReadString('\n')
	fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	}
	fmt.Fprintln(out, MutedStyle.Render("  Cancelled."))
	return false
}

// ErrNotTerminal is returned by PromptPassword when stdin is not a
// terminal.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
