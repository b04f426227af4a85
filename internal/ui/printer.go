package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Printer writes styled output for naxctl commands.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter returns a Printer on w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the render width.
func (p *Printer) Width() int { return p.width }

// Println writes content and a newline.
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Printf writes formatted content.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// PrintHeader prints a command banner.
func (p *Printer) PrintHeader(title, command string, params ...Param) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
}

// PrintSuccess prints a success box.
func (p *Printer) PrintSuccess(title string, details ...Param) {
	p.Println(NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

// PrintWarning prints a warning box.
func (p *Printer) PrintWarning(title string, details ...Param) {
	p.Println(NewWarningResult(title, details...).SetWidth(p.width).Render())
}

// PrintError prints a failure box with troubleshooting tips for err.
func (p *Printer) PrintError(title string, err error, troubleshooting ...string) {
	p.Println(NewFailureResult(title, err, troubleshooting...).SetWidth(p.width).Render())
}

// PrintTable prints rows under a header line, columns padded to the
// widest cell.
func (p *Printer) PrintTable(header []string, rows [][]string) {
	p.Println(RenderTable(header, rows))
}

// RenderTable lays out a plain aligned table.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(row[i]))
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = padRight(c, widths[i])
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(line(header)))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(line(row))
	}
	return b.String()
}
