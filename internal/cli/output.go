package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const ruleWidth = 80

// Printer writes operator facing progress to a writer.
// Colors are only emitted when the writer is a terminal.
type Printer struct {
	w io.Writer

	title   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7")),
		success: r.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
		failure: r.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#2C4A54")),
	}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Banner prints a titled block framed by rules.
func (p *Printer) Banner(title string, lines ...string) {
	rule := strings.Repeat("=", ruleWidth)
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w, p.title.Render(title))
	fmt.Fprintln(p.w, rule)
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
}

// TimestampedTitle returns title suffixed with the current local time.
func TimestampedTitle(title string) string {
	return fmt.Sprintf("%s - %s", title, time.Now().Format(time.DateTime))
}

// Rule prints a separator line.
func (p *Printer) Rule() {
	fmt.Fprintln(p.w, strings.Repeat("=", ruleWidth))
}

// Line prints a plain line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Server prints a line prefixed by the server name.
func (p *Printer) Server(server, format string, args ...any) {
	fmt.Fprintf(p.w, "[%s] %s\n", server, fmt.Sprintf(format, args...))
}

// ServerWarn prints a warning line prefixed by the server name.
func (p *Printer) ServerWarn(server, format string, args ...any) {
	fmt.Fprintf(p.w, "[%s] %s\n", server, p.warning.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// ServerError prints an error line prefixed by the server name.
func (p *Printer) ServerError(server string, err error) {
	fmt.Fprintf(p.w, "[%s] %s\n", server, p.failure.Render(err.Error()))
}

// Warning prints a highlighted warning line.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.w, p.warning.Render(fmt.Sprintf(format, args...)))
}

// Success prints a highlighted success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.success.Render(fmt.Sprintf(format, args...)))
}

// Result is the outcome of one server in a run.
type Result struct {
	Server string
	Err    error
}

// Summary prints the per server outcome table and totals.
func (p *Printer) Summary(title string, results []Result) {
	p.Banner(title)

	var ok int
	for _, r := range results {
		if r.Err == nil {
			ok++
			fmt.Fprintf(p.w, "✅ %s: %s\n", r.Server, p.success.Render("SUCCESS"))
			continue
		}
		fmt.Fprintf(p.w, "❌ %s: %s\n", r.Server, p.failure.Render("FAILED: "+r.Err.Error()))
	}

	fmt.Fprintln(p.w, p.muted.Render(strings.Repeat("-", ruleWidth)))
	fmt.Fprintf(p.w, "Total servers: %d\n", len(results))
	fmt.Fprintf(p.w, "Successful: %d\n", ok)
	fmt.Fprintf(p.w, "Failed: %d\n", len(results)-ok)
	p.Rule()
}
