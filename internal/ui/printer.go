// Package ui prints the short status lines a developer watches while the
// workspace rebuilds, as opposed to the structured log stream.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	stampStyle   = lipgloss.NewStyle().Faint(true)
)

// Printer writes timestamped status lines. The zero value discards output.
type Printer struct {
	out     io.Writer
	noColor bool
	now     func() time.Time
	mu      sync.Mutex
}

// New returns a Printer writing to out. Styling is disabled when noColor is
// set.
func New(out io.Writer, noColor bool) *Printer {
	return &Printer{out: out, noColor: noColor, now: time.Now}
}

// Discard returns a Printer that writes nothing.
func Discard() *Printer {
	return New(io.Discard, true)
}

// Info prints a neutral progress line.
func (p *Printer) Info(format string, args ...any) {
	p.line(infoStyle, "•", format, args...)
}

// Success prints a completed step.
func (p *Printer) Success(format string, args ...any) {
	p.line(successStyle, "✓", format, args...)
}

// Warn prints a recoverable problem.
func (p *Printer) Warn(format string, args ...any) {
	p.line(warnStyle, "!", format, args...)
}

// Fail prints a failed step.
func (p *Printer) Fail(format string, args ...any) {
	p.line(failStyle, "✗", format, args...)
}

func (p *Printer) line(style lipgloss.Style, mark, format string, args ...any) {
	if p == nil || p.out == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)

	now := time.Now
	if p.now != nil {
		now = p.now
	}

	stamp := "[" + now().Format("15:04:05") + "]"

	if !p.noColor {
		stamp = stampStyle.Render(stamp)
		mark = style.Render(mark)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s %s %s\n", stamp, mark, msg)
}
