package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1)
)

// printer writes either styled text for terminals, plain text for pipes, or
// JSON when asked to.
type printer struct {
	w      io.Writer
	json   bool
	styled bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		styled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &printer{w: w, json: asJSON, styled: styled}
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) Title(s string) {
	fmt.Fprintln(p.w, p.render(titleStyle, s))
}

func (p *printer) Field(label string, value any) {
	fmt.Fprintf(p.w, "%s %v\n", p.render(labelStyle, label+":"), value)
}

func (p *printer) Warn(s string) {
	fmt.Fprintln(p.w, p.render(warningStyle, "warning: "+s))
}

func (p *printer) Error(s string) {
	fmt.Fprintln(p.w, p.render(errorStyle, s))
}

// Box frames a block of lines when styling is on.
func (p *printer) Box(lines []string) {
	body := strings.Join(lines, "\n")
	if p.styled {
		body = boxStyle.Render(body)
	}
	fmt.Fprintln(p.w, body)
}

func (p *printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func formatScore(v float64) string {
	return humanize.FormatFloat("#,###.####", v)
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

func formatAge(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0, got %s", s)
	}
	return d, nil
}
