package report

import (
	"fmt"
	"strings"
	"time"
)

// Glyph returns a short marker for a status.
func Glyph(s Status) string {
	switch s {
	case StatusSuccess:
		return "✓"
	case StatusFailure:
		return "✗"
	case StatusStopped:
		return "■"
	case StatusPaused:
		return "‖"
	case StatusRunning:
		return "▸"
	default:
		return "○"
	}
}

// Markdown renders the report tree as a markdown document.
func Markdown(r *StepExecutionReport) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", Glyph(r.Status), r.Name)
	fmt.Fprintf(&b, "**Status:** `%s` · **Duration:** %s\n\n", r.Status, r.Duration.Truncate(time.Millisecond))
	writeMarkdownLines(&b, "", r)
	for _, s := range r.Steps {
		writeMarkdownStep(&b, s, 0)
	}
	return b.String()
}

func writeMarkdownStep(b *strings.Builder, r *StepExecutionReport, depth int) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s- %s **%s**", indent, Glyph(r.Status), r.Name)
	if r.Type != "" {
		line += fmt.Sprintf(" `%s`", r.Type)
	}
	if r.Status.Terminal() && r.Status != StatusNotExecuted {
		line += fmt.Sprintf(" (%s)", r.Duration.Truncate(time.Millisecond))
	}
	b.WriteString(line + "\n")
	writeMarkdownLines(b, indent+"  ", r)
	for _, s := range r.Steps {
		writeMarkdownStep(b, s, depth+1)
	}
}

func writeMarkdownLines(b *strings.Builder, indent string, r *StepExecutionReport) {
	for _, msg := range r.Information {
		fmt.Fprintf(b, "%s> %s\n", indent, msg)
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(b, "%s> **error:** %s\n", indent, msg)
	}
	if len(r.Information) > 0 || len(r.Errors) > 0 {
		b.WriteString("\n")
	}
}
