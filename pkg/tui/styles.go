// Package tui renders a live execution as an interactive Bubble Tea app:
// a step tree that updates as the report streams in, a detail pane, and
// keys to pause, resume and stop the run.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorBlue   = lipgloss.Color("39")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var stateBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorYellow).
	Padding(0, 1)

// --- Step list styles ---

var (
	stepNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	stepSelected = lipgloss.NewStyle().
			Bold(true).
			Reverse(true)

	stepPassed = lipgloss.NewStyle().
			Foreground(colorGreen)

	stepFailed = lipgloss.NewStyle().
			Foreground(colorRed)

	stepRunning = lipgloss.NewStyle().
			Foreground(colorYellow)

	stepSkipped = lipgloss.NewStyle().
			Faint(true)
)

// --- Panel styles ---

var (
	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			Padding(0, 1)
)

// --- Key bar styles ---

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	flashStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorYellow)
)

// statusStyle picks the list style of a step status.
func statusStyle(s report.Status) lipgloss.Style {
	switch s {
	case report.StatusSuccess:
		return stepPassed
	case report.StatusFailure, report.StatusStopped:
		return stepFailed
	case report.StatusRunning, report.StatusPaused:
		return stepRunning
	case report.StatusNotExecuted:
		return stepSkipped
	default:
		return stepNormal
	}
}
