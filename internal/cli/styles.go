// Package cli renders reconciliation results and drives interactive review
// in the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accent   = lipgloss.Color("#5B8DEF")
	balanced = lipgloss.Color("#4ECDC4")
	open     = lipgloss.Color("#FFE66D")
	broken   = lipgloss.Color("#FF6B6B")
	note     = lipgloss.Color("#95E1D3")
	muted    = lipgloss.Color("#666666")
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	promptStyle  = headingStyle
	okStyle      = lipgloss.NewStyle().Foreground(balanced)
	openStyle    = lipgloss.NewStyle().Foreground(open)
	brokenStyle  = lipgloss.NewStyle().Foreground(broken)
	noteStyle    = lipgloss.NewStyle().Foreground(note)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	totalStyle   = lipgloss.NewStyle().Bold(true)

	headerCell = lipgloss.NewStyle().Bold(true).PaddingRight(2)
	bodyCell   = lipgloss.NewStyle().PaddingRight(2)

	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#333")).
		Padding(1, 2)
)

const (
	markOK      = "✓"
	markFailed  = "✗"
	markWarning = "⚠️"
	markNote    = "ℹ️"
	markReport  = "📊"
)

// statusStyles colours session, match and statement states by value. Sessions,
// matches and statements share some state names, so keys are the raw values.
var statusStyles = map[string]lipgloss.Style{
	"completed":       okStyle,
	"approved":        okStyle,
	"auto_approved":   okStyle,
	"review_required": openStyle,
	"pending":         openStyle,
	"processing":      openStyle,
	"cancelled":       brokenStyle,
	"rejected":        brokenStyle,
	"failed":          brokenStyle,
}

func status(s string) string {
	style, ok := statusStyles[s]
	if !ok {
		style = noteStyle
	}
	return style.Render(s)
}

// FormatSuccess marks a finished action.
func FormatSuccess(message string) string {
	return okStyle.Render(markOK + " " + message)
}

// FormatError marks a failed action.
func FormatError(message string) string {
	return brokenStyle.Render(markFailed + " " + message)
}

// FormatWarning marks something that needs attention but did not fail.
func FormatWarning(message string) string {
	return openStyle.Render(markWarning + " " + message)
}

// FormatInfo marks an informational line.
func FormatInfo(message string) string {
	return noteStyle.Render(markNote + " " + message)
}

func prompt(text string) string {
	return promptStyle.Render(text + " → ")
}

func heading(text string) string {
	return headingStyle.Render(text)
}

// box frames a titled block such as a statement or session summary.
func box(title, content string) string {
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, heading(title), content))
}
