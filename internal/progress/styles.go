package progress

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorSuccess = lipgloss.Color("42")  // Green
	colorWarning = lipgloss.Color("214") // Orange
	colorError   = lipgloss.Color("196") // Red
	colorMuted   = lipgloss.Color("240") // Gray
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true).
				MarginTop(1)

	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true).
			MarginTop(1)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconPending = "·"
	iconSkipped = "-"
)

// statusIcon renders a status word from any of the job, checkpoint, step or
// check vocabularies.
func statusIcon(status string) string {
	switch status {
	case "completed", "pass":
		return successStyle.Render(iconSuccess)
	case "failed", "fail", "cancelled":
		return errorStyle.Render(iconError)
	case "warning":
		return warningStyle.Render(iconWarning)
	case "skipped":
		return labelStyle.Render(iconSkipped)
	default:
		return labelStyle.Render(iconPending)
	}
}
