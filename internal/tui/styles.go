package tui

import (
	"github.com/charmbracelet/lipgloss"

	"kubeheal-backend/internal/anomaly"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dangerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7AF"))
	faintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
)

func severityStyle(s anomaly.Severity) lipgloss.Style {
	switch s {
	case anomaly.SeverityCritical:
		return dangerStyle
	case anomaly.SeverityHigh:
		return warnStyle
	case anomaly.SeverityMedium:
		return headerStyle
	}
	return faintStyle
}
