package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3FA9F5"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00CCFF"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	special = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00FF99"))

	danger = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF0055"))

	dirStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	listSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#1F3A5F"))

	listNormalStyle = lipgloss.NewStyle()

	detailsBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3FA9F5")).
			Padding(0, 1)
)
