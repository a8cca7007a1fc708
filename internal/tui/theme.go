package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorMantle   = lipgloss.Color("#181825")
	colorSurface1 = lipgloss.Color("#45475a")
	colorText     = lipgloss.Color("#cdd6f4")
	colorSubtext  = lipgloss.Color("#a6adc8")
	colorLavender = lipgloss.Color("#b4befe")
	colorSapphire = lipgloss.Color("#74c7ec")
	colorGreen    = lipgloss.Color("#a6e3a1")
	colorPeach    = lipgloss.Color("#fab387")
	colorRed      = lipgloss.Color("#f38ba8")

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface1).
			Foreground(colorText).
			Padding(0, 1)

	toastStyle = paneStyle.BorderForeground(colorLavender)

	titleStyle   = lipgloss.NewStyle().Foreground(colorSapphire).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorSubtext)
	hotStyle     = lipgloss.NewStyle().Foreground(colorPeach).Bold(true)
	timerStyle   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	overdueStyle = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	statusStyle  = lipgloss.NewStyle().Background(colorMantle).Foreground(colorSubtext)
)
