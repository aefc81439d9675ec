package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")
	colorDim    = lipgloss.Color("#44475A")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	recordingStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	idleStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	waveStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	interimStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	scoreStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	disabledKeyStyle = lipgloss.NewStyle().
				Foreground(colorDim)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)
