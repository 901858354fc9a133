package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/surge-downloader/odoo-images/internal/config"
)

var (
	// Colors
	ColorNeonPurple = lipgloss.Color("#bd93f9")
	ColorNeonPink   = lipgloss.Color("#ff79c6")
	ColorNeonCyan   = lipgloss.Color("#8be9fd")
	ColorSuccess    = lipgloss.Color("#50fa7b")
	ColorError      = lipgloss.Color("#ff5555")
	ColorWarning    = lipgloss.Color("#ffb86c")
	ColorText       = lipgloss.Color("#f8f8f2")
	ColorLightGray  = lipgloss.Color("#a4a9c4")
	ColorGray       = lipgloss.Color("#6272a4")
)

// Styles
var (
	TitleStyle     lipgloss.Style
	TextStyle      lipgloss.Style
	SubtextStyle   lipgloss.Style
	ErrorStyle     lipgloss.Style
	SuccessStyle   lipgloss.Style
	WarningStyle   lipgloss.Style
	HelpStyle      lipgloss.Style
	TabStyle       lipgloss.Style
	ActiveTabStyle lipgloss.Style
)

func init() {
	buildStyles()
}

// ApplyTheme switches the palette. Adaptive asks the terminal for its background.
func ApplyTheme(theme int) {
	var dark bool
	switch theme {
	case config.ThemeLight:
		dark = false
	case config.ThemeDark:
		dark = true
	default:
		dark = termenv.HasDarkBackground()
	}

	if dark {
		ColorNeonPurple = lipgloss.Color("#bd93f9")
		ColorNeonPink = lipgloss.Color("#ff79c6")
		ColorNeonCyan = lipgloss.Color("#8be9fd")
		ColorText = lipgloss.Color("#f8f8f2")
		ColorLightGray = lipgloss.Color("#a4a9c4")
		ColorGray = lipgloss.Color("#6272a4")
	} else {
		ColorNeonPurple = lipgloss.Color("#6c3fc4")
		ColorNeonPink = lipgloss.Color("#c0266f")
		ColorNeonCyan = lipgloss.Color("#0b7285")
		ColorText = lipgloss.Color("#282a36")
		ColorLightGray = lipgloss.Color("#555a73")
		ColorGray = lipgloss.Color("#8a8fa8")
	}
	buildStyles()
}

func buildStyles() {
	TitleStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPurple).
		Bold(true)

	TextStyle = lipgloss.NewStyle().
		Foreground(ColorText)

	SubtextStyle = lipgloss.NewStyle().
		Foreground(ColorLightGray)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(ColorError).
		Bold(true)

	SuccessStyle = lipgloss.NewStyle().
		Foreground(ColorSuccess).
		Bold(true)

	WarningStyle = lipgloss.NewStyle().
		Foreground(ColorWarning).
		Bold(true)

	HelpStyle = lipgloss.NewStyle().
		Foreground(ColorGray)

	TabStyle = lipgloss.NewStyle().
		Foreground(ColorLightGray).
		Padding(DefaultPaddingY, DefaultPaddingX)

	ActiveTabStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPink).
		Bold(true).
		Underline(true).
		Padding(DefaultPaddingY, DefaultPaddingX)
}
