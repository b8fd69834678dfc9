package ui

import "github.com/charmbracelet/lipgloss"

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // cyan, headings
	colorAccent  = lipgloss.Color("#FFD700") // gold, warnings
	colorSuccess = lipgloss.Color("#00E676")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#8C8C8C")
	colorBlue    = lipgloss.Color("#5B8DEF") // running
)

// Status icons.
const (
	iconQueued    = "·"
	iconRunning   = "◎"
	iconSucceeded = "✓"
	iconFailed    = "✗"
)

var (
	styleHeading = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleRunning = lipgloss.NewStyle().
			Foreground(colorBlue)

	styleSucceeded = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleFailed = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	styleWarning = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)
)
