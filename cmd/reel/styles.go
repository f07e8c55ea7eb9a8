package main

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#E5A00D")
	dim    = lipgloss.Color("#6B7280")
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#EF4444")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
	accentStyle  = lipgloss.NewStyle().Foreground(accent)
	matchStyle   = lipgloss.NewStyle().Foreground(accent).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	headerStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// clearLine wipes a spinner line
const clearLine = "\r\033[K"
