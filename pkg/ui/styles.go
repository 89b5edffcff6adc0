package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/pterm/pterm"
)

// Colors adapt to light and dark terminal backgrounds
var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#007ACC", Dark: "#3D9EFF"}
	successColor = lipgloss.AdaptiveColor{Light: "#28A745", Dark: "#4CDD76"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#DC3545", Dark: "#FF6B7D"}
	warningColor = lipgloss.AdaptiveColor{Light: "#FFC107", Dark: "#FFD54F"}
	headingColor = lipgloss.AdaptiveColor{Light: "#212529", Dark: "#F8F9FA"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#6C757D", Dark: "#ADB5BD"}
	pathColor    = lipgloss.AdaptiveColor{Light: "#6C757D", Dark: "#A0A8B0"}
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(headingColor).Bold(true)
	phaseStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	pathStyle    = lipgloss.NewStyle().Foreground(pathColor).Italic(true)

	addedStyle   = lipgloss.NewStyle().Foreground(successColor)
	removedStyle = lipgloss.NewStyle().Foreground(errorColor)
)

// Indicators prefix result lines
const (
	indicatorSuccess    = "✓"
	indicatorFailure    = "✗"
	indicatorWarning    = "!"
	indicatorPending    = "•"
	indicatorRolledBack = "↺"
)

// stateBadge returns the pterm style for a transaction's final state
func stateBadge(state string) *pterm.Style {
	switch state {
	case "committed", "verified":
		return pterm.NewStyle(pterm.BgGreen, pterm.FgWhite, pterm.Bold)
	case "rolled_back":
		return pterm.NewStyle(pterm.BgYellow, pterm.FgBlack, pterm.Bold)
	case "rollback_failed":
		return pterm.NewStyle(pterm.BgRed, pterm.FgWhite, pterm.Bold)
	default:
		return pterm.NewStyle(pterm.FgGray)
	}
}
