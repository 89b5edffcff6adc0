// Package ui renders plans, apply reports and journal history for the
// terminal (lipgloss, pterm), for plain text, or as JSON/YAML, and asks for
// confirmation before a plan is applied.
package ui
