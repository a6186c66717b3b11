package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - dark theme inspired by Catppuccin Mocha
var (
	ColorSurface2 = lipgloss.Color("#585b70")
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")

	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
	ColorPeach    = lipgloss.Color("#fab387")
	ColorLavender = lipgloss.Color("#b4befe")
)

// Text styles for CLI reports.
var (
	Title = lipgloss.NewStyle().Bold(true).Foreground(ColorLavender)
	Label = lipgloss.NewStyle().Foreground(ColorSubtext0)
	Value = lipgloss.NewStyle().Foreground(ColorText)
	Dim   = lipgloss.NewStyle().Foreground(ColorOverlay0)
	Hint  = lipgloss.NewStyle().Foreground(ColorMauve).Italic(true)
	Box   = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSurface2).
		Padding(0, 1)
)

// StatusColor maps queue, spawn and budget statuses to a color. Unknown
// statuses are dimmed.
func StatusColor(status string) lipgloss.Color {
	switch s := strings.ToLower(strings.TrimSpace(status)); {
	case s == "ok", s == "sent", s == "forwarded", s == "completed", s == "recorded", s == "answered":
		return ColorGreen
	case s == "warning", s == "pending", s == "processing", s == "recording", s == "forwarding",
		s == "dispatching", s == "sending", strings.HasPrefix(s, "needs_"):
		return ColorYellow
	case s == "critical":
		return ColorPeach
	case s == "exceeded", s == "error", s == "failed":
		return ColorRed
	case s == "active":
		return ColorBlue
	default:
		return ColorOverlay0
	}
}

// Status renders status in its color.
func Status(status string) string {
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Bold(true).Render(status)
}

// StatusIndicator returns a one-cell marker for status.
func StatusIndicator(status string) string {
	marker := "○"
	switch StatusColor(status) {
	case ColorGreen:
		marker = "●"
	case ColorYellow, ColorBlue:
		marker = "◐"
	case ColorPeach, ColorRed:
		marker = "✕"
	}
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Render(marker)
}

// Bar renders a width-cell gauge filled to fraction, colored by status.
func Bar(fraction float64, width int, status string) string {
	if width <= 0 {
		return ""
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	on := lipgloss.NewStyle().Foreground(StatusColor(status)).Render(strings.Repeat("█", filled))
	off := Dim.Render(strings.Repeat("░", width-filled))
	return on + off
}
