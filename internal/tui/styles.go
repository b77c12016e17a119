package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorError    = lipgloss.Color("#FF0000")
	ColorWarn     = lipgloss.Color("#FFCC00")
	ColorFixed    = lipgloss.Color("#00CCFF")
	ColorOK       = lipgloss.Color("#00FF00")
	ColorMuted    = lipgloss.Color("#666666")
	ColorAccent   = lipgloss.Color("#7D56F4")
	ColorWhite    = lipgloss.Color("#FFFFFF")
)

// Styles holds all the application styles
type Styles struct {
	App              lipgloss.Style
	Header           lipgloss.Style
	Title            lipgloss.Style
	Subtitle         lipgloss.Style
	StatusBar        lipgloss.Style
	HelpBar          lipgloss.Style
	Panel            lipgloss.Style
	PanelTitle       lipgloss.Style
	List             lipgloss.Style
	ListItem         lipgloss.Style
	ListItemSelected lipgloss.Style
	StatusOK         lipgloss.Style
	StatusFixed      lipgloss.Style
	StatusWarn       lipgloss.Style
	StatusError      lipgloss.Style
	Bar              lipgloss.Style
	Muted            lipgloss.Style
	Bold             lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() Styles {
	return Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(ColorAccent).
			Padding(0, 1).
			MarginBottom(1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent),

		Subtitle: lipgloss.NewStyle().
			Foreground(ColorMuted),

		StatusBar: lipgloss.NewStyle().
			Foreground(ColorMuted).
			MarginTop(1),

		HelpBar: lipgloss.NewStyle().
			Foreground(ColorMuted).
			MarginTop(1),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),

		PanelTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent),

		List: lipgloss.NewStyle(),

		ListItem: lipgloss.NewStyle().
			PaddingLeft(2),

		ListItemSelected: lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(ColorWhite).
			Background(ColorAccent),

		StatusOK: lipgloss.NewStyle().
			Foreground(ColorOK),

		StatusFixed: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorFixed),

		StatusWarn: lipgloss.NewStyle().
			Foreground(ColorWarn),

		StatusError: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError),

		Bar: lipgloss.NewStyle().
			Foreground(ColorAccent),

		Muted: lipgloss.NewStyle().
			Foreground(ColorMuted),

		Bold: lipgloss.NewStyle().
			Bold(true),
	}
}

// StatusStyle returns the style for a rule verdict
func (s Styles) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "COMPLIANT", "UNDONE":
		return s.StatusOK
	case "FIXED":
		return s.StatusFixed
	case "NOT COMPLIANT", "NOT RUN":
		return s.StatusWarn
	default:
		return s.StatusError
	}
}

// RenderBar renders a horizontal bar for visualization
func RenderBar(width int, filled int, style lipgloss.Style) string {
	if width <= 0 {
		return ""
	}
	if filled > width {
		filled = width
	}
	return style.Render(strings.Repeat("█", filled) + strings.Repeat("░", width-filled))
}
