// Package ui provides the visual styling and small reusable widgets for the
// yewchat terminal client, with light/dark mode support.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light mode colors (default)
	LightBackground = lipgloss.Color("#f3f4f6") // gray-100
	LightForeground = lipgloss.Color("#1f2937") // gray-800
	LightPrimary    = lipgloss.Color("#7c3aed") // violet-600
	LightAccent     = lipgloss.Color("#2563eb") // blue-600
	LightSecondary  = lipgloss.Color("#e5e7eb") // gray-200
	LightMuted      = lipgloss.Color("#6b7280") // gray-500
	LightBorder     = lipgloss.Color("#d1d5db") // gray-300
	LightCard       = lipgloss.Color("#ffffff") // white

	// Dark mode colors
	DarkBackground = lipgloss.Color("#111827") // gray-900
	DarkForeground = lipgloss.Color("#f9fafb") // gray-50
	DarkPrimary    = lipgloss.Color("#a78bfa") // violet-400
	DarkAccent     = lipgloss.Color("#60a5fa") // blue-400
	DarkSecondary  = lipgloss.Color("#1f2937") // gray-800
	DarkMuted      = lipgloss.Color("#9ca3af") // gray-400
	DarkBorder     = lipgloss.Color("#374151") // gray-700
	DarkCard       = lipgloss.Color("#1f2937") // gray-800

	// Semantic colors (same in both modes)
	Success = lipgloss.Color("#22c55e") // green-500
	Warning = lipgloss.Color("#eab308") // yellow-500
	Danger  = lipgloss.Color("#ef4444") // red-500
)

// Theme holds the current color scheme.
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Secondary:  LightSecondary,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Secondary:  DarkSecondary,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// DetectTheme picks a theme from terminal hints, defaulting to light mode.
func DetectTheme() Theme {
	// COLORFGBG is "foreground;background"; low background indexes mean a
	// dark terminal.
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if (bgIdx >= 0 && bgIdx <= 6) || bgIdx == 8 {
					return DarkTheme()
				}
			}
		}
	}

	if os.Getenv("YEWCHAT_DARK_MODE") == "1" {
		return DarkTheme()
	}

	return LightTheme()
}

// Styles holds every styled component the chat screens draw with.
type Styles struct {
	Theme Theme

	// Layout
	Header  lipgloss.Style
	Sidebar lipgloss.Style
	Footer  lipgloss.Style

	// Text
	Title     lipgloss.Style
	Body      lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	Author    lipgloss.Style
	Timestamp lipgloss.Style
	GifLink   lipgloss.Style

	// Status
	StatusOK   lipgloss.Style
	StatusWarn lipgloss.Style
	StatusErr  lipgloss.Style

	// Interactive
	Prompt lipgloss.Style
	Hint   lipgloss.Style

	// Picker
	PickerBox    lipgloss.Style
	PickerCell   lipgloss.Style
	PickerCursor lipgloss.Style

	// Misc
	Badge   lipgloss.Style
	Divider lipgloss.Style
	Spinner lipgloss.Style
}

// NewStyles creates a Styles instance for the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Padding(0, 1).
			Bold(true),

		Sidebar: lipgloss.NewStyle().
			Padding(0, 1).
			BorderRight(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(theme.Border),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Author: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Timestamp: lipgloss.NewStyle().
			Foreground(theme.Muted),

		GifLink: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Underline(true),

		StatusOK: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		StatusErr: lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Hint: lipgloss.NewStyle().
			Foreground(theme.Muted),

		PickerBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		PickerCell: lipgloss.NewStyle().
			Padding(0, 1),

		PickerCursor: lipgloss.NewStyle().
			Padding(0, 1).
			Background(theme.Secondary).
			Bold(true),

		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),
	}
}

// DefaultStyles returns styles with the auto-detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// BadgeFor renders an avatar badge on the user's assigned palette color.
func (s Styles) BadgeFor(color, initials string) string {
	return s.Badge.Background(lipgloss.Color(color)).Render(initials)
}

// RenderDivider returns a horizontal divider of the given width.
func (s Styles) RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
