package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme names accepted by the theme preference.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Theme is the palette used by the styled renderer.
type Theme struct {
	Name       string
	Primary    lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	Muted      lipgloss.Color
	Foreground lipgloss.Color
}

// DarkTheme is tuned for dark terminal backgrounds.
func DarkTheme() Theme {
	return Theme{
		Name:       ThemeDark,
		Primary:    lipgloss.Color("#89b4fa"),
		Success:    lipgloss.Color("#a6e3a1"),
		Warning:    lipgloss.Color("#f9e2af"),
		Error:      lipgloss.Color("#f38ba8"),
		Muted:      lipgloss.Color("#7f849c"),
		Foreground: lipgloss.Color("#cdd6f4"),
	}
}

// LightTheme is tuned for light terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Name:       ThemeLight,
		Primary:    lipgloss.Color("#1e66f5"),
		Success:    lipgloss.Color("#40a02b"),
		Warning:    lipgloss.Color("#df8e1d"),
		Error:      lipgloss.Color("#d20f39"),
		Muted:      lipgloss.Color("#8c8fa1"),
		Foreground: lipgloss.Color("#4c4f69"),
	}
}

// NoColorTheme returns a theme with empty colors (honors NO_COLOR).
// Lipgloss treats empty strings as "no color".
func NoColorTheme() Theme {
	return Theme{Name: "none"}
}

// ResolveTheme picks the palette for a theme preference.
// NO_COLOR wins over any preference; unknown names fall back to dark.
func ResolveTheme(name string) Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	if name == ThemeLight {
		return LightTheme()
	}
	return DarkTheme()
}
