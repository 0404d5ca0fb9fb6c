package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/multiworld/config"
)

const defaultThemeName = "kanagawa"

// --- Kanagawa Dragon palette ---
const (
	kanagawaGreen     = "#98BB6C"
	kanagawaYellow    = "#FF9E3B"
	kanagawaRed       = "#FF5D62"
	kanagawaOrange    = "#FFA066"
	kanagawaCyan      = "#7E9CD8"
	kanagawaViolet    = "#957FB8"
	kanagawaLightText = "#DCD7BA"
	kanagawaMutedText = "#727169"
	kanagawaBorder    = "#363646"
)

// --- Terminal (ANSI-friendly) palette ---
const (
	terminalGreen     = "2"
	terminalYellow    = "3"
	terminalRed       = "1"
	terminalOrange    = "208"
	terminalCyan      = "6"
	terminalViolet    = "5"
	terminalLightText = "7"
	terminalMutedText = "8"
	terminalBorder    = "8"
)

// Colors is the palette a theme is built from.
type Colors struct {
	Green     lipgloss.TerminalColor
	Yellow    lipgloss.TerminalColor
	Red       lipgloss.TerminalColor
	Orange    lipgloss.TerminalColor
	Cyan      lipgloss.TerminalColor
	Violet    lipgloss.TerminalColor
	LightText lipgloss.TerminalColor
	MutedText lipgloss.TerminalColor
	Border    lipgloss.TerminalColor
}

// Theme holds the styles shared by the CLI and the watch TUI.
type Theme struct {
	Colors Colors

	Header    lipgloss.Style
	Title     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Italic    lipgloss.Style
	Accent    lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	StatusBar lipgloss.Style
}

var themeRegistry = map[string]func() Colors{
	"kanagawa": func() Colors {
		return Colors{
			Green:     lipgloss.Color(kanagawaGreen),
			Yellow:    lipgloss.Color(kanagawaYellow),
			Red:       lipgloss.Color(kanagawaRed),
			Orange:    lipgloss.Color(kanagawaOrange),
			Cyan:      lipgloss.Color(kanagawaCyan),
			Violet:    lipgloss.Color(kanagawaViolet),
			LightText: lipgloss.Color(kanagawaLightText),
			MutedText: lipgloss.Color(kanagawaMutedText),
			Border:    lipgloss.Color(kanagawaBorder),
		}
	},
	"terminal": func() Colors {
		return Colors{
			Green:     lipgloss.Color(terminalGreen),
			Yellow:    lipgloss.Color(terminalYellow),
			Red:       lipgloss.Color(terminalRed),
			Orange:    lipgloss.Color(terminalOrange),
			Cyan:      lipgloss.Color(terminalCyan),
			Violet:    lipgloss.Color(terminalViolet),
			LightText: lipgloss.Color(terminalLightText),
			MutedText: lipgloss.Color(terminalMutedText),
			Border:    lipgloss.Color(terminalBorder),
		}
	},
}

var themeAliases = map[string]string{
	"kanagawa-dragon": "kanagawa",
	"ansi":            "terminal",
}

// DefaultTheme is resolved once at startup from MULTIWORLD_THEME or the
// `tui.theme` config extension.
var DefaultTheme = New(getThemeName())

// New builds a theme from a registered palette name. Unknown names fall back
// to the default palette.
func New(name string) *Theme {
	return newThemeFromColors(resolveThemeColors(name))
}

// Names lists the registered palettes.
func Names() []string {
	names := make([]string, 0, len(themeRegistry))
	for name := range themeRegistry {
		names = append(names, name)
	}
	return names
}

// RenderHeader renders a section header.
func (t *Theme) RenderHeader(text string) string {
	return t.Header.Render(text)
}

// RenderStatus renders a one-line status with a success or error marker.
func (t *Theme) RenderStatus(ok bool, text string) string {
	if ok {
		return t.Success.Render("✓ ") + text
	}
	return t.Error.Render("✗ ") + text
}

// RenderBox wraps content in a rounded box with an optional title line.
func (t *Theme) RenderBox(title, content string) string {
	if title != "" {
		content = t.Title.Render(title) + "\n\n" + content
	}
	return t.Box.Render(content)
}

func newThemeFromColors(colors Colors) *Theme {
	return &Theme{
		Colors: colors,

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Cyan).
			MarginBottom(1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.LightText),

		Success: lipgloss.NewStyle().
			Foreground(colors.Green).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(colors.Red).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(colors.Yellow).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(colors.Cyan).
			Bold(true),

		Bold: lipgloss.NewStyle().
			Bold(true),

		Muted: lipgloss.NewStyle().
			Faint(true),

		Italic: lipgloss.NewStyle().
			Italic(true),

		Accent: lipgloss.NewStyle().
			Foreground(colors.Violet).
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(colors.Orange).
			Bold(true),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Border).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Foreground(colors.MutedText),
	}
}

func resolveThemeColors(name string) Colors {
	key := normalizeThemeName(name)
	if alias, ok := themeAliases[key]; ok {
		key = alias
	}
	if builder, ok := themeRegistry[key]; ok {
		return builder()
	}
	return themeRegistry[defaultThemeName]()
}

func normalizeThemeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, " ", "-")
	return strings.ReplaceAll(normalized, "_", "-")
}

func getThemeName() string {
	if name := normalizeThemeName(os.Getenv("MULTIWORLD_THEME")); name != "" {
		return name
	}

	cfg, err := config.LoadDefault()
	if err != nil || cfg == nil {
		return defaultThemeName
	}

	var tuiCfg struct {
		Theme string `yaml:"theme"`
	}
	if err := cfg.UnmarshalExtension("tui", &tuiCfg); err == nil && tuiCfg.Theme != "" {
		return tuiCfg.Theme
	}
	return defaultThemeName
}
