package theme

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestResolveThemeColors(t *testing.T) {
	assert.Equal(t, lipgloss.Color(terminalRed), resolveThemeColors("ANSI").Red)
	assert.Equal(t, lipgloss.Color(terminalRed), resolveThemeColors(" terminal ").Red)
	assert.Equal(t, lipgloss.Color(kanagawaRed), resolveThemeColors("Kanagawa_Dragon").Red)
	assert.Equal(t, lipgloss.Color(kanagawaRed), resolveThemeColors("no-such-theme").Red)
	assert.ElementsMatch(t, []string{"kanagawa", "terminal"}, Names())
}

func TestThemeFromEnv(t *testing.T) {
	t.Setenv("MULTIWORLD_THEME", "terminal")
	assert.Equal(t, "terminal", getThemeName())
}

func TestRenderHelpers(t *testing.T) {
	th := New("terminal")
	assert.Contains(t, th.RenderStatus(true, "ready"), "✓")
	assert.Contains(t, th.RenderStatus(false, "missing"), "✗")
	assert.Contains(t, th.RenderStatus(false, "missing"), "missing")
	assert.Contains(t, th.RenderBox("Session", "body"), "Session")
}
