package scrollbar

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/grovetools/multiworld/tui/theme"
)

const (
	thumbChar = "█"
	trackChar = "░"
)

// Thumb reports, for each of height rows, whether the row belongs to the
// scrollbar thumb. total is the content line count, visible the number of
// lines shown and percent the scroll position in [0,1].
func Thumb(total, visible, height int, percent float64) []bool {
	rows := make([]bool, max(height, 0))
	if height <= 0 || total == 0 {
		return rows
	}
	if total <= visible {
		for i := range rows {
			rows[i] = true
		}
		return rows
	}

	size := max(1, height*visible/total)
	percent = min(max(percent, 0), 1)
	span := height - size
	start := min(max(int(float64(span)*percent+0.5), 0), span)
	for i := start; i < start+size; i++ {
		rows[i] = true
	}
	return rows
}

// Overlay appends a scrollbar column to the visible viewport content.
func Overlay(vp *viewport.Model) string {
	lines := strings.Split(vp.View(), "\n")
	var rows []bool
	if vp.TotalLineCount() > 0 {
		rows = Thumb(vp.TotalLineCount(), vp.Height, len(lines), vp.ScrollPercent())
	}

	style := theme.DefaultTheme.Muted
	for i, line := range lines {
		switch {
		case i >= len(rows):
			lines[i] = line + " "
		case rows[i]:
			lines[i] = line + style.Render(thumbChar)
		default:
			lines[i] = line + style.Render(trackChar)
		}
	}
	return strings.Join(lines, "\n")
}
