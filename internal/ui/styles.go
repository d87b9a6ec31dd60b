// Package ui renders terminal output for the crowdsync CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	renderer = lipgloss.NewRenderer(os.Stdout)

	accentStyle lipgloss.Style
	passStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	failStyle   lipgloss.Style
	mutedStyle  lipgloss.Style
	headerStyle lipgloss.Style
)

func init() {
	buildStyles()
}

func buildStyles() {
	accentStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1d4ed8", Dark: "#60a5fa"})
	passStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#4ade80"})
	warnStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#fbbf24"})
	failStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f87171"}).Bold(true)
	mutedStyle = renderer.NewStyle().Faint(true)
	headerStyle = renderer.NewStyle().Bold(true).Underline(true)
}

// Init points rendering at w. Color is dropped when plain is set, when
// NO_COLOR is set, or when w is not a terminal.
func Init(w io.Writer, plain bool) {
	renderer = lipgloss.NewRenderer(w)
	if plain || os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		renderer.SetColorProfile(termenv.Ascii)
	}
	buildStyles()
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// RenderStatus colors a post status.
func RenderStatus(status string) string {
	switch status {
	case "published":
		return RenderPass(status)
	case "draft":
		return RenderWarn("in review")
	case "archived":
		return RenderMuted(status)
	default:
		return status
	}
}

// Table renders rows under headers with padded columns. Cells are measured
// by display width so styled cells line up.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(...string) string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if style != nil {
				cell = style(cell)
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString("\n")
	}

	line(headers, headerStyle.Render)
	for _, row := range rows {
		line(row, nil)
	}
	return b.String()
}

// KeyValue renders aligned "key: value" lines.
func KeyValue(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s %s\n", RenderMuted(fmt.Sprintf("%-*s", width+1, p[0]+":")), p[1])
	}
	return b.String()
}
