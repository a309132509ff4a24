// Package ui renders command output and runs interactive entry forms.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5A67D8")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E")).Underline(true)
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A")).
			Padding(0, 1)
)

// RenderPass styles a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles a heading or highlight.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted styles secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// ConfigureColor turns styling off when w is not a terminal or NO_COLOR is
// set.
func ConfigureColor(w io.Writer) {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
