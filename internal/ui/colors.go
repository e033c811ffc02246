package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/wsx/internal/models"
)

var styles = NewPalette("#E5A00D", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// Title renders s as a heading.
func Title(s string) string { return styles.title.Render(s) }

// Hint renders s as secondary text.
func Hint(s string) string { return styles.help.Render(s) }

// Outcome colors s by how a user's run ended.
func Outcome(o models.Outcome, s string) string {
	switch o {
	case models.Resolved:
		return styles.ok.Render(s)
	case models.Skipped:
		return styles.warn.Render(s)
	default:
		return styles.err.Render(s)
	}
}
