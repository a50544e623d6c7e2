// Красота

package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Цвета (можно настроить под бренд)
	primaryColor   = lipgloss.Color("62")  // Фиолетовый
	secondaryColor = lipgloss.Color("205") // Розовый
	grayColor      = lipgloss.Color("240")
	successColor   = lipgloss.Color("#04B575")
	errorColor     = lipgloss.Color("#FF0000")
)

// styles — набор стилей, привязанный к конкретному renderer.
//
// Renderer определяет цветовой профиль по writer: в pipe и в тестах вывод без ANSI.
type styles struct {
	header  lipgloss.Style
	step    lipgloss.Style
	tool    lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
	summary lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1).
			Bold(true),
		step:   r.NewStyle().Foreground(primaryColor).Bold(true),
		tool:   r.NewStyle().Foreground(secondaryColor).Bold(true),
		ok:     r.NewStyle().Foreground(successColor),
		failed: r.NewStyle().Foreground(errorColor).Bold(true),
		muted:  r.NewStyle().Foreground(grayColor),
		summary: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1),
	}
}
