package tui

import "github.com/charmbracelet/lipgloss"

var (
	primary     = lipgloss.Color("#8BC34A")
	muted       = lipgloss.Color("#6b7a90")
	destructive = lipgloss.Color("#e53935")
	info        = lipgloss.Color("#2196F3")
)

// Styles groups the lipgloss styles used by the chat view
type Styles struct {
	Title      lipgloss.Style
	Username   lipgloss.Style
	Body       lipgloss.Style
	Selected   lipgloss.Style
	Alert      lipgloss.Style
	Status     lipgloss.Style
	Suggestion lipgloss.Style
	Help       lipgloss.Style
	Prompt     lipgloss.Style
}

// DefaultStyles returns the default palette
func DefaultStyles() Styles {
	return Styles{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(primary),
		Username:   lipgloss.NewStyle().Bold(true).Foreground(info),
		Body:       lipgloss.NewStyle(),
		Selected:   lipgloss.NewStyle().Foreground(primary).Bold(true),
		Alert:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(destructive).Padding(0, 1),
		Status:     lipgloss.NewStyle().Foreground(destructive),
		Suggestion: lipgloss.NewStyle().Foreground(muted).Italic(true),
		Help:       lipgloss.NewStyle().Foreground(muted),
		Prompt:     lipgloss.NewStyle().Foreground(primary),
	}
}
