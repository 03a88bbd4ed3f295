package picker

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors used by the picker.
type Theme struct {
	Primary        lipgloss.Color // title, cursor
	Secondary      lipgloss.Color // selected row text
	Success        lipgloss.Color // active panes
	Text           lipgloss.Color
	TextMuted      lipgloss.Color // paths, hints
	BackgroundElem lipgloss.Color // selected row background
	Border         lipgloss.Color
}

func DarkTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#fab283"),
		Secondary:      lipgloss.Color("#5c9cf5"),
		Success:        lipgloss.Color("#7fd88f"),
		Text:           lipgloss.Color("#eeeeee"),
		TextMuted:      lipgloss.Color("#808080"),
		BackgroundElem: lipgloss.Color("#1e1e1e"),
		Border:         lipgloss.Color("#484848"),
	}
}

// LightTheme is for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#b35c00"),
		Secondary:      lipgloss.Color("#0550ae"),
		Success:        lipgloss.Color("#116329"),
		Text:           lipgloss.Color("#1f2328"),
		TextMuted:      lipgloss.Color("#656d76"),
		BackgroundElem: lipgloss.Color("#f6f8fa"),
		Border:         lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// Styles are the lipgloss styles derived from a Theme. They are exported
// so other views (the tree command) render with the same palette.
type Styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style
	Active   lipgloss.Style
	Dim      lipgloss.Style
	Text     lipgloss.Style
	HintKey  lipgloss.Style
	HintDesc lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Header:   lipgloss.NewStyle().Foreground(t.Border),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.BackgroundElem),
		Active:   lipgloss.NewStyle().Foreground(t.Success),
		Dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		Text:     lipgloss.NewStyle().Foreground(t.Text),
		HintKey:  lipgloss.NewStyle().Foreground(t.Text),
		HintDesc: lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}
