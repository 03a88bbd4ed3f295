// Package picker is an interactive, filterable list of multiplexer panes.
package picker

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airbnb/appear/internal/mux"
)

// Picker lets the user choose one of Panes.
type Picker struct {
	Panes     []mux.Pane
	ThemeName string
}

type pickerModel struct {
	panes    []mux.Pane
	visible  []int // indices into panes matching the filter
	cursor   int
	filter   textinput.Model
	styles   Styles
	chosen   *mux.Pane
	canceled bool

	width  int
	height int
}

func newModel(panes []mux.Pane, theme Theme) *pickerModel {
	ti := textinput.New()
	ti.Placeholder = "filter by target, command or path"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Focus()

	m := &pickerModel{
		panes:  panes,
		filter: ti,
		styles: NewStyles(theme),
	}
	m.applyFilter()
	return m
}

// Run shows the picker until the user selects a pane or quits. The
// second result is false when nothing was selected.
func (p *Picker) Run(ctx context.Context) (mux.Pane, bool, error) {
	m := newModel(p.Panes, ThemeByName(p.ThemeName))
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil {
		return mux.Pane{}, false, fmt.Errorf("picker: %w", err)
	}
	if m.chosen == nil {
		return mux.Pane{}, false, nil
	}
	return *m.chosen, true, nil
}

func (m *pickerModel) Init() tea.Cmd {
	return textinput.Blink
}

// matches reports whether every word of query appears in the pane's
// target, command or path.
func matches(p mux.Pane, query string) bool {
	hay := strings.ToLower(strings.Join([]string{p.Target(), p.CommandName, p.CurrentPath}, " "))
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(hay, word) {
			return false
		}
	}
	return true
}

func (m *pickerModel) applyFilter() {
	query := m.filter.Value()
	m.visible = m.visible[:0]
	for i, p := range m.panes {
		if matches(p, query) {
			m.visible = append(m.visible, i)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *pickerModel) selected() *mux.Pane {
	if len(m.visible) == 0 {
		return nil
	}
	return &m.panes[m.visible[m.cursor]]
}

func (m *pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filter.Width = msg.Width - 4
		return m, nil
	}
	return m, nil
}

func (m *pickerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.canceled = true
		return m, tea.Quit

	case tea.KeyEnter:
		if p := m.selected(); p != nil {
			chosen := *p
			m.chosen = &chosen
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyUp, tea.KeyCtrlP:
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case tea.KeyDown, tea.KeyCtrlN:
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
		return m, nil
	}

	// Everything else edits the filter.
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m *pickerModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("appear"))
	b.WriteString("  ")
	b.WriteString(m.hint("↑↓", "select"))
	b.WriteString("  ")
	b.WriteString(m.hint("Enter", "reveal"))
	b.WriteString("  ")
	b.WriteString(m.hint("Esc", "quit"))
	b.WriteString("\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n")

	if len(m.visible) == 0 {
		b.WriteString(m.styles.Dim.Render("  No matching panes."))
		b.WriteString("\n")
		return b.String()
	}

	targetWidth := 0
	for _, i := range m.visible {
		if w := lipgloss.Width(m.panes[i].Target()); w > targetWidth {
			targetWidth = w
		}
	}

	first, last := m.window()
	for row := first; row < last; row++ {
		b.WriteString(m.renderRow(row, targetWidth))
		b.WriteString("\n")
	}
	if hidden := len(m.visible) - (last - first); hidden > 0 {
		b.WriteString(m.styles.Dim.Render(fmt.Sprintf("  ... %d more", hidden)))
		b.WriteString("\n")
	}
	return b.String()
}

// window returns the range of visible rows that fits the screen, keeping
// the cursor in view.
func (m *pickerModel) window() (int, int) {
	rows := len(m.visible)
	space := m.height - 3 // title, filter, overflow line
	if m.height == 0 || space >= rows {
		return 0, rows
	}
	if space < 1 {
		space = 1
	}
	first := 0
	if m.cursor >= space {
		first = m.cursor - space + 1
	}
	return first, first + space
}

func (m *pickerModel) renderRow(row, targetWidth int) string {
	p := m.panes[m.visible[row]]
	marker := " "
	if p.Active {
		marker = m.styles.Active.Render("*")
	}
	line := fmt.Sprintf("%s %s  %s", padRight(p.Target(), targetWidth), p.CommandName, p.CurrentPath)
	if m.width > 0 {
		line = truncate(line, m.width-4)
	}
	if row == m.cursor {
		return m.styles.Selected.Render("▸ ") + marker + m.styles.Selected.Render(line)
	}
	return "  " + marker + m.styles.Text.Render(line)
}

func (m *pickerModel) hint(key, desc string) string {
	return m.styles.HintKey.Render(key) + " " + m.styles.HintDesc.Render(desc)
}

// truncate cuts plain text s to at most maxLen cells.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// padRight pads s with spaces to the visible width.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}
