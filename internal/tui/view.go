package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.tabs())
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n\n")

	list := m.list()

	if m.showPreview {
		listWidth := m.width * 3 / 5
		list = lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(listWidth).Render(list),
			previewStyle.Width(max(20, m.width-listWidth-4)).Render(m.preview()),
		)
	}

	b.WriteString(list)
	b.WriteString("\n")
	b.WriteString(m.footer())

	return b.String()
}

func (m Model) tabs() string {
	mode, name := m.gallery.Mode()
	current := m.gallery.View().CurrentFolder

	parts := []string{titleStyle.Render("Gallery")}

	for _, f := range m.gallery.Folders() {
		if mode == widget.ModeFolder && f == current {
			parts = append(parts, tabActiveStyle.Render(f))
		} else {
			parts = append(parts, tabInactiveStyle.Render(f))
		}
	}

	switch mode {
	case widget.ModeFavorites:
		parts = append(parts, tabActiveStyle.Render("★ "+widget.FavoritesLabel))
	case widget.ModeCollection:
		parts = append(parts, tabActiveStyle.Render("▤ "+name))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) status() string {
	text := m.surface.Status()
	if strings.HasPrefix(text, "Refresh failed") {
		return errorStyle.Render(text)
	}

	if q := m.gallery.View().SearchText; q != "" && m.input != inputSearch {
		text += "  search: " + q
	}

	return statusStyle.Render(text)
}

func (m Model) list() string {
	if msg := m.surface.Message(); msg != "" {
		return mutedStyle.Render(msg)
	}

	cells := m.surface.Cells()
	offset := m.surface.ScrollOffset()
	end := min(len(cells), offset+m.listRows())

	lines := make([]string, 0, end-offset)

	for i := offset; i < end; i++ {
		lines = append(lines, m.line(cells[i], i == m.cursor))
	}

	if end == len(cells) && m.gallery.Renderer().HasMore() {
		lines = append(lines, mutedStyle.Render("  ..."))
	}

	return strings.Join(lines, "\n")
}

func (m Model) line(c *render.Cell, selected bool) string {
	if c.Kind == render.CellSeparator {
		return separatorStyle.Render("── " + c.Date + " ──")
	}

	marker := "  "
	if selected {
		marker = "> "
	}

	star := " "
	if c.Favorite {
		star = "★"
	}

	text := marker + star + " " + c.Record.Name
	if c.Record.Date != "" {
		text += "  " + mutedStyle.Render(c.Record.Date)
	}

	if len(c.Record.Tags) > 0 {
		text += "  " + mutedStyle.Render("#"+strings.Join(c.Record.Tags, " #"))
	}

	if selected {
		return selectedStyle.Render(text)
	}

	return normalStyle.Render(text)
}

func (m Model) preview() string {
	if m.diff != nil {
		var b strings.Builder

		for _, seg := range m.diff {
			switch seg.Op {
			case metadata.DiffDelete:
				b.WriteString(deleteStyle.Render(seg.Text))
			case metadata.DiffInsert:
				b.WriteString(insertStyle.Render(seg.Text))
			default:
				b.WriteString(seg.Text)
			}
		}

		return b.String()
	}

	rec, ok := m.current()
	if !ok {
		return mutedStyle.Render("nothing selected")
	}

	text := metadata.Preview(rec.Metadata)
	if text == "" {
		text = "no metadata\n"
	}

	if cells := m.surface.Cells(); m.cursor < len(cells) && !cells[m.cursor].Lazy {
		text += "Source: " + cells[m.cursor].Src + "\n"
	}

	return text
}

func (m Model) footer() string {
	switch m.input {
	case inputSearch:
		return "search: " + m.inputText + "█"
	case inputCollection:
		return "add to collection: " + m.inputText + "█"
	}

	if m.flash != "" {
		return statusStyle.Render(m.flash)
	}

	return mutedStyle.Render(helpText)
}
