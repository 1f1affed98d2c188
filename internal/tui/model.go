// Package tui is the terminal front end for a gallery widget: a folder
// tab bar, the record grid as a scrolling list, and a preview pane for
// generation metadata and prompt diffs.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

// sortCycle is the order the sort key steps through.
var sortCycle = []gallery.Sort{gallery.SortNewest, gallery.SortOldest, gallery.SortNameAsc, gallery.SortNameDesc}

// chromeRows is the number of rows used by everything but the list.
const chromeRows = 5

type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputCollection
)

// eventMsg carries one pushed event, or the end of the stream.
type eventMsg struct {
	ev models.Event
	ok bool
}

// refreshMsg carries a finished snapshot fetch.
type refreshMsg struct {
	token   uint64
	folders models.FolderMap
	err     error
}

// Params holds what a Model drives.
type Params struct {
	Gallery *widget.Gallery
	// Surface must be the surface Gallery renders onto.
	Surface *render.MemorySurface
	Fetcher widget.Fetcher
	// Events is the pushed event stream. Nil runs without live updates.
	Events <-chan models.Event
	Logger *slog.Logger
}

// Model is the bubbletea model for the gallery browser. All gallery
// calls happen in Update, so the widget is only touched from the
// program's goroutine.
type Model struct {
	gallery *widget.Gallery
	surface *render.MemorySurface
	fetcher widget.Fetcher
	events  <-chan models.Event
	logger  *slog.Logger
	ctx     context.Context

	width  int
	height int

	// cursor indexes surface.Cells() and always points at a record
	// cell when there is one. selected is that cell's ID, used to find
	// it again after a re-render.
	cursor   int
	selected string

	input     inputMode
	inputText string

	showPreview bool
	mark        *models.FileRecord
	diff        []metadata.DiffSegment

	flash   string
	refresh bool
}

// New creates the model. The gallery is opened; the first snapshot is
// fetched by Init.
func New(ctx context.Context, p Params) Model {
	p.Gallery.Open()

	return Model{
		gallery: p.Gallery,
		surface: p.Surface,
		fetcher: p.Fetcher,
		events:  p.Events,
		logger:  p.Logger,
		ctx:     ctx,
		width:   100,
		height:  30,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startRefresh(), m.waitForEvent())
}

// startRefresh issues a refresh token and fetches in the background.
func (m Model) startRefresh() tea.Cmd {
	token := m.gallery.BeginRefresh()
	fetcher := m.fetcher
	ctx := m.ctx

	return func() tea.Msg {
		folders, err := fetcher.Snapshot(ctx)
		return refreshMsg{token: token, folders: folders, err: err}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}

	events := m.events

	return func() tea.Msg {
		ev, ok := <-events
		return eventMsg{ev: ev, ok: ok}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sync()

		return m, nil

	case refreshMsg:
		if m.gallery.CompleteRefresh(msg.token, msg.folders, msg.err) && msg.err != nil {
			m.flash = "refresh failed: " + msg.err.Error()
		}

		m.sync()

		return m, nil

	case eventMsg:
		if !msg.ok {
			m.flash = "event stream closed"
			return m, nil
		}

		refetch, err := m.gallery.HandleEvent(msg.ev)
		if err != nil {
			m.logger.Warn("event rejected", slog.String("type", msg.ev.Type), slog.String("error", err.Error()))
		}

		m.sync()

		if refetch {
			return m, tea.Batch(m.startRefresh(), m.waitForEvent())
		}

		return m, m.waitForEvent()

	case tea.KeyMsg:
		if m.input != inputNone {
			return m.updateInput(msg)
		}

		return m.updateKey(msg)
	}

	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""

	switch {
	case isQuit(msg):
		m.gallery.Close()
		return m, tea.Quit

	case isBack(msg):
		m.showPreview = false
		m.diff = nil
		m.mark = nil

	case isUp(msg):
		m.move(-1)

	case isDown(msg):
		m.move(1)

	case isKey(msg, "pgup"):
		m.move(-m.listRows())

	case isKey(msg, "pgdown"):
		m.move(m.listRows())

	case isPrevFolder(msg):
		m.stepFolder(-1)

	case isNextFolder(msg):
		m.stepFolder(1)

	case isKey(msg, "/"):
		m.input = inputSearch
		m.inputText = m.gallery.View().SearchText

	case isKey(msg, "s"):
		m.cycleSort()

	case isKey(msg, "f"):
		if rec, ok := m.current(); ok {
			fav, err := m.gallery.ToggleFavorite(rec.URL)
			switch {
			case err != nil:
				m.flash = err.Error()
			case fav:
				m.flash = "★ " + rec.Name
			default:
				m.flash = "unstarred " + rec.Name
			}
		}

	case isKey(msg, "v"):
		m.cycleView()

	case isKey(msg, "a"):
		if _, ok := m.current(); ok {
			m.input = inputCollection
			m.inputText = ""
		}

	case isKey(msg, "x"):
		m.removeFromCollection()

	case isKey(msg, "p"):
		m.showPreview = !m.showPreview
		m.diff = nil

	case isKey(msg, "d"):
		m.markForDiff()

	case isKey(msg, "r"):
		m.flash = "refreshing..."
		m.sync()

		return m, m.startRefresh()
	}

	m.sync()

	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case isKey(msg, "ctrl+c"):
		m.gallery.Close()
		return m, tea.Quit

	case isBack(msg):
		if m.input == inputSearch {
			m.gallery.SetSearch("")
		}

		m.input = inputNone
		m.inputText = ""

	case isEnter(msg):
		if m.input == inputCollection {
			m.addToCollection(strings.TrimSpace(m.inputText))
		}

		m.input = inputNone

	case msg.Type == tea.KeyBackspace:
		if r := []rune(m.inputText); len(r) > 0 {
			m.inputText = string(r[:len(r)-1])
		}

		if m.input == inputSearch {
			m.gallery.SetSearch(m.inputText)
		}

	case msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace:
		if msg.Type == tea.KeySpace {
			m.inputText += " "
		} else {
			m.inputText += string(msg.Runes)
		}

		if m.input == inputSearch {
			m.gallery.SetSearch(m.inputText)
		}
	}

	m.sync()

	return m, nil
}

// --- actions ---

func (m *Model) stepFolder(delta int) {
	folders := m.gallery.Folders()
	if len(folders) == 0 {
		return
	}

	idx := -1

	if mode, _ := m.gallery.Mode(); mode == widget.ModeFolder {
		for i, f := range folders {
			if f == m.gallery.View().CurrentFolder {
				idx = i
				break
			}
		}
	}

	next := (idx + delta + len(folders)) % len(folders)
	if idx == -1 && delta < 0 {
		next = len(folders) - 1
	}

	if err := m.gallery.SelectFolder(folders[next]); err != nil {
		m.flash = err.Error()
		return
	}

	m.resetCursor()
}

func (m *Model) cycleSort() {
	current := m.gallery.View().Sort
	next := sortCycle[0]

	for i, s := range sortCycle {
		if s == current {
			next = sortCycle[(i+1)%len(sortCycle)]
			break
		}
	}

	if err := m.gallery.SetSort(string(next)); err != nil {
		m.flash = err.Error()
		return
	}

	m.flash = "sort: " + string(next)
}

// cycleView steps folder -> favorites -> each collection -> folder.
func (m *Model) cycleView() {
	mode, name := m.gallery.Mode()

	collections, err := m.gallery.Collections()
	if err != nil {
		m.flash = err.Error()
		return
	}

	switch mode {
	case widget.ModeFolder:
		m.gallery.ShowFavorites()
	case widget.ModeFavorites:
		if len(collections) == 0 {
			m.gallery.ShowFolder()
			break
		}

		m.viewCollection(collections[0].Name)
	case widget.ModeCollection:
		for i, c := range collections {
			if c.Name == name && i+1 < len(collections) {
				m.viewCollection(collections[i+1].Name)
				m.resetCursor()

				return
			}
		}

		m.gallery.ShowFolder()
	}

	m.resetCursor()
}

func (m *Model) viewCollection(name string) {
	if err := m.gallery.ViewCollection(name); err != nil {
		m.flash = err.Error()
	}
}

func (m *Model) addToCollection(name string) {
	rec, ok := m.current()
	if !ok || name == "" {
		return
	}

	if err := m.gallery.CreateCollection(name); err != nil && !errors.Is(err, gerrors.ErrCollectionExists) {
		m.flash = err.Error()
		return
	}

	if err := m.gallery.AddToCollection(name, rec.URL); err != nil {
		m.flash = err.Error()
		return
	}

	m.flash = fmt.Sprintf("added %s to %s", rec.Name, name)
}

func (m *Model) removeFromCollection() {
	mode, name := m.gallery.Mode()
	rec, ok := m.current()

	if mode != widget.ModeCollection || !ok {
		return
	}

	if err := m.gallery.RemoveFromCollection(name, rec.URL); err != nil {
		m.flash = err.Error()
		return
	}

	m.flash = fmt.Sprintf("removed %s from %s", rec.Name, name)
}

// markForDiff marks the selected record, or diffs it against the mark.
func (m *Model) markForDiff() {
	rec, ok := m.current()
	if !ok {
		return
	}

	if m.mark == nil || m.mark.URL == rec.URL {
		m.mark = &rec
		m.diff = nil
		m.flash = "marked " + rec.Name + "; press d on another image to compare"

		return
	}

	m.diff = metadata.DiffPrompts(metadata.PositivePrompt(m.mark.Metadata), metadata.PositivePrompt(rec.Metadata))
	m.showPreview = true
	m.flash = "prompt diff: " + m.mark.Name + " → " + rec.Name
	m.mark = nil
}

// --- cursor and scrolling ---

func (m *Model) move(delta int) {
	cells := m.surface.Cells()
	records := recordIndices(cells)

	if len(records) == 0 {
		return
	}

	pos := 0
	for i, idx := range records {
		if idx == m.cursor {
			pos = i
			break
		}
	}

	pos += delta
	pos = max(0, min(pos, len(records)-1))

	m.cursor = records[pos]
	m.selected = cells[m.cursor].ID
}

func (m *Model) resetCursor() {
	m.cursor = 0
	m.selected = ""
	m.surface.SetScrollOffset(0)
}

// sync re-locates the selection after the surface changed, loads the
// next page when the cursor nears the end, keeps the cursor on screen
// and reports visible cells to the lazy loader.
func (m *Model) sync() {
	cells := m.surface.Cells()

	if m.cursor >= len(cells)-1 && m.gallery.Renderer().HasMore() {
		m.gallery.LoadMore()
		cells = m.surface.Cells()
	}

	records := recordIndices(cells)
	if len(records) == 0 {
		m.cursor = 0
		m.selected = ""

		return
	}

	found := false

	if m.selected != "" {
		for _, idx := range records {
			if cells[idx].ID == m.selected {
				m.cursor = idx
				found = true

				break
			}
		}
	}

	if !found {
		// The selection is gone; take the next record at or after the
		// old position.
		prev := m.cursor
		m.cursor = records[len(records)-1]

		for _, idx := range records {
			if idx >= prev {
				m.cursor = idx
				break
			}
		}

		m.selected = cells[m.cursor].ID
	}

	rows := m.listRows()
	offset := m.surface.ScrollOffset()

	switch {
	case m.cursor < offset:
		offset = m.cursor
		// Keep the date header of the first visible record on screen.
		if offset > 0 && cells[offset-1].Kind == render.CellSeparator {
			offset--
		}
	case m.cursor >= offset+rows:
		offset = m.cursor - rows + 1
	}

	offset = max(0, min(offset, max(0, len(cells)-rows)))
	m.surface.SetScrollOffset(offset)

	for _, c := range cells[offset:min(len(cells), offset+rows)] {
		if c.Lazy {
			m.gallery.Renderer().Visible(c.ID)
		}
	}
}

func (m Model) listRows() int {
	return max(1, m.height-chromeRows)
}

// current returns the selected record.
func (m Model) current() (models.FileRecord, bool) {
	cells := m.surface.Cells()
	if m.cursor < 0 || m.cursor >= len(cells) || cells[m.cursor].Kind != render.CellRecord {
		return models.FileRecord{}, false
	}

	return cells[m.cursor].Record, true
}

func recordIndices(cells []*render.Cell) []int {
	var out []int
	for i, c := range cells {
		if c.Kind == render.CellRecord {
			out = append(out, i)
		}
	}

	return out
}
