package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/state"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	folders models.FolderMap
	err     error
}

func (f *fakeFetcher) Snapshot(context.Context) (models.FolderMap, error) {
	return f.folders, f.err
}

func rec(name, prompt string, ts float64) models.FileRecord {
	return models.FileRecord{
		Name:      name,
		URL:       "/view?filename=" + name,
		Timestamp: ts,
		Date:      "2024-05-01 10:00:00",
		Metadata:  map[string]any{"positive_prompt": prompt},
	}
}

func testFolders() models.FolderMap {
	return models.FolderMap{
		"output": {
			"a-cat.png": rec("a-cat.png", "a red cat", 3),
			"b-dog.png": rec("b-dog.png", "a big dog", 2),
		},
		"output/2024": {
			"c-owl.png": rec("c-owl.png", "an owl", 1),
		},
	}
}

type harness struct {
	m       Model
	surface *render.MemorySurface
	fetcher *fakeFetcher
	events  chan models.Event
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()

	prefs, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { prefs.Close() })

	h := &harness{
		surface: render.NewMemorySurface(),
		fetcher: &fakeFetcher{folders: testFolders()},
		events:  make(chan models.Event, 4),
	}

	g := widget.New(h.surface, prefs, h.fetcher, widget.Options{PageSize: pageSize, BaseURL: "http://gallery"}, testLogger())

	h.m = New(context.Background(), Params{
		Gallery: g,
		Surface: h.surface,
		Fetcher: h.fetcher,
		Events:  h.events,
		Logger:  testLogger(),
	})
	h.m.width = 200
	h.m.height = 20

	h.send(h.m.startRefresh()())

	return h
}

func (h *harness) send(msgs ...tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	for _, msg := range msgs {
		var updated tea.Model
		updated, cmd = h.m.Update(msg)
		h.m = updated.(Model)
	}

	return cmd
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.send(runeKey(r))
	}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func keyOf(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func (h *harness) selected(t *testing.T) string {
	t.Helper()

	r, ok := h.m.current()
	require.True(t, ok, "no record selected")

	return r.Name
}

// --- loading and navigation ---

func TestModel_InitialFetchShowsFirstFolder(t *testing.T) {
	h := newHarness(t, 0)

	assert.Equal(t, "a-cat.png", h.selected(t))

	view := h.m.View()
	assert.Contains(t, view, "output/2024")
	assert.Contains(t, view, ">  a-cat.png")
	assert.Contains(t, view, "b-dog.png")
	assert.Contains(t, view, "── 2024-05-01 ──")
	assert.Contains(t, view, "output: 2 images (newest)")
}

func TestModel_MoveCursor(t *testing.T) {
	h := newHarness(t, 0)

	h.send(keyOf(tea.KeyDown))
	assert.Equal(t, "b-dog.png", h.selected(t))

	h.send(keyOf(tea.KeyDown))
	assert.Equal(t, "b-dog.png", h.selected(t), "stops at the last record")

	h.send(runeKey('k'))
	assert.Equal(t, "a-cat.png", h.selected(t))
}

func TestModel_SwitchFolder(t *testing.T) {
	h := newHarness(t, 0)

	h.send(keyOf(tea.KeyRight))
	assert.Equal(t, "output/2024", h.m.gallery.View().CurrentFolder)
	assert.Equal(t, "c-owl.png", h.selected(t))

	h.send(keyOf(tea.KeyRight))
	assert.Equal(t, "output", h.m.gallery.View().CurrentFolder, "wraps around")

	h.send(keyOf(tea.KeyLeft))
	assert.Equal(t, "output/2024", h.m.gallery.View().CurrentFolder)
}

func TestModel_Search(t *testing.T) {
	h := newHarness(t, 0)

	h.send(runeKey('/'))
	h.typeText("DOG")

	assert.Equal(t, "DOG", h.m.gallery.View().SearchText)
	assert.Equal(t, "b-dog.png", h.selected(t))
	assert.Contains(t, h.m.View(), "search: DOG")

	h.send(keyOf(tea.KeyBackspace))
	assert.Equal(t, "DO", h.m.gallery.View().SearchText)

	h.send(keyOf(tea.KeyEnter))
	assert.Equal(t, inputNone, h.m.input)
	assert.Equal(t, "DO", h.m.gallery.View().SearchText, "enter keeps the search")

	h.send(runeKey('/'), keyOf(tea.KeyEsc))
	assert.Empty(t, h.m.gallery.View().SearchText)
	assert.Len(t, h.surface.Records(), 2)
}

func TestModel_CycleSort(t *testing.T) {
	h := newHarness(t, 0)

	h.send(runeKey('s'))
	assert.Equal(t, gallery.SortOldest, h.m.gallery.View().Sort)
	assert.Equal(t, "a-cat.png", h.selected(t), "selection follows the record")

	h.send(runeKey('s'), runeKey('s'), runeKey('s'))
	assert.Equal(t, gallery.SortNewest, h.m.gallery.View().Sort)
}

// --- favorites and collections ---

func TestModel_FavoriteAndViewCycle(t *testing.T) {
	h := newHarness(t, 0)

	h.send(keyOf(tea.KeyDown), runeKey('f'))
	assert.Contains(t, h.m.flash, "b-dog.png")

	h.send(runeKey('v'))
	mode, _ := h.m.gallery.Mode()
	assert.Equal(t, widget.ModeFavorites, mode)
	assert.Equal(t, "b-dog.png", h.selected(t))
	assert.Contains(t, h.m.View(), "★ Favorites")

	h.send(runeKey('v'))
	mode, _ = h.m.gallery.Mode()
	assert.Equal(t, widget.ModeFolder, mode, "no collections, back to folder")
}

func TestModel_AddToCollection(t *testing.T) {
	h := newHarness(t, 0)

	h.send(runeKey('a'))
	assert.Equal(t, inputCollection, h.m.input)

	h.typeText("best")
	h.send(keyOf(tea.KeyEnter))
	assert.Equal(t, "added a-cat.png to best", h.m.flash)

	h.send(runeKey('v'), runeKey('v'))
	mode, name := h.m.gallery.Mode()
	assert.Equal(t, widget.ModeCollection, mode)
	assert.Equal(t, "best", name)
	assert.Equal(t, "a-cat.png", h.selected(t))

	h.send(runeKey('x'))
	assert.Equal(t, widget.MessageEmptyCollection, h.surface.Message())

	h.send(runeKey('v'))
	mode, _ = h.m.gallery.Mode()
	assert.Equal(t, widget.ModeFolder, mode)
}

// --- preview and diff ---

func TestModel_PreviewShowsMetadataAndSource(t *testing.T) {
	h := newHarness(t, 0)

	h.send(runeKey('p'))

	view := h.m.View()
	assert.Contains(t, view, "a red cat")
	assert.Contains(t, view, "http://gallery/view?filename=a-cat.png")
}

func TestModel_DiffPrompts(t *testing.T) {
	h := newHarness(t, 0)

	h.send(runeKey('d'))
	assert.Contains(t, h.m.flash, "marked a-cat.png")

	h.send(keyOf(tea.KeyDown), runeKey('d'))
	require.NotNil(t, h.m.diff)
	assert.True(t, h.m.showPreview)

	var before, after strings.Builder
	for _, seg := range h.m.diff {
		switch seg.Op {
		case metadata.DiffDelete:
			before.WriteString(seg.Text)
		case metadata.DiffInsert:
			after.WriteString(seg.Text)
		default:
			before.WriteString(seg.Text)
			after.WriteString(seg.Text)
		}
	}

	assert.Equal(t, "a red cat", before.String())
	assert.Equal(t, "a big dog", after.String())

	h.send(keyOf(tea.KeyEsc))
	assert.Nil(t, h.m.diff)
	assert.False(t, h.m.showPreview)
}

// --- events and refresh ---

func TestModel_ChangeEventApplies(t *testing.T) {
	h := newHarness(t, 0)

	cmd := h.send(eventMsg{ok: true, ev: models.Event{
		Type: models.EventChanges,
		Data: json.RawMessage(`{"folders": {"output": {"a-cat.png": {"action": "remove"}}}}`),
	}})

	assert.NotNil(t, cmd, "keeps waiting for events")
	assert.Equal(t, "b-dog.png", h.selected(t), "selection moves to the next record")
}

func TestModel_FileChangeRefetches(t *testing.T) {
	h := newHarness(t, 0)

	h.fetcher.folders = models.FolderMap{"other": {"z.png": rec("z.png", "", 1)}}

	cmd := h.send(eventMsg{ok: true, ev: models.Event{Type: models.EventFileChange}})
	require.NotNil(t, cmd)

	// Run the batch; the refresh command answers immediately, the event
	// wait would block, so run them individually.
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	require.Len(t, batch, 2)

	h.send(batch[0]())
	assert.Equal(t, []string{"other"}, h.m.gallery.Folders())
	assert.Equal(t, "z.png", h.selected(t))
}

func TestModel_StreamClosed(t *testing.T) {
	h := newHarness(t, 0)

	cmd := h.send(eventMsg{ok: false})
	assert.Nil(t, cmd)
	assert.Equal(t, "event stream closed", h.m.flash)
}

func TestModel_RefreshFailureKeepsListing(t *testing.T) {
	h := newHarness(t, 0)

	h.fetcher.err = errors.New("server down")

	cmd := h.send(runeKey('r'))
	require.NotNil(t, cmd)
	h.send(cmd())

	assert.Contains(t, h.m.flash, "server down")
	assert.Len(t, h.surface.Records(), 2)
	assert.Contains(t, h.m.View(), "Refresh failed")
}

// --- paging and lazy loading ---

func TestModel_LoadsMoreAtEnd(t *testing.T) {
	h := newHarness(t, 1)

	assert.Len(t, h.surface.Records(), 1)
	assert.True(t, h.m.gallery.Renderer().HasMore())

	h.send(keyOf(tea.KeyDown))
	assert.Len(t, h.surface.Records(), 2)
	assert.Equal(t, "b-dog.png", h.selected(t))
}

func TestModel_VisibleCellsLoad(t *testing.T) {
	h := newHarness(t, 0)

	assert.Equal(t, 2, h.m.gallery.Renderer().Loader().Loaded())
	assert.Equal(t, 0, h.m.gallery.Renderer().Loader().Observed())
}

func TestModel_Quit(t *testing.T) {
	h := newHarness(t, 0)

	cmd := h.send(runeKey('q'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.False(t, h.m.gallery.IsOpen())
}
