// Package render turns gallery projections into display cells while
// keeping the surface's scroll position and deferring image loads until
// cells become visible.
package render

import (
	"strings"

	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// Placeholder is the source every lazy cell starts with: a transparent
// 1x1 GIF.
const Placeholder = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// CellKind tags a display cell.
type CellKind int

const (
	CellRecord CellKind = iota
	CellSeparator
)

// Cell is one element of the rendered grid.
type Cell struct {
	ID       string
	Kind     CellKind
	Date     string
	Record   models.FileRecord
	Src      string
	DataSrc  string
	Lazy     bool
	Favorite bool
}

// Surface is where cells are displayed.
type Surface interface {
	ScrollOffset() int
	SetScrollOffset(offset int)
	// Replace removes every displayed cell and shows cells instead.
	Replace(cells []*Cell)
	// Append adds cells after the ones already displayed.
	Append(cells []*Cell)
	// ShowMessage replaces the grid with a text message.
	ShowMessage(text string)
	SetStatus(text string)
}

// Options configures a Renderer.
type Options struct {
	// PageSize is the number of records emitted per page. Zero renders
	// everything at once.
	PageSize int

	// BaseURL is prefixed to record URLs that start with "/".
	BaseURL string

	// IsFavorite marks cells whose record URL is a favorite.
	IsFavorite func(url string) bool
}

// Renderer rebuilds a Surface from projections.
type Renderer struct {
	surface Surface
	loader  *LazyLoader
	opts    Options

	pending []gallery.Item
	shown   int
}

// NewRenderer creates a renderer drawing onto surface.
func NewRenderer(surface Surface, opts Options) *Renderer {
	return &Renderer{
		surface: surface,
		loader:  NewLazyLoader(nil),
		opts:    opts,
	}
}

// Loader returns the lazy loader for the current render.
func (r *Renderer) Loader() *LazyLoader {
	return r.loader
}

// Render replaces the displayed content with p, restoring the scroll
// offset the surface had before. The previous render's lazy cells stop
// being observed.
func (r *Renderer) Render(p gallery.Projection) {
	offset := r.surface.ScrollOffset()

	r.loader.Disconnect()
	r.pending = nil
	r.shown = 0

	if p.Status != gallery.StatusOK {
		r.surface.ShowMessage(p.Message)
		r.surface.SetScrollOffset(offset)

		return
	}

	r.pending = p.Items
	r.surface.Replace(r.nextPage())
	r.surface.SetScrollOffset(offset)
}

// RenderMore appends the next page of the current projection. It
// returns false when everything has been shown.
func (r *Renderer) RenderMore() bool {
	if len(r.pending) == 0 {
		return false
	}

	r.surface.Append(r.nextPage())

	return true
}

// HasMore reports whether RenderMore has anything left to add.
func (r *Renderer) HasMore() bool {
	return len(r.pending) > 0
}

// Shown returns the number of records currently displayed.
func (r *Renderer) Shown() int {
	return r.shown
}

// Visible forwards a visibility report to the lazy loader.
func (r *Renderer) Visible(id string) bool {
	return r.loader.Visible(id)
}

// nextPage takes up to PageSize records off the pending items, along
// with the separators preceding them. Separators are computed over the
// whole projection, so grouping carries across pages.
func (r *Renderer) nextPage() []*Cell {
	var cells []*Cell

	records := 0
	i := 0

	for ; i < len(r.pending); i++ {
		if r.opts.PageSize > 0 && records == r.opts.PageSize {
			break
		}

		item := r.pending[i]
		if item.Kind == gallery.ItemRecord {
			records++
		}

		c := r.cell(item)
		if c.Lazy {
			r.loader.Observe(c)
		}

		cells = append(cells, c)
	}

	r.pending = r.pending[i:]
	r.shown += records

	return cells
}

func (r *Renderer) cell(item gallery.Item) *Cell {
	if item.Kind == gallery.ItemSeparator {
		return &Cell{
			ID:   "date:" + item.Date,
			Kind: CellSeparator,
			Date: item.Date,
		}
	}

	rec := item.Record

	c := &Cell{
		ID:      rec.URL,
		Kind:    CellRecord,
		Record:  rec,
		Src:     Placeholder,
		DataSrc: r.resolve(rec.URL),
	}

	c.Lazy = c.DataSrc != ""

	if c.ID == "" {
		c.ID = rec.Name
	}

	if r.opts.IsFavorite != nil {
		c.Favorite = r.opts.IsFavorite(rec.URL)
	}

	return c
}

func (r *Renderer) resolve(url string) string {
	if r.opts.BaseURL == "" || !strings.HasPrefix(url, "/") {
		return url
	}

	return strings.TrimSuffix(r.opts.BaseURL, "/") + url
}
