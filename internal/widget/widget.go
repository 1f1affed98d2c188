// Package widget is one gallery instance: it owns a folder store, the
// user's view selection and a renderer, and turns pushed events and
// user actions into re-rendered projections.
//
// A Gallery is not safe for concurrent use. Drive it from a single
// goroutine, either Run or a UI framework's update loop.
package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/state"
)

// Preferences persists favorites, collections and settings.
// *state.State satisfies it.
type Preferences interface {
	Setting(key string) string
	SetSetting(key, value string) error
	IsFavorite(url string) bool
	ToggleFavorite(url string) (bool, error)
	FavoriteURLs() ([]string, error)
	CreateCollection(name string) error
	DeleteCollection(name string) error
	Collection(name string) (state.Collection, error)
	Collections() ([]state.Collection, error)
	AddToCollection(name, url string) error
	RemoveFromCollection(name, url string) error
}

// Fetcher retrieves the full listing. *client.Client satisfies it.
type Fetcher interface {
	Snapshot(ctx context.Context) (models.FolderMap, error)
}

// Mode is what the grid is showing.
type Mode int

const (
	ModeFolder Mode = iota
	ModeFavorites
	ModeCollection
)

// FavoritesLabel is the projection folder name in favorites mode.
const FavoritesLabel = "Favorites"

// Empty-state messages outside folder mode.
const (
	MessageNoFavorites     = "No favorites yet."
	MessageEmptyCollection = "This collection is empty."
)

// Options configures a Gallery.
type Options struct {
	// PageSize is the number of records rendered per page. Zero renders
	// everything.
	PageSize int

	// BaseURL is prefixed to record URLs when building image sources.
	BaseURL string

	// OnFolders is called with the folder list in navigation order
	// whenever it changes.
	OnFolders func(names []string)
}

// Gallery is one gallery widget instance.
type Gallery struct {
	store    *gallery.Store
	applier  *gallery.Applier
	renderer *render.Renderer
	surface  render.Surface
	prefs    Preferences
	fetcher  Fetcher
	logger   *slog.Logger

	view       gallery.ViewState
	mode       Mode
	collection string
	open       bool

	// preferred is the last folder the user picked, restored when it
	// (re)appears and nothing else is selected.
	preferred string

	// folders is the last folder list reported through onFolders.
	folders   []string
	onFolders func(names []string)

	// issued is the last refresh token handed out; applied is the token
	// of the newest refresh whose result was accepted.
	issued  uint64
	applied uint64

	// refreshErr is shown in the status line until a refresh succeeds.
	refreshErr string
}

// New creates a closed gallery drawing onto surface. Sort and last
// folder are restored from prefs.
func New(surface render.Surface, prefs Preferences, fetcher Fetcher, opts Options, logger *slog.Logger) *Gallery {
	store := gallery.NewStore()

	g := &Gallery{
		store:     store,
		applier:   gallery.NewApplier(store, logger),
		surface:   surface,
		prefs:     prefs,
		fetcher:   fetcher,
		logger:    logger,
		onFolders: opts.OnFolders,
		view:      gallery.ViewState{Sort: gallery.SortNewest},
		preferred: prefs.Setting(state.SettingLastFolder),
	}

	if s, ok := gallery.ParseSort(prefs.Setting(state.SettingSort)); ok {
		g.view.Sort = s
	}

	g.renderer = render.NewRenderer(surface, render.Options{
		PageSize:   opts.PageSize,
		BaseURL:    opts.BaseURL,
		IsFavorite: prefs.IsFavorite,
	})

	return g
}

// View returns the current view selection.
func (g *Gallery) View() gallery.ViewState {
	v := g.view
	v.Filters = g.view.Filters.Clone()

	return v
}

// Mode returns what the grid is showing and, in collection mode, which
// collection.
func (g *Gallery) Mode() (Mode, string) {
	return g.mode, g.collection
}

// IsOpen reports whether the gallery is being displayed.
func (g *Gallery) IsOpen() bool {
	return g.open
}

// Store exposes the gallery's folder store for read-only queries.
func (g *Gallery) Store() *gallery.Store {
	return g.store
}

// Renderer exposes the renderer for paging and visibility reports.
func (g *Gallery) Renderer() *render.Renderer {
	return g.renderer
}

// Folders returns the folder list in navigation order.
func (g *Gallery) Folders() []string {
	return gallery.SortFolderNames(g.store.FolderNames())
}

// Open starts displaying the gallery.
func (g *Gallery) Open() {
	g.open = true
	g.render()
}

// Close stops displaying the gallery. Events are still applied while
// closed so reopening shows current state.
func (g *Gallery) Close() {
	g.open = false
	g.renderer.Loader().Disconnect()
}

// --- view actions ---

// SelectFolder shows folder in folder mode.
func (g *Gallery) SelectFolder(folder string) error {
	if !g.store.Has(folder) {
		return fmt.Errorf("%w: %s", gerrors.ErrFolderNotFound, folder)
	}

	g.mode = ModeFolder
	g.collection = ""
	g.view.CurrentFolder = folder
	g.preferred = folder

	if err := g.prefs.SetSetting(state.SettingLastFolder, folder); err != nil {
		g.logger.Warn("saving last folder", slog.String("error", err.Error()))
	}

	g.render()

	return nil
}

// ShowFolder leaves favorites or collection mode and returns to the
// current folder.
func (g *Gallery) ShowFolder() {
	g.mode = ModeFolder
	g.collection = ""
	g.enforceFolder()
	g.render()
}

// SetSort changes the ordering and persists it.
func (g *Gallery) SetSort(key string) error {
	s, ok := gallery.ParseSort(key)
	if !ok {
		return fmt.Errorf("unknown sort %q", key)
	}

	g.view.Sort = s

	if err := g.prefs.SetSetting(state.SettingSort, string(s)); err != nil {
		g.logger.Warn("saving sort", slog.String("error", err.Error()))
	}

	g.render()

	return nil
}

// SetSearch filters the grid by name.
func (g *Gallery) SetSearch(text string) {
	g.view.SearchText = text
	g.render()
}

// SetFilters replaces the metadata filters.
func (g *Gallery) SetFilters(filters gallery.Filters) {
	g.view.Filters = filters.Clone()
	g.render()
}

// FilterOptions lists the values the current grid's records offer per
// filter key.
func (g *Gallery) FilterOptions() map[string][]string {
	return gallery.FilterOptions(g.records())
}

// LoadMore renders the next page. It returns false when everything is
// shown.
func (g *Gallery) LoadMore() bool {
	if !g.open {
		return false
	}

	return g.renderer.RenderMore()
}

// --- favorites and collections ---

// ToggleFavorite stars or unstars url and re-renders. It returns the
// new favorite state.
func (g *Gallery) ToggleFavorite(url string) (bool, error) {
	fav, err := g.prefs.ToggleFavorite(url)
	if err != nil {
		return false, fmt.Errorf("toggling favorite: %w", err)
	}

	g.render()

	return fav, nil
}

// ShowFavorites shows every favorited record across all folders.
func (g *Gallery) ShowFavorites() {
	g.mode = ModeFavorites
	g.collection = ""
	g.render()
}

// CreateCollection adds an empty collection.
func (g *Gallery) CreateCollection(name string) error {
	return g.prefs.CreateCollection(name)
}

// DeleteCollection removes a collection. Viewing it falls back to the
// current folder.
func (g *Gallery) DeleteCollection(name string) error {
	if err := g.prefs.DeleteCollection(name); err != nil {
		return err
	}

	if g.mode == ModeCollection && g.collection == name {
		g.ShowFolder()
	}

	return nil
}

// Collections lists the user's collections.
func (g *Gallery) Collections() ([]state.Collection, error) {
	return g.prefs.Collections()
}

// AddToCollection appends url to a collection.
func (g *Gallery) AddToCollection(name, url string) error {
	if err := g.prefs.AddToCollection(name, url); err != nil {
		return err
	}

	if g.mode == ModeCollection && g.collection == name {
		g.render()
	}

	return nil
}

// RemoveFromCollection drops url from a collection.
func (g *Gallery) RemoveFromCollection(name, url string) error {
	if err := g.prefs.RemoveFromCollection(name, url); err != nil {
		return err
	}

	if g.mode == ModeCollection && g.collection == name {
		g.render()
	}

	return nil
}

// ViewCollection shows the records of a collection, in collection
// order before sorting.
func (g *Gallery) ViewCollection(name string) error {
	if _, err := g.prefs.Collection(name); err != nil {
		return err
	}

	g.mode = ModeCollection
	g.collection = name
	g.render()

	return nil
}

// --- events ---

// HandleEvent applies one pushed event. It returns true when the event
// asks for a snapshot refetch, which the caller performs with
// BeginRefresh and CompleteRefresh. Unknown event types are ignored.
func (g *Gallery) HandleEvent(ev models.Event) (bool, error) {
	switch ev.Type {
	case models.EventUpdate:
		var snap models.Snapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil || snap.Folders == nil {
			g.logger.Warn("ignoring malformed update event")
			return false, fmt.Errorf("%w: update event", gerrors.ErrMalformedBatch)
		}

		// Anything fetched before this listing is older than it.
		g.applied = g.issued
		g.refreshErr = ""
		g.store.Replace(snap.Folders)
		g.afterMutation(true)

		return false, nil

	case models.EventFileChange:
		return true, nil

	case models.EventClear:
		g.refreshErr = ""
		g.store.Clear()
		g.afterMutation(true)

		return false, nil

	case models.EventChanges:
		var batch models.ChangeBatch
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &batch); err != nil {
				g.logger.Warn("ignoring undecodable change batch", slog.String("error", err.Error()))
				return false, fmt.Errorf("%w: %w", gerrors.ErrMalformedBatch, err)
			}
		}

		result, err := g.applier.Apply(batch)
		if err != nil {
			return false, err
		}

		if result.Changed() {
			g.afterMutation(result.FoldersChanged)
		}

		return false, nil

	default:
		g.logger.Debug("ignoring unknown event", slog.String("type", ev.Type))
		return false, nil
	}
}

// BeginRefresh issues a token for a snapshot fetch about to start.
func (g *Gallery) BeginRefresh() uint64 {
	g.issued++
	return g.issued
}

// CompleteRefresh applies the outcome of the fetch started with token.
// A result older than one already applied is discarded and false is
// returned. On error the previous listing is kept and token does not
// count as applied, so an older fetch still in flight can land.
func (g *Gallery) CompleteRefresh(token uint64, folders models.FolderMap, err error) bool {
	if token <= g.applied {
		g.logger.Debug("discarding stale refresh",
			slog.Uint64("token", token),
			slog.Uint64("applied", g.applied),
		)

		return false
	}

	if err != nil {
		g.logger.Warn("refresh failed", slog.String("error", err.Error()))
		g.refreshErr = "Refresh failed: " + err.Error()

		if g.store.Len() == 0 && g.open {
			g.surface.ShowMessage("Error loading images: " + err.Error())
			g.surface.SetStatus(g.refreshErr)

			return true
		}

		g.render()

		return true
	}

	g.applied = token
	g.refreshErr = ""
	g.store.Replace(folders)
	g.afterMutation(true)

	return true
}

// Refresh fetches the snapshot and applies it.
func (g *Gallery) Refresh(ctx context.Context) error {
	token := g.BeginRefresh()
	folders, err := g.fetcher.Snapshot(ctx)
	g.CompleteRefresh(token, folders, err)

	return err
}

type refreshResult struct {
	token   uint64
	folders models.FolderMap
	err     error
}

// Run applies events until ctx is cancelled or events is closed.
// Refetches requested by events run in the background and complete on
// this goroutine, so no other goroutine may touch g while Run is active.
// Fetches still in flight are cancelled and waited for before Run returns.
func (g *Gallery) Run(ctx context.Context, events <-chan models.Event) error {
	results := make(chan refreshResult, 1)

	fetchCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup

	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			refetch, err := g.HandleEvent(ev)
			if err != nil {
				continue
			}

			if refetch {
				token := g.BeginRefresh()

				wg.Add(1)

				go func() {
					defer wg.Done()

					folders, err := g.fetcher.Snapshot(fetchCtx)
					select {
					case results <- refreshResult{token: token, folders: folders, err: err}:
					case <-fetchCtx.Done():
					}
				}()
			}

		case r := <-results:
			if ctx.Err() != nil {
				return ctx.Err()
			}

			g.CompleteRefresh(r.token, r.folders, r.err)
		}
	}
}

// --- internals ---

// afterMutation restores the folder invariant, reports folder list
// changes and re-renders.
func (g *Gallery) afterMutation(foldersChanged bool) {
	g.enforceFolder()

	if foldersChanged {
		names := g.Folders()
		if !slices.Equal(names, g.folders) {
			g.folders = names

			if g.onFolders != nil {
				g.onFolders(names)
			}
		}
	}

	g.render()
}

// enforceFolder keeps CurrentFolder pointing at a present folder,
// preferring the user's last pick, then the first in navigation order.
func (g *Gallery) enforceFolder() {
	if g.view.CurrentFolder != "" && g.store.Has(g.view.CurrentFolder) {
		return
	}

	switch {
	case g.preferred != "" && g.store.Has(g.preferred):
		g.view.CurrentFolder = g.preferred
	default:
		g.view.CurrentFolder = gallery.FirstFolder(g.store.FolderNames())
	}
}

// records returns the unsorted records behind the current mode.
func (g *Gallery) records() []models.FileRecord {
	switch g.mode {
	case ModeFavorites:
		urls, err := g.prefs.FavoriteURLs()
		if err != nil {
			g.logger.Warn("loading favorites", slog.String("error", err.Error()))
			return nil
		}

		return g.recordsByURL(urls)

	case ModeCollection:
		c, err := g.prefs.Collection(g.collection)
		if err != nil {
			g.logger.Warn("loading collection",
				slog.String("collection", g.collection),
				slog.String("error", err.Error()),
			)

			return nil
		}

		return g.recordsByURL(c.URLs)

	default:
		return g.store.Get(g.view.CurrentFolder)
	}
}

// recordsByURL looks urls up across all folders, in urls order. URLs
// with no record are skipped.
func (g *Gallery) recordsByURL(urls []string) []models.FileRecord {
	byURL := make(map[string]models.FileRecord)
	for _, rec := range g.store.All() {
		if rec.URL != "" {
			byURL[rec.URL] = rec
		}
	}

	out := make([]models.FileRecord, 0, len(urls))
	for _, u := range urls {
		if rec, ok := byURL[u]; ok {
			out = append(out, rec)
		}
	}

	return out
}

// Projection computes what the grid shows right now.
func (g *Gallery) Projection() gallery.Projection {
	switch g.mode {
	case ModeFavorites:
		p := gallery.Project(g.records(), g.view)
		p.Folder = FavoritesLabel

		if p.Status == gallery.StatusEmptyFolder {
			p.Message = MessageNoFavorites
		}

		return p
	case ModeCollection:
		p := gallery.Project(g.records(), g.view)
		p.Folder = g.collection

		if p.Status == gallery.StatusEmptyFolder {
			p.Message = MessageEmptyCollection
		}

		return p
	default:
		return gallery.ProjectFolder(g.store, g.view)
	}
}

func (g *Gallery) render() {
	if !g.open {
		return
	}

	p := g.Projection()
	g.renderer.Render(p)
	g.surface.SetStatus(g.statusLine(p))
}

func (g *Gallery) statusLine(p gallery.Projection) string {
	if g.refreshErr != "" {
		return g.refreshErr
	}

	if p.Status != gallery.StatusOK {
		return p.Message
	}

	n := len(p.Records())
	noun := "images"

	if n == 1 {
		noun = "image"
	}

	return p.Folder + ": " + strconv.Itoa(n) + " " + noun + " (" + string(p.Sort) + ")"
}
