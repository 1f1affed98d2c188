// Package library keeps the server's view of the gallery root: a cached
// folder listing that is rescanned on demand or on filesystem change,
// with each change published to connected clients.
package library

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/metrics"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// Publisher delivers events to clients.
type Publisher interface {
	PublishData(typ string, data any) error
}

// Library owns the cached listing for one gallery root.
type Library struct {
	root    string
	logger  *slog.Logger
	scanner *Scanner
	store   *gallery.Store
	applier *gallery.Applier
	pub     Publisher

	// scanMu serializes rescans so two batches computed against the same
	// cached state are never both applied.
	scanMu sync.Mutex
}

// New creates a library for root and performs the initial scan. Folder
// keys are prefixed with prefix.
func New(root, prefix string, pub Publisher, logger *slog.Logger) (*Library, error) {
	store := gallery.NewStore()

	l := &Library{
		root:    root,
		logger:  logger,
		scanner: NewScanner(root, prefix, logger),
		store:   store,
		applier: gallery.NewApplier(store, logger),
		pub:     pub,
	}

	folders, err := l.scan()
	if err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}

	store.Replace(folders)
	l.recordSize()

	logger.Info("library loaded",
		slog.String("root", root),
		slog.Int("folders", store.Len()),
		slog.Int("files", folders.Count()),
	)

	return l, nil
}

// Root returns the absolute gallery root.
func (l *Library) Root() string {
	return l.root
}

// Snapshot returns a copy of the cached listing.
func (l *Library) Snapshot() models.FolderMap {
	return l.store.Snapshot()
}

// Store exposes the cached store for read-only queries.
func (l *Library) Store() *gallery.Store {
	return l.store
}

// Rescan walks the root, applies the difference to the cached listing
// and publishes it as a Gallery.changes batch. Nothing is published when
// the listing did not change.
func (l *Library) Rescan() (gallery.ApplyResult, error) {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	next, err := l.scan()
	if err != nil {
		return gallery.ApplyResult{}, err
	}

	batch := gallery.Diff(l.store.Snapshot(), next)
	if len(batch.Folders) == 0 {
		return gallery.ApplyResult{}, nil
	}

	result, err := l.applier.Apply(batch)
	if err != nil {
		return result, fmt.Errorf("applying scan diff: %w", err)
	}

	metrics.RecordChanges(result.Created, result.Updated, result.Removed)
	l.recordSize()

	l.logger.Info("library changed", slog.String("changes", gallery.DescribeBatch(result)))

	if err := l.pub.PublishData(models.EventChanges, batch); err != nil {
		return result, fmt.Errorf("publishing changes: %w", err)
	}

	return result, nil
}

// Reload rescans and publishes the full listing as Gallery.update.
func (l *Library) Reload() error {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	next, err := l.scan()
	if err != nil {
		return err
	}

	l.store.Replace(next)
	l.recordSize()

	if err := l.pub.PublishData(models.EventUpdate, models.Snapshot{Folders: l.store.Snapshot()}); err != nil {
		return fmt.Errorf("publishing update: %w", err)
	}

	return nil
}

// RequestRefetch tells clients to fetch the snapshot again.
func (l *Library) RequestRefetch() error {
	if err := l.pub.PublishData(models.EventFileChange, nil); err != nil {
		return fmt.Errorf("publishing refetch: %w", err)
	}

	return nil
}

// Clear empties the cached listing and tells clients to drop their
// state. The next rescan reports every file as created.
func (l *Library) Clear() error {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	l.store.Clear()
	l.recordSize()

	if err := l.pub.PublishData(models.EventClear, nil); err != nil {
		return fmt.Errorf("publishing clear: %w", err)
	}

	return nil
}

func (l *Library) scan() (models.FolderMap, error) {
	start := time.Now()
	folders, err := l.scanner.Scan()
	metrics.RecordScan(time.Since(start), err == nil)

	if err != nil {
		l.logger.Error("scan failed", slog.String("root", l.root), slog.String("error", err.Error()))
		return nil, fmt.Errorf("scanning %s: %w", l.root, err)
	}

	return folders, nil
}

func (l *Library) recordSize() {
	snap := l.store.Snapshot()
	metrics.SetLibrarySize(len(snap), snap.Count())
}
