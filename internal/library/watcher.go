package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alexjbarnes/gallery-sync/internal/metrics"
)

// DefaultDebounce is how long the watcher waits after the last relevant
// filesystem event before rescanning.
const DefaultDebounce = 500 * time.Millisecond

// Watch monitors the root for filesystem changes and calls Rescan once
// events settle for debounce. It blocks until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, l.root); err != nil {
		return fmt.Errorf("adding gallery root to watcher: %w", err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}

			if !l.handleEvent(watcher, event) {
				continue
			}

			metrics.RecordWatcherEvent()
			l.logger.Debug("filesystem change, debouncing",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)

			timer.Reset(debounce)
			fire = timer.C

		case <-fire:
			fire = nil

			if _, err := l.Rescan(); err != nil {
				l.logger.Warn("rescan after filesystem change failed", slog.String("error", err.Error()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}

			// Non-fatal (e.g. too many watches); affected paths just
			// won't trigger rescans until the next one.
			l.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent starts watching new directories and reports whether the
// event should trigger a rescan.
func (l *Library) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if shouldIgnore(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		// Lstat so a symlink to a directory outside the root is not
		// followed.
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = addRecursive(watcher, event.Name)

			// Files may already exist in a directory moved into place.
			return true
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// Harmless if the path wasn't a watched directory.
		_ = watcher.Remove(event.Name)
		return true
	}

	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}

	return isGalleryFile(event.Name) || isSidecar(event.Name)
}

// addRecursive adds dir and every non-hidden directory below it.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(p)
	})
}

// shouldIgnore returns true for temp files written by editors and image
// tools, and for anything hidden.
func shouldIgnore(absPath string) bool {
	name := filepath.Base(absPath)

	if strings.HasPrefix(name, ".") {
		return true
	}

	return strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".tmp")
}

func isGalleryFile(p string) bool {
	return fileType(filepath.Base(p)) != ""
}

func isSidecar(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".yaml")
}
