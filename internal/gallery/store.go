// Package gallery holds the client-side copy of the server's folder
// listing and the logic that keeps it current: applying change batches,
// and projecting one folder into the ordered list a view displays.
package gallery

import (
	"sort"
	"sync"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// Store maintains an in-memory copy of the server's folders and files.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	folders models.FolderMap
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{folders: make(models.FolderMap)}
}

// Replace discards all prior state and copies folders in. Folders with
// no files are dropped.
func (s *Store) Replace(folders models.FolderMap) {
	next := make(models.FolderMap, len(folders))

	for name, files := range folders {
		if len(files) == 0 {
			continue
		}

		copied := make(map[string]models.FileRecord, len(files))
		for fname, rec := range files {
			copied[fname] = rec.Clone()
		}

		next[name] = copied
	}

	s.mu.Lock()
	s.folders = next
	s.mu.Unlock()
}

// Clear removes every folder.
func (s *Store) Clear() {
	s.Replace(nil)
}

// Get returns copies of the records in a folder ordered by file name.
// An absent folder yields nil.
func (s *Store) Get(folder string) []models.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := s.folders[folder]
	if len(files) == 0 {
		return nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]models.FileRecord, 0, len(names))
	for _, name := range names {
		out = append(out, files[name].Clone())
	}

	return out
}

// All returns every record across all folders, grouped by folder in
// lexical folder order.
func (s *Store) All() []models.FileRecord {
	var out []models.FileRecord
	for _, name := range s.sortedNames() {
		out = append(out, s.Get(name)...)
	}

	return out
}

// File returns a single record, or false if absent.
func (s *Store) File(folder, name string) (models.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.folders[folder][name]
	if !ok {
		return models.FileRecord{}, false
	}

	return rec.Clone(), true
}

// FolderNames returns the present folder names in no particular order.
func (s *Store) FolderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.folders))
	for name := range s.folders {
		names = append(names, name)
	}

	return names
}

// Has reports whether the folder is present.
func (s *Store) Has(folder string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.folders[folder]

	return ok
}

// Len returns the number of folders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.folders)
}

// Snapshot returns a deep copy of the whole folder map.
func (s *Store) Snapshot() models.FolderMap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(models.FolderMap, len(s.folders))
	for name, files := range s.folders {
		copied := make(map[string]models.FileRecord, len(files))
		for fname, rec := range files {
			copied[fname] = rec.Clone()
		}

		out[name] = copied
	}

	return out
}

func (s *Store) sortedNames() []string {
	names := s.FolderNames()
	sort.Strings(names)

	return names
}

// mutate runs fn with the write lock held. Used by the applier so a
// whole batch lands atomically with respect to readers.
func (s *Store) mutate(fn func(folders models.FolderMap)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.folders)
}
