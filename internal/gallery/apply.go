package gallery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// ApplyResult summarizes what a change batch did to the store.
type ApplyResult struct {
	// FoldersChanged is true when a folder was added or removed, meaning
	// folder navigation must be rebuilt.
	FoldersChanged bool

	Created int
	Updated int
	Removed int
	Skipped int
}

// Changed reports whether the batch touched the store at all.
func (r ApplyResult) Changed() bool {
	return r.FoldersChanged || r.Created > 0 || r.Updated > 0 || r.Removed > 0
}

// Applier mutates a Store from change batches without discarding
// unrelated state.
type Applier struct {
	store  *Store
	logger *slog.Logger
}

// NewApplier creates an applier for the given store.
func NewApplier(store *Store, logger *slog.Logger) *Applier {
	return &Applier{store: store, logger: logger}
}

// Apply processes one batch. Individual entries that cannot be applied
// (unknown action, missing target, undecodable field) are logged and
// skipped. Only a batch without a folders key is rejected, in which
// case the store is untouched.
func (a *Applier) Apply(batch models.ChangeBatch) (ApplyResult, error) {
	var result ApplyResult

	if batch.Folders == nil {
		a.logger.Warn("change batch rejected", slog.String("error", gerrors.ErrMalformedBatch.Error()))
		return result, gerrors.ErrMalformedBatch
	}

	for _, name := range batch.Invalid {
		a.logger.Warn("change batch folder is not an object", slog.String("folder", name))
		result.Skipped++
	}

	folderNames := make([]string, 0, len(batch.Folders))
	for name := range batch.Folders {
		folderNames = append(folderNames, name)
	}

	sort.Strings(folderNames)

	a.store.mutate(func(folders models.FolderMap) {
		for _, folder := range folderNames {
			a.applyFolder(folders, folder, batch.Folders[folder], &result)
		}
	})

	a.logger.Debug("change batch applied",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("removed", result.Removed),
		slog.Int("skipped", result.Skipped),
		slog.Bool("folders_changed", result.FoldersChanged),
	)

	return result, nil
}

func (a *Applier) applyFolder(folders models.FolderMap, folder string, changes map[string]models.Change, result *ApplyResult) {
	if len(changes) == 0 {
		return
	}

	_, existed := folders[folder]
	if !existed {
		folders[folder] = make(map[string]models.FileRecord)
	}

	fileNames := make([]string, 0, len(changes))
	for name := range changes {
		fileNames = append(fileNames, name)
	}

	sort.Strings(fileNames)

	files := folders[folder]

	for _, name := range fileNames {
		change := changes[name]

		switch change.Action {
		case models.ActionCreate:
			files[name] = a.buildRecord(folder, name, change.Fields)
			result.Created++

		case models.ActionUpdate:
			rec, ok := files[name]
			if !ok {
				a.logger.Warn("update for missing file",
					slog.String("folder", folder),
					slog.String("file", name),
				)

				result.Skipped++

				continue
			}

			files[name] = a.mergeRecord(folder, name, rec, change.Fields)
			result.Updated++

		case models.ActionRemove:
			if _, ok := files[name]; !ok {
				a.logger.Warn("remove for missing file",
					slog.String("folder", folder),
					slog.String("file", name),
				)

				result.Skipped++

				continue
			}

			delete(files, name)
			result.Removed++

		default:
			a.logger.Warn("unknown change action",
				slog.String("folder", folder),
				slog.String("file", name),
				slog.String("action", string(change.Action)),
			)

			result.Skipped++
		}
	}

	// An empty folder never persists, whether it emptied now or was
	// created above for entries that all turned out to be no-ops.
	if len(files) == 0 {
		delete(folders, folder)
	}

	_, exists := folders[folder]
	if exists != existed {
		result.FoldersChanged = true
	}
}

// buildRecord creates a record from the full field set of a create.
func (a *Applier) buildRecord(folder, name string, fields map[string]json.RawMessage) models.FileRecord {
	var rec models.FileRecord

	for key, raw := range fields {
		if err := rec.SetField(key, raw); err != nil {
			a.logger.Warn("create: skipping undecodable field",
				slog.String("folder", folder),
				slog.String("file", name),
				slog.String("field", key),
				slog.String("error", err.Error()),
			)
		}
	}

	if rec.Name == "" {
		rec.Name = name
	}

	return rec
}

// mergeRecord shallow-merges fields into rec. Name and URL are fixed for
// a record's lifetime and are not overwritten.
func (a *Applier) mergeRecord(folder, name string, rec models.FileRecord, fields map[string]json.RawMessage) models.FileRecord {
	merged := rec.Clone()

	for key, raw := range fields {
		if key == "name" || key == "url" {
			continue
		}

		if err := merged.SetField(key, raw); err != nil {
			a.logger.Warn("update: skipping undecodable field",
				slog.String("folder", folder),
				slog.String("file", name),
				slog.String("field", key),
				slog.String("error", err.Error()),
			)
		}
	}

	return merged
}

// Diff returns the batch that turns old into next: creates for new
// files, removes for vanished ones, and full-record updates for files
// whose content changed.
func Diff(old, next models.FolderMap) models.ChangeBatch {
	batch := models.ChangeBatch{Folders: make(map[string]map[string]models.Change)}

	all := make(map[string]struct{}, len(old)+len(next))
	for name := range old {
		all[name] = struct{}{}
	}

	for name := range next {
		all[name] = struct{}{}
	}

	for folder := range all {
		oldFiles := old[folder]
		newFiles := next[folder]
		changes := make(map[string]models.Change)

		for name, rec := range newFiles {
			prev, ok := oldFiles[name]
			switch {
			case !ok:
				changes[name] = models.NewCreate(rec)
			case !recordsEqual(prev, rec):
				changes[name] = models.NewUpdate(rec)
			}
		}

		for name := range oldFiles {
			if _, ok := newFiles[name]; !ok {
				changes[name] = models.NewRemove()
			}
		}

		if len(changes) > 0 {
			batch.Folders[folder] = changes
		}
	}

	return batch
}

// recordsEqual compares records by their JSON encoding. encoding/json
// writes map keys sorted, so equal records encode identically.
func recordsEqual(a, b models.FileRecord) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}

	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(ab, bb)
}

// DescribeBatch is a short human summary used in logs and status lines.
func DescribeBatch(r ApplyResult) string {
	return fmt.Sprintf("%d created, %d updated, %d removed", r.Created, r.Updated, r.Removed)
}
