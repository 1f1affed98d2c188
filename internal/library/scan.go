package library

import (
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// File types reported in FileRecord.Type.
const (
	TypeImage = "image"
	TypeMedia = "media"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}
	mediaExts = map[string]bool{".mp4": true, ".gif": true}
)

// fileType returns the record type for a file name, or "" when the file
// is not shown in the gallery.
func fileType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case imageExts[ext]:
		return TypeImage
	case mediaExts[ext]:
		return TypeMedia
	default:
		return ""
	}
}

// Sidecar holds the optional <image>.yaml file next to an image.
type Sidecar struct {
	Tags []string `yaml:"tags"`
}

// readSidecar returns the tags from the sidecar of imagePath, or nil if
// there is none or it does not parse.
func readSidecar(imagePath string) []string {
	data, err := os.ReadFile(strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".yaml")
	if err != nil {
		return nil
	}

	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil
	}

	return sc.Tags
}

// ViewURL builds the media URL for a file. subfolder is relative to the
// gallery root and empty for files at the top level.
func ViewURL(name, subfolder string) string {
	return "/view?filename=" + url.QueryEscape(name) +
		"&subfolder=" + strings.ReplaceAll(url.QueryEscape(subfolder), "%2F", "/")
}

// FolderKey returns the folder name used for files in subfolder.
func FolderKey(prefix, subfolder string) string {
	if subfolder == "" {
		return prefix
	}

	return path.Join(prefix, subfolder)
}

// FormatDate renders a modification time as the gallery's date string.
func FormatDate(t time.Time) string {
	return t.Local().Format(time.DateTime)
}

type cacheKey struct {
	path    string
	size    int64
	modTime time.Time
}

// Scanner walks the gallery root and builds the folder map. Metadata is
// cached by path, size and modification time so a rescan only reads
// files that changed. It is safe for concurrent use.
type Scanner struct {
	root   string
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]map[string]any
}

// NewScanner creates a scanner for root. Folder keys are prefixed with
// prefix.
func NewScanner(root, prefix string, logger *slog.Logger) *Scanner {
	return &Scanner{
		root:   root,
		prefix: prefix,
		logger: logger,
		cache:  make(map[cacheKey]map[string]any),
	}
}

// Scan walks the root and returns every gallery file grouped by folder.
// Hidden directories are skipped and folders without gallery files are
// omitted. Unreadable entries are logged and skipped; only a failure to
// read the root itself is returned.
func (s *Scanner) Scan() (models.FolderMap, error) {
	folders := make(models.FolderMap)
	seen := make(map[cacheKey]struct{})

	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == s.root {
				return err
			}

			s.logger.Warn("skipping unreadable path", slog.String("path", p), slog.String("error", err.Error()))

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()

		if d.IsDir() {
			if p != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}

			return nil
		}

		typ := fileType(name)
		if typ == "" || strings.HasPrefix(name, ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished between readdir and stat
		}

		rel, err := filepath.Rel(s.root, filepath.Dir(p))
		if err != nil {
			return nil //nolint:nilerr // cannot happen for paths under root
		}

		subfolder := filepath.ToSlash(rel)
		if subfolder == "." {
			subfolder = ""
		}

		key := cacheKey{path: p, size: info.Size(), modTime: info.ModTime()}
		seen[key] = struct{}{}

		rec := models.FileRecord{
			Name:      name,
			URL:       ViewURL(name, subfolder),
			Timestamp: float64(info.ModTime().UnixNano()) / 1e9,
			Date:      FormatDate(info.ModTime()),
			Metadata:  map[string]any{},
			Tags:      readSidecar(p),
			Type:      typ,
		}

		if typ == TypeImage {
			rec.Metadata = s.metadata(key)
		}

		folder := FolderKey(s.prefix, subfolder)
		if folders[folder] == nil {
			folders[folder] = make(map[string]models.FileRecord)
		}

		folders[folder][name] = rec

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.prune(seen)

	return folders, nil
}

func (s *Scanner) metadata(key cacheKey) map[string]any {
	s.mu.Lock()
	md, ok := s.cache[key]
	s.mu.Unlock()

	if ok {
		return md
	}

	md, err := metadata.Extract(key.path)
	if err != nil {
		s.logger.Warn("metadata extraction failed",
			slog.String("path", key.path),
			slog.String("error", err.Error()),
		)

		md = map[string]any{}
	}

	md, _ = metadata.Sanitize(md).(map[string]any)

	s.mu.Lock()
	s.cache[key] = md
	s.mu.Unlock()

	return md
}

// prune drops cache entries for files that were not seen by the last
// scan.
func (s *Scanner) prune(seen map[cacheKey]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.cache {
		if _, ok := seen[key]; !ok {
			delete(s.cache, key)
		}
	}
}
