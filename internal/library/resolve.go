package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
)

// Resolve maps a /view request to an absolute path under the root. The
// file must exist and be a gallery file; anything that would leave the
// root, directly or through a symlink, is rejected.
func (l *Library) Resolve(filename, subfolder string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: invalid filename %q", gerrors.ErrPathNotAllowed, filename)
	}

	if strings.Contains(subfolder, "..") {
		return "", fmt.Errorf("%w: %s", gerrors.ErrPathNotAllowed, subfolder)
	}

	if fileType(filename) == "" || shouldIgnore(filename) {
		return "", fmt.Errorf("%w: %s", gerrors.ErrFileNotFound, filename)
	}

	abs := filepath.Join(l.root, filepath.FromSlash(subfolder), filename)
	if !within(l.root, abs) {
		return "", fmt.Errorf("%w: %s", gerrors.ErrPathNotAllowed, subfolder)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", gerrors.ErrFileNotFound, filename)
		}

		return "", fmt.Errorf("evaluating path: %w", err)
	}

	root, err := filepath.EvalSymlinks(l.root)
	if err != nil {
		return "", fmt.Errorf("evaluating root: %w", err)
	}

	if !within(root, real) {
		return "", fmt.Errorf("%w: %s via symlink", gerrors.ErrPathNotAllowed, subfolder)
	}

	info, err := os.Stat(real)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", gerrors.ErrFileNotFound, filename)
	}

	return abs, nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}
