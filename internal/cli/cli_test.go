package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

type fakeServer struct {
	*httptest.Server

	mu    sync.Mutex
	posts []string
}

func (s *fakeServer) posted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.posts...)
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

// setup starts a fake gallery server and points the client
// configuration at it with an isolated state database.
func setup(t *testing.T) *fakeServer {
	t.Helper()

	folders := models.FolderMap{
		"output": {
			"a-cat.png": rec("a-cat.png", "a red cat", 3),
			"b-cat.png": rec("b-cat.png", "a big cat", 2),
		},
		"output/2024": {
			"c-owl.png": rec("c-owl.png", "an owl", 1),
		},
	}

	fs := &fakeServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /Gallery/images", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Snapshot{Folders: folders})
	})
	mux.HandleFunc("POST /Gallery/{action}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.posts = append(fs.posts, r.PathValue("action"))
		fs.mu.Unlock()

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)

	t.Setenv("GALLERY_SERVER_URL", fs.URL)
	t.Setenv("GALLERY_STATE_PATH", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("GALLERY_USERNAME", "")
	t.Setenv("GALLERY_PASSWORD", "")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "error")

	return fs
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := Root("test")

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, err := run(t, args...)
	require.NoError(t, err, "gallery %s", strings.Join(args, " "))

	return out
}

// --- ls ---

func TestLs_FirstFolder(t *testing.T) {
	setup(t)

	out := mustRun(t, "ls")

	assert.Contains(t, out, "-- 2024-05-01 --")
	assert.Contains(t, out, "a-cat.png")
	assert.Contains(t, out, "b-cat.png")
	assert.NotContains(t, out, "c-owl.png")
	assert.Contains(t, out, "[output: 2 images (newest)]")
	assert.Less(t, strings.Index(out, "a-cat.png"), strings.Index(out, "b-cat.png"))
}

func TestLs_Folders(t *testing.T) {
	setup(t)

	assert.Equal(t, "output\noutput/2024\n", mustRun(t, "ls", "--folders"))
}

func TestLs_FolderSortSearch(t *testing.T) {
	setup(t)

	out := mustRun(t, "ls", "output", "--sort", "oldest", "--search", "B-")
	assert.Contains(t, out, "b-cat.png")
	assert.NotContains(t, out, "a-cat.png")
	assert.Contains(t, out, "[output: 1 image (oldest)]")

	// The chosen folder is remembered.
	out = mustRun(t, "ls", "output/2024")
	assert.Contains(t, out, "c-owl.png")

	out = mustRun(t, "ls")
	assert.Contains(t, out, "c-owl.png")
}

func TestLs_Errors(t *testing.T) {
	setup(t)

	_, err := run(t, "ls", "missing")
	require.ErrorIs(t, err, gerrors.ErrFolderNotFound)

	_, err = run(t, "ls", "--sort", "sideways")
	require.Error(t, err)

	_, err = run(t, "ls", "--favorites", "--folders")
	require.Error(t, err)
}

func TestServerFlagOverridesEnvironment(t *testing.T) {
	fs := setup(t)
	t.Setenv("GALLERY_SERVER_URL", "ftp://nowhere")

	_, err := run(t, "ls")
	require.Error(t, err)

	out := mustRun(t, "ls", "--folders", "--server", fs.URL)
	assert.Contains(t, out, "output/2024")
}

// --- favorites and collections ---

func TestFavorites(t *testing.T) {
	setup(t)

	assert.Equal(t, "no favorites\n", mustRun(t, "fav", "list"))
	assert.Equal(t, "starred output/b-cat.png\n", mustRun(t, "fav", "toggle", "output/b-cat.png"))
	assert.Contains(t, mustRun(t, "fav", "list"), "/view?filename=b-cat.png")

	out := mustRun(t, "ls", "--favorites")
	assert.Contains(t, out, "* b-cat.png")
	assert.NotContains(t, out, "a-cat.png")
	assert.Contains(t, out, "[Favorites: 1 image (newest)]")

	assert.Equal(t, "unstarred /view?filename=b-cat.png\n", mustRun(t, "fav", "toggle", "/view?filename=b-cat.png"))
	assert.Contains(t, mustRun(t, "ls", "--favorites"), "No favorites yet.")
}

func TestFavoriteToggle_UnknownImage(t *testing.T) {
	setup(t)

	_, err := run(t, "fav", "toggle", "output/nope.png")
	require.ErrorIs(t, err, gerrors.ErrFileNotFound)
}

func TestCollections(t *testing.T) {
	setup(t)

	assert.Equal(t, "no collections\n", mustRun(t, "collection", "list"))
	mustRun(t, "collection", "create", "best")
	mustRun(t, "col", "add", "best", "output/2024/c-owl.png")
	mustRun(t, "col", "add", "best", "output/a-cat.png")

	assert.Equal(t, "  best  (2)\n", mustRun(t, "collection", "list"))
	assert.Equal(t, "/view?filename=c-owl.png\n/view?filename=a-cat.png\n", mustRun(t, "collection", "show", "best"))

	out := mustRun(t, "ls", "--collection", "best")
	assert.Contains(t, out, "c-owl.png")
	assert.Contains(t, out, "a-cat.png")
	assert.Contains(t, out, "[best: 2 images (newest)]")

	mustRun(t, "collection", "remove", "best", "output/a-cat.png")
	assert.Equal(t, "/view?filename=c-owl.png\n", mustRun(t, "collection", "show", "best"))

	_, err := run(t, "collection", "create", "best")
	require.ErrorIs(t, err, gerrors.ErrCollectionExists)

	mustRun(t, "collection", "delete", "best")

	_, err = run(t, "collection", "show", "best")
	require.ErrorIs(t, err, gerrors.ErrCollectionNotFound)
}

// --- settings ---

func TestSettings(t *testing.T) {
	setup(t)

	mustRun(t, "settings", "set", "page_size", "10")
	mustRun(t, "settings", "set", "sort", "name_desc")
	assert.Equal(t, "sort=name_desc\npage_size=10\n", mustRun(t, "settings"))

	mustRun(t, "settings", "set", "sort")
	assert.Equal(t, "page_size=10\n", mustRun(t, "settings"))

	_, err := run(t, "settings", "set", "sort", "sideways")
	require.Error(t, err)

	_, err = run(t, "settings", "set", "page_size", "-1")
	require.Error(t, err)

	_, err = run(t, "settings", "set", "colour", "blue")
	require.Error(t, err)
}

func TestSavedSortUsedByLs(t *testing.T) {
	setup(t)

	mustRun(t, "settings", "set", "sort", "oldest")

	out := mustRun(t, "ls")
	assert.Contains(t, out, "(oldest)]")
	assert.Less(t, strings.Index(out, "b-cat.png"), strings.Index(out, "a-cat.png"))
}

// --- metadata ---

func TestMeta(t *testing.T) {
	fs := setup(t)

	out := mustRun(t, "meta", "output/a-cat.png")
	assert.Contains(t, out, "Positive Prompt: a red cat")
	assert.Contains(t, out, "Source: "+fs.URL+"/view?filename=a-cat.png")

	out = mustRun(t, "meta", "output/a-cat.png", "--yaml")
	assert.Equal(t, "positive_prompt: a red cat\n", out)
}

func TestDiff(t *testing.T) {
	setup(t)

	assert.Equal(t, "a [-red-]{+big+} cat\n", mustRun(t, "diff", "output/a-cat.png", "output/b-cat.png"))

	_, err := run(t, "diff", "output/a-cat.png", "nofolder")
	require.Error(t, err)
}

// --- control ---

func TestControlCommands(t *testing.T) {
	fs := setup(t)

	for _, name := range []string{"refresh", "clear", "update"} {
		assert.Equal(t, "ok\n", mustRun(t, name))
	}

	assert.Equal(t, []string{"refresh", "clear", "update"}, fs.posted())
}

// --- helpers ---

func TestFindRecord(t *testing.T) {
	folders := models.FolderMap{
		"output/a/b": {"x.png": rec("x.png", "", 1)},
	}

	got, err := findRecord(folders, "output/a/b/x.png")
	require.NoError(t, err)
	assert.Equal(t, "x.png", got.Name)

	for _, ref := range []string{"x.png", "/x.png", "output/a/b/"} {
		_, err := findRecord(folders, ref)
		assert.Error(t, err, ref)
	}

	_, err = findRecord(folders, "output/a/x.png")
	assert.ErrorIs(t, err, gerrors.ErrFolderNotFound)

	_, err = findRecord(folders, "output/a/b/y.png")
	assert.ErrorIs(t, err, gerrors.ErrFileNotFound)
}
