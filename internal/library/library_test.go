package library

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	typ  string
	data []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) PublishData(typ string, data any) error {
	var raw []byte
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.events = append(f.events, published{typ: typ, data: raw})
	f.mu.Unlock()

	return nil
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.events...)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

// --- Scan ---

func TestScan_LayoutAndRecords(t *testing.T) {
	root := t.TempDir()

	a := writeFile(t, root, "a.png", "not really a png")
	writeFile(t, root, "sub/b.jpg", "jpeg")
	writeFile(t, root, "sub/clip.mp4", "video")
	writeFile(t, root, ".hidden/c.png", "hidden")
	writeFile(t, root, "notes.txt", "text")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	mtime := time.Date(2024, 3, 5, 10, 20, 30, 500_000_000, time.Local)
	require.NoError(t, os.Chtimes(a, mtime, mtime))

	folders, err := NewScanner(root, "output", testLogger()).Scan()
	require.NoError(t, err)

	assert.Equal(t, []string{"output", "output/sub"}, folders.Names())

	rec := folders["output"]["a.png"]
	assert.Equal(t, "a.png", rec.Name)
	assert.Equal(t, "/view?filename=a.png&subfolder=", rec.URL)
	assert.Equal(t, "2024-03-05 10:20:30", rec.Date)
	assert.InDelta(t, float64(mtime.UnixNano())/1e9, rec.Timestamp, 1e-6)
	assert.Equal(t, TypeImage, rec.Type)
	assert.NotNil(t, rec.Metadata)

	sub := folders["output/sub"]
	require.Len(t, sub, 2)
	assert.Equal(t, "/view?filename=b.jpg&subfolder=sub", sub["b.jpg"].URL)
	assert.Contains(t, sub["b.jpg"].Metadata, "fileinfo")
	assert.Equal(t, TypeMedia, sub["clip.mp4"].Type)
	assert.Empty(t, sub["clip.mp4"].Metadata)
}

func TestScan_SidecarTags(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")
	writeFile(t, root, "a.yaml", "tags:\n  - portrait\n  - keep\n")
	writeFile(t, root, "b.png", "x")
	writeFile(t, root, "b.yaml", ": not yaml [")

	folders, err := NewScanner(root, "output", testLogger()).Scan()
	require.NoError(t, err)

	assert.Equal(t, []string{"portrait", "keep"}, folders["output"]["a.png"].Tags)
	assert.Nil(t, folders["output"]["b.png"].Tags)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "gone"), "output", testLogger()).Scan()
	require.Error(t, err)
}

func TestScan_CacheReusedUntilFileChanges(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "a.jpg", "x")

	s := NewScanner(root, "output", testLogger())

	first, err := s.Scan()
	require.NoError(t, err)
	assert.Len(t, s.cache, 1)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(p, later, later))

	second, err := s.Scan()
	require.NoError(t, err)
	assert.Len(t, s.cache, 1, "stale entry should be pruned")
	assert.NotEqual(t, first["output"]["a.jpg"].Date, second["output"]["a.jpg"].Date)
}

func TestViewURL(t *testing.T) {
	assert.Equal(t, "/view?filename=a+b%26c.png&subfolder=x/y", ViewURL("a b&c.png", "x/y"))
	assert.Equal(t, "/view?filename=a.png&subfolder=", ViewURL("a.png", ""))
}

func TestFolderKey(t *testing.T) {
	assert.Equal(t, "output", FolderKey("output", ""))
	assert.Equal(t, "output/a/b", FolderKey("output", "a/b"))
}

// --- Library ---

func newLibrary(t *testing.T, root string) (*Library, *fakePublisher) {
	t.Helper()

	pub := &fakePublisher{}
	lib, err := New(root, "output", pub, testLogger())
	require.NoError(t, err)

	return lib, pub
}

func TestLibrary_InitialScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")

	lib, pub := newLibrary(t, root)

	assert.Equal(t, root, lib.Root())
	assert.Contains(t, lib.Snapshot()["output"], "a.png")
	assert.Empty(t, pub.all(), "initial scan publishes nothing")
}

func TestLibrary_RescanPublishesChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")
	lib, pub := newLibrary(t, root)

	writeFile(t, root, "sub/b.png", "x")
	require.NoError(t, os.Remove(filepath.Join(root, "a.png")))

	result, err := lib.Rescan()
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Removed)
	assert.True(t, result.FoldersChanged)
	assert.Equal(t, []string{"output/sub"}, lib.Snapshot().Names())

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventChanges, events[0].typ)

	var batch models.ChangeBatch
	require.NoError(t, json.Unmarshal(events[0].data, &batch))
	assert.Equal(t, models.ActionRemove, batch.Folders["output"]["a.png"].Action)
	assert.Equal(t, models.ActionCreate, batch.Folders["output/sub"]["b.png"].Action)
}

func TestLibrary_RescanWithoutChangesIsSilent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")
	lib, pub := newLibrary(t, root)

	result, err := lib.Rescan()
	require.NoError(t, err)

	assert.False(t, result.Changed())
	assert.Empty(t, pub.all())
}

func TestLibrary_RescanUpdateClearsTags(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")
	sidecar := writeFile(t, root, "a.yaml", "tags: [one]")
	lib, _ := newLibrary(t, root)

	require.Equal(t, []string{"one"}, lib.Snapshot()["output"]["a.png"].Tags)

	require.NoError(t, os.Remove(sidecar))

	result, err := lib.Rescan()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Nil(t, lib.Snapshot()["output"]["a.png"].Tags)
}

func TestLibrary_Reload(t *testing.T) {
	root := t.TempDir()
	lib, pub := newLibrary(t, root)

	writeFile(t, root, "a.png", "x")
	require.NoError(t, lib.Reload())

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventUpdate, events[0].typ)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(events[0].data, &snap))
	assert.Contains(t, snap.Folders["output"], "a.png")
}

func TestLibrary_ClearThenRescanRecreates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "x")
	lib, pub := newLibrary(t, root)

	require.NoError(t, lib.Clear())
	assert.Empty(t, lib.Snapshot())

	result, err := lib.Rescan()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventClear, events[0].typ)
	assert.Nil(t, events[0].data)
	assert.Equal(t, models.EventChanges, events[1].typ)
}

func TestLibrary_RequestRefetch(t *testing.T) {
	lib, pub := newLibrary(t, t.TempDir())

	require.NoError(t, lib.RequestRefetch())
	assert.Equal(t, models.EventFileChange, pub.all()[0].typ)
}

// --- Watch ---

func TestWatch_DebouncedRescan(t *testing.T) {
	root := t.TempDir()
	lib, pub := newLibrary(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- lib.Watch(ctx, 50*time.Millisecond)
	}()

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})

	// Give fsnotify a moment to set up watches.
	time.Sleep(50 * time.Millisecond)

	writeFile(t, root, "new/a.png", "x")
	writeFile(t, root, "new/b.png", "x")
	writeFile(t, root, "ignored.tmp", "x")

	require.Eventually(t, func() bool {
		return len(lib.Snapshot()["output/new"]) == 2
	}, 3*time.Second, 20*time.Millisecond)

	for _, ev := range pub.all() {
		assert.Equal(t, models.EventChanges, ev.typ)
	}
}

func TestShouldIgnore(t *testing.T) {
	assert.True(t, shouldIgnore("/g/a.png~"))
	assert.True(t, shouldIgnore("/g/a.png.swp"))
	assert.True(t, shouldIgnore("/g/a.tmp"))
	assert.True(t, shouldIgnore("/g/.a.png"))
	assert.False(t, shouldIgnore("/g/a.png"))
}
