package state

import (
	"path/filepath"
	"testing"
	"time"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock makes s return increasing timestamps one second apart.
func fixedClock(s *State) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SetSetting(SettingSort, "oldest"))
	require.NoError(t, s1.AddFavorite("/view?filename=a.png&subfolder="))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, "oldest", s2.Setting(SettingSort))
	assert.True(t, s2.IsFavorite("/view?filename=a.png&subfolder="))
}

// --- Settings ---

func TestSetting_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	assert.Equal(t, "", s.Setting(SettingLastFolder))
}

func TestSetSetting_Overwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetSetting(SettingLastFolder, "output"))
	require.NoError(t, s.SetSetting(SettingLastFolder, "output/sub"))
	assert.Equal(t, "output/sub", s.Setting(SettingLastFolder))
}

func TestSetSetting_EmptyDeletes(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetSetting(SettingPageSize, "40"))
	require.NoError(t, s.SetSetting(SettingPageSize, ""))

	all, err := s.Settings()
	require.NoError(t, err)
	assert.NotContains(t, all, SettingPageSize)
}

// --- Favorites ---

func TestToggleFavorite(t *testing.T) {
	s := testDB(t)

	on, err := s.ToggleFavorite("/a")
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, s.IsFavorite("/a"))

	on, err = s.ToggleFavorite("/a")
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, s.IsFavorite("/a"))
}

func TestFavorites_OldestFirst(t *testing.T) {
	s := testDB(t)
	fixedClock(s)

	require.NoError(t, s.AddFavorite("/z"))
	require.NoError(t, s.AddFavorite("/a"))
	require.NoError(t, s.AddFavorite("/z"))

	urls, err := s.FavoriteURLs()
	require.NoError(t, err)
	assert.Equal(t, []string{"/z", "/a"}, urls)
}

func TestAddFavorite_EmptyURL(t *testing.T) {
	s := testDB(t)
	assert.ErrorIs(t, s.AddFavorite(""), gerrors.ErrInvalidName)
}

func TestRemoveFavorite_Missing(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.RemoveFavorite("/never"))
}

// --- Collections ---

func TestCreateCollection(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("  best  "))

	c, err := s.Collection("best")
	require.NoError(t, err)
	assert.Equal(t, "best", c.Name)
	assert.Empty(t, c.URLs)
}

func TestCreateCollection_Duplicate(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("best"))
	assert.ErrorIs(t, s.CreateCollection("best"), gerrors.ErrCollectionExists)
}

func TestCreateCollection_BlankName(t *testing.T) {
	s := testDB(t)
	assert.ErrorIs(t, s.CreateCollection("   "), gerrors.ErrInvalidName)
}

func TestCollection_NotFound(t *testing.T) {
	s := testDB(t)
	_, err := s.Collection("nope")
	assert.ErrorIs(t, err, gerrors.ErrCollectionNotFound)
	assert.ErrorIs(t, s.AddToCollection("nope", "/a"), gerrors.ErrCollectionNotFound)
	assert.ErrorIs(t, s.DeleteCollection("nope"), gerrors.ErrCollectionNotFound)
}

func TestAddToCollection_NoDuplicates(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("best"))
	require.NoError(t, s.AddToCollection("best", "/a"))
	require.NoError(t, s.AddToCollection("best", "/b"))
	require.NoError(t, s.AddToCollection("best", "/a"))

	c, err := s.Collection("best")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, c.URLs)
	assert.True(t, c.Contains("/b"))
}

func TestRemoveFromCollection(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("best"))
	require.NoError(t, s.AddToCollection("best", "/a"))
	require.NoError(t, s.AddToCollection("best", "/b"))
	require.NoError(t, s.RemoveFromCollection("best", "/a"))

	c, err := s.Collection("best")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b"}, c.URLs)
}

func TestCollections_SortedByName(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("zeta"))
	require.NoError(t, s.CreateCollection("alpha"))

	all, err := s.Collections()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "zeta", all[1].Name)
}

func TestDeleteCollection(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.CreateCollection("best"))
	require.NoError(t, s.DeleteCollection("best"))

	all, err := s.Collections()
	require.NoError(t, err)
	assert.Empty(t, all)
}
