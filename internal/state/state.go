package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.gallery-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	settingsBucket    = []byte("settings")
	favoritesBucket   = []byte("favorites")
	collectionsBucket = []byte("collections")
)

// Well-known setting keys.
const (
	SettingSort       = "sort"
	SettingLastFolder = "last_folder"
	SettingPageSize   = "page_size"
)

// Favorite is a file URL the user starred.
type Favorite struct {
	URL   string `json:"url"`
	Added int64  `json:"added"`
}

// Collection is a named, ordered list of file URLs.
type Collection struct {
	Name    string   `json:"name"`
	URLs    []string `json:"urls"`
	Created int64    `json:"created"`
}

// Contains reports whether url is in the collection.
func (c Collection) Contains(url string) bool {
	for _, u := range c.URLs {
		if u == url {
			return true
		}
	}

	return false
}

// State wraps a bbolt database holding user preferences: settings,
// favorites and collections. Gallery contents are never stored here.
type State struct {
	db  *bolt.DB
	now func() time.Time
}

// Load opens the state database at ~/.gallery-sync/state.db, creating it
// if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{settingsBucket, favoritesBucket, collectionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Setting returns a stored setting, or empty string.
func (s *State) Setting(key string) string {
	var value string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(settingsBucket).Get([]byte(key)); v != nil {
			value = string(v)
		}

		return nil
	})

	return value
}

// SetSetting persists a setting. An empty value deletes it.
func (s *State) SetSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if value == "" {
			return b.Delete([]byte(key))
		}

		return b.Put([]byte(key), []byte(value))
	})
}

// Settings returns every stored setting.
func (s *State) Settings() (map[string]string, error) {
	out := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})

	return out, err
}

// IsFavorite reports whether url is a favorite.
func (s *State) IsFavorite(url string) bool {
	found := false

	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(favoritesBucket).Get([]byte(url)) != nil
		return nil
	})

	return found
}

// AddFavorite marks url as a favorite. Adding an existing favorite keeps
// its original timestamp.
func (s *State) AddFavorite(url string) error {
	if url == "" {
		return gerrors.ErrInvalidName
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(favoritesBucket)
		if b.Get([]byte(url)) != nil {
			return nil
		}

		data, err := json.Marshal(Favorite{URL: url, Added: s.now().UnixNano()})
		if err != nil {
			return err
		}

		return b.Put([]byte(url), data)
	})
}

// RemoveFavorite unmarks url. Removing a non-favorite is not an error.
func (s *State) RemoveFavorite(url string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(favoritesBucket).Delete([]byte(url))
	})
}

// ToggleFavorite flips the favorite state of url and returns the new
// state.
func (s *State) ToggleFavorite(url string) (bool, error) {
	if s.IsFavorite(url) {
		return false, s.RemoveFavorite(url)
	}

	return true, s.AddFavorite(url)
}

// Favorites returns all favorites, oldest first.
func (s *State) Favorites() ([]Favorite, error) {
	var favs []Favorite

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(favoritesBucket).ForEach(func(k, v []byte) error {
			var f Favorite
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			favs = append(favs, f)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(favs, func(i, j int) bool {
		if favs[i].Added != favs[j].Added {
			return favs[i].Added < favs[j].Added
		}

		return favs[i].URL < favs[j].URL
	})

	return favs, nil
}

// FavoriteURLs returns the favorite URLs, oldest first.
func (s *State) FavoriteURLs() ([]string, error) {
	favs, err := s.Favorites()
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(favs))
	for _, f := range favs {
		urls = append(urls, f.URL)
	}

	return urls, nil
}

// CreateCollection adds an empty collection.
func (s *State) CreateCollection(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return gerrors.ErrInvalidName
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket)
		if b.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %s", gerrors.ErrCollectionExists, name)
		}

		return putCollection(b, Collection{Name: name, Created: s.now().UnixNano()})
	})
}

// DeleteCollection removes a collection.
func (s *State) DeleteCollection(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", gerrors.ErrCollectionNotFound, name)
		}

		return b.Delete([]byte(name))
	})
}

// Collection returns one collection by name.
func (s *State) Collection(name string) (Collection, error) {
	var c Collection

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(collectionsBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: %s", gerrors.ErrCollectionNotFound, name)
		}

		return json.Unmarshal(v, &c)
	})

	return c, err
}

// Collections returns every collection in name order.
func (s *State) Collections() ([]Collection, error) {
	var out []Collection

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).ForEach(func(k, v []byte) error {
			var c Collection
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			out = append(out, c)

			return nil
		})
	})

	return out, err
}

// AddToCollection appends url to the named collection. A URL already in
// the collection is not added twice.
func (s *State) AddToCollection(name, url string) error {
	if url == "" {
		return gerrors.ErrInvalidName
	}

	return s.updateCollection(name, func(c *Collection) {
		if !c.Contains(url) {
			c.URLs = append(c.URLs, url)
		}
	})
}

// RemoveFromCollection removes url from the named collection.
func (s *State) RemoveFromCollection(name, url string) error {
	return s.updateCollection(name, func(c *Collection) {
		kept := c.URLs[:0]
		for _, u := range c.URLs {
			if u != url {
				kept = append(kept, u)
			}
		}

		c.URLs = kept
	})
}

func (s *State) updateCollection(name string, fn func(c *Collection)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket)

		v := b.Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: %s", gerrors.ErrCollectionNotFound, name)
		}

		var c Collection
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}

		fn(&c)

		return putCollection(b, c)
	})
}

func putCollection(b *bolt.Bucket, c Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return b.Put([]byte(c.Name), data)
}

// DefaultPath returns ~/.gallery-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".gallery-sync", "state.db"), nil
}
