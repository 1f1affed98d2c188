package render

import "sync"

// LazyLoader defers loading a cell's real source until the cell is
// reported visible. Each observed cell fires at most once; after that
// it is no longer observed.
type LazyLoader struct {
	mu       sync.Mutex
	observed map[string]*Cell
	loaded   int
	onLoad   func(c *Cell)
}

// NewLazyLoader creates a loader. onLoad, if non-nil, is called after a
// cell's source has been swapped in.
func NewLazyLoader(onLoad func(c *Cell)) *LazyLoader {
	return &LazyLoader{
		observed: make(map[string]*Cell),
		onLoad:   onLoad,
	}
}

// Observe registers a lazy cell. It returns false, and does nothing, if
// the cell is not lazy or its ID is already observed.
func (l *LazyLoader) Observe(c *Cell) bool {
	if c == nil || !c.Lazy || c.DataSrc == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.observed[c.ID]; ok {
		return false
	}

	l.observed[c.ID] = c

	return true
}

// Visible reports that the cell with id scrolled into view. The first
// report swaps DataSrc into Src and stops observing the cell. Reports
// for unknown or already loaded cells are no-ops and return false.
func (l *LazyLoader) Visible(id string) bool {
	l.mu.Lock()

	c, ok := l.observed[id]
	if !ok {
		l.mu.Unlock()
		return false
	}

	delete(l.observed, id)

	c.Src = c.DataSrc
	c.DataSrc = ""
	c.Lazy = false
	l.loaded++

	l.mu.Unlock()

	if l.onLoad != nil {
		l.onLoad(c)
	}

	return true
}

// Disconnect stops observing every cell. Cells that never became
// visible keep their placeholder.
func (l *LazyLoader) Disconnect() {
	l.mu.Lock()
	l.observed = make(map[string]*Cell)
	l.mu.Unlock()
}

// Observed returns the number of cells still waiting to load.
func (l *LazyLoader) Observed() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.observed)
}

// Loaded returns how many cells have loaded since the loader was made.
func (l *LazyLoader) Loaded() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loaded
}
