package render

import (
	"fmt"
	"io"
	"sync"
)

// MemorySurface keeps displayed cells in memory. Front ends that draw
// on their own schedule (the terminal UI) read from it, and tests
// inspect it.
type MemorySurface struct {
	mu      sync.Mutex
	cells   []*Cell
	message string
	status  string
	offset  int
}

// NewMemorySurface creates an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

func (s *MemorySurface) ScrollOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.offset
}

func (s *MemorySurface) SetScrollOffset(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset = offset
}

func (s *MemorySurface) Replace(cells []*Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells = append([]*Cell(nil), cells...)
	s.message = ""
	// A browser resets scroll when children are replaced; the renderer
	// restores it afterwards.
	s.offset = 0
}

func (s *MemorySurface) Append(cells []*Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells = append(s.cells, cells...)
}

func (s *MemorySurface) ShowMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells = nil
	s.message = text
	s.offset = 0
}

func (s *MemorySurface) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = text
}

// Cells returns the displayed cells.
func (s *MemorySurface) Cells() []*Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Cell(nil), s.cells...)
}

// Records returns the displayed record cells.
func (s *MemorySurface) Records() []*Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Cell
	for _, c := range s.cells {
		if c.Kind == CellRecord {
			out = append(out, c)
		}
	}

	return out
}

// Message returns the message shown instead of cells, if any.
func (s *MemorySurface) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.message
}

// Status returns the last status text.
func (s *MemorySurface) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// TextSurface writes a plain listing to w on every change. Used for
// scripted, non-interactive output.
type TextSurface struct {
	w      io.Writer
	offset int
}

// NewTextSurface creates a surface writing to w.
func NewTextSurface(w io.Writer) *TextSurface {
	return &TextSurface{w: w}
}

func (s *TextSurface) ScrollOffset() int          { return s.offset }
func (s *TextSurface) SetScrollOffset(offset int) { s.offset = offset }

func (s *TextSurface) Replace(cells []*Cell) {
	s.Append(cells)
}

func (s *TextSurface) Append(cells []*Cell) {
	for _, c := range cells {
		switch c.Kind {
		case CellSeparator:
			fmt.Fprintf(s.w, "-- %s --\n", c.Date)
		case CellRecord:
			star := " "
			if c.Favorite {
				star = "*"
			}

			fmt.Fprintf(s.w, "%s %-40s %s\n", star, c.Record.Name, c.Record.Date)
		}
	}
}

func (s *TextSurface) ShowMessage(text string) {
	fmt.Fprintln(s.w, text)
}

func (s *TextSurface) SetStatus(text string) {
	if text != "" {
		fmt.Fprintf(s.w, "[%s]\n", text)
	}
}
