package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortFolderNames(t *testing.T) {
	in := []string{"output/b", "output", "output/a/deep", "input", "output/a"}

	got := SortFolderNames(in)

	assert.Equal(t, []string{"input", "output", "output/a", "output/a/deep", "output/b"}, got)
	assert.Equal(t, "output/b", in[0], "input must not be reordered")
}

func TestFirstFolder(t *testing.T) {
	assert.Equal(t, "", FirstFolder(nil))
	assert.Equal(t, "A", FirstFolder([]string{"C", "A", "B"}))
}
