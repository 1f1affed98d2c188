package gallery

import (
	"sort"
	"strings"
)

// SortFolderNames returns a sorted copy of names in navigation order:
// compared segment by segment on "/", with a parent listed before its
// subfolders.
func SortFolderNames(names []string) []string {
	out := append([]string(nil), names...)

	sort.SliceStable(out, func(i, j int) bool {
		return compareFolderPaths(out[i], out[j]) < 0
	})

	return out
}

func compareFolderPaths(a, b string) int {
	aParts := strings.Split(a, "/")
	bParts := strings.Split(b, "/")

	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if c := strings.Compare(aParts[i], bParts[i]); c != 0 {
			return c
		}
	}

	return len(aParts) - len(bParts)
}

// FirstFolder returns the first folder in navigation order, or "" when
// names is empty.
func FirstFolder(names []string) string {
	if len(names) == 0 {
		return ""
	}

	return SortFolderNames(names)[0]
}
