package gallery

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// Filters maps a dotted metadata path (e.g. "model" or "prompt.3.inputs.seed")
// to the set of values a record may have there. Paths with no values
// do not filter.
type Filters map[string][]string

// Active reports whether any path has at least one allowed value.
func (f Filters) Active() bool {
	for _, values := range f {
		if len(values) > 0 {
			return true
		}
	}

	return false
}

// Clone returns a copy that shares no slices with f.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}

	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}

	return out
}

// FilterKeys are the metadata fields offered as filter pickers. The
// server derives them from generation parameters.
var FilterKeys = []string{"model", "sampler", "steps", "cfg_scale", "seed"}

// Matches reports whether rec passes every active filter. A record
// without metadata fails any active filter.
func (f Filters) Matches(rec models.FileRecord) bool {
	if !f.Active() {
		return true
	}

	if rec.Metadata == nil {
		return false
	}

	for path, allowed := range f {
		if len(allowed) == 0 {
			continue
		}

		value, ok := MetadataValue(rec.Metadata, path)
		if !ok || !contains(allowed, value) {
			return false
		}
	}

	return true
}

// MetadataValue walks a dotted path through nested metadata objects and
// arrays and renders the value found as a string.
func MetadataValue(md map[string]any, path string) (string, bool) {
	var cur any = md

	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return "", false
			}

			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", false
			}

			cur = node[idx]
		default:
			return "", false
		}
	}

	return stringify(cur), true
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}

		return string(data)
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}

	return false
}

// FilterOptions lists the distinct values present for each of FilterKeys
// across records, sorted. Keys with no values are omitted.
func FilterOptions(records []models.FileRecord) map[string][]string {
	seen := make(map[string]map[string]struct{})

	for _, rec := range records {
		if rec.Metadata == nil {
			continue
		}

		for _, key := range FilterKeys {
			value, ok := MetadataValue(rec.Metadata, key)
			if !ok || value == "" || value == "null" {
				continue
			}

			if seen[key] == nil {
				seen[key] = make(map[string]struct{})
			}

			seen[key][value] = struct{}{}
		}
	}

	out := make(map[string][]string, len(seen))

	for key, values := range seen {
		list := make([]string, 0, len(values))
		for v := range values {
			list = append(list, v)
		}

		sort.Strings(list)
		out[key] = list
	}

	return out
}
