package gallery

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// Sort is the ordering applied to a folder's records.
type Sort string

const (
	SortNewest   Sort = "newest"
	SortOldest   Sort = "oldest"
	SortNameAsc  Sort = "name_asc"
	SortNameDesc Sort = "name_desc"
)

// ParseSort returns the Sort named by s, or false for an unknown name.
func ParseSort(s string) (Sort, bool) {
	switch Sort(s) {
	case SortNewest, SortOldest, SortNameAsc, SortNameDesc:
		return Sort(s), true
	default:
		return "", false
	}
}

// Chronological reports whether the sort groups records by date.
func (s Sort) Chronological() bool {
	return s == SortNewest || s == SortOldest
}

// ViewState is what the user has selected in the gallery view.
type ViewState struct {
	CurrentFolder string
	SearchText    string
	Sort          Sort
	Filters       Filters
}

// Status distinguishes a populated projection from the empty states.
type Status int

const (
	StatusOK Status = iota
	StatusNoFolders
	StatusEmptyFolder
	StatusNoMatches
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoFolders:
		return "no_folders"
	case StatusEmptyFolder:
		return "empty_folder"
	case StatusNoMatches:
		return "no_matches"
	default:
		return "unknown"
	}
}

// Empty-state messages shown in place of the grid.
const (
	MessageNoFolders     = "No folders available."
	MessageEmptyFolder   = "No images in this folder."
	MessageNoSearchMatch = "No images found for your search."
	MessageNoFilterMatch = "No images match the current filters."
)

// ItemKind tags a projection item.
type ItemKind int

const (
	ItemRecord ItemKind = iota
	ItemSeparator
)

// Item is either a date separator or a record.
type Item struct {
	Kind   ItemKind
	Date   string
	Record models.FileRecord
}

// Projection is the computed view of one folder.
type Projection struct {
	Status  Status
	Folder  string
	Message string
	Sort    Sort
	Items   []Item
}

// Records returns just the record items, in order.
func (p Projection) Records() []models.FileRecord {
	out := make([]models.FileRecord, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Kind == ItemRecord {
			out = append(out, it.Record)
		}
	}

	return out
}

// Separators returns the dates of the separator items, in order.
func (p Projection) Separators() []string {
	var out []string
	for _, it := range p.Items {
		if it.Kind == ItemSeparator {
			out = append(out, it.Date)
		}
	}

	return out
}

// ProjectFolder resolves view.CurrentFolder against the store and
// projects it. With no folder selected and an empty store the result
// is StatusNoFolders.
func ProjectFolder(store *Store, view ViewState) Projection {
	if view.CurrentFolder == "" && store.Len() == 0 {
		return Projection{Status: StatusNoFolders, Message: MessageNoFolders, Sort: view.Sort}
	}

	p := Project(store.Get(view.CurrentFolder), view)
	p.Folder = view.CurrentFolder

	return p
}

// Project filters, sorts and groups records for display. It does not
// modify records.
func Project(records []models.FileRecord, view ViewState) Projection {
	p := Projection{Folder: view.CurrentFolder, Sort: view.Sort}

	if len(records) == 0 {
		p.Status = StatusEmptyFolder
		p.Message = MessageEmptyFolder

		return p
	}

	filtered := records

	if view.SearchText != "" {
		filtered = searchByName(filtered, view.SearchText)
	}

	if view.Filters.Active() {
		kept := make([]models.FileRecord, 0, len(filtered))
		for _, rec := range filtered {
			if view.Filters.Matches(rec) {
				kept = append(kept, rec)
			}
		}

		filtered = kept
	}

	if len(filtered) == 0 {
		p.Status = StatusNoMatches
		p.Message = MessageNoFilterMatch

		if view.SearchText != "" {
			p.Message = MessageNoSearchMatch
		}

		return p
	}

	sorted := SortRecords(filtered, view.Sort)
	p.Items = GroupByDate(sorted, view.Sort)

	return p
}

func searchByName(records []models.FileRecord, text string) []models.FileRecord {
	fold := cases.Fold()
	needle := fold.String(text)

	out := make([]models.FileRecord, 0, len(records))
	for _, rec := range records {
		if strings.Contains(fold.String(rec.Name), needle) {
			out = append(out, rec)
		}
	}

	return out
}

// SortRecords returns a stably sorted copy of records. Equal keys keep
// their input order; an unknown sort leaves the order untouched.
func SortRecords(records []models.FileRecord, by Sort) []models.FileRecord {
	out := append([]models.FileRecord(nil), records...)

	switch by {
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	case SortNameAsc:
		c := collate.New(language.Und)
		sort.SliceStable(out, func(i, j int) bool { return c.CompareString(out[i].Name, out[j].Name) < 0 })
	case SortNameDesc:
		c := collate.New(language.Und)
		sort.SliceStable(out, func(i, j int) bool { return c.CompareString(out[i].Name, out[j].Name) > 0 })
	}

	return out
}

// DatePart is the text of a record date before the first space.
func DatePart(date string) string {
	if i := strings.IndexByte(date, ' '); i >= 0 {
		return date[:i]
	}

	return date
}

// GroupByDate interleaves date separators into sorted records for the
// chronological sorts. Records with an empty date never start a group.
func GroupByDate(records []models.FileRecord, by Sort) []Item {
	items := make([]Item, 0, len(records))
	lastDate := ""

	for _, rec := range records {
		if by.Chronological() {
			if d := DatePart(rec.Date); d != "" && d != lastDate {
				items = append(items, Item{Kind: ItemSeparator, Date: d})
				lastDate = d
			}
		}

		items = append(items, Item{Kind: ItemRecord, Record: rec})
	}

	return items
}
