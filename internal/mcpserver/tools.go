// Package mcpserver registers MCP tools that expose the gallery library.
// It adapts the library and metadata packages to the MCP SDK's tool
// handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

const (
	defaultMaxResults = 50
	maxResultsCap     = 500
)

// Library is the server state the tools read. *library.Library
// satisfies it.
type Library interface {
	Store() *gallery.Store
	Rescan() (gallery.ApplyResult, error)
}

// RegisterTools adds all gallery tools to the given MCP server.
func RegisterTools(server *mcp.Server, lib Library) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_list_folders",
		Description: "List every gallery folder in navigation order with its file count. Use this first to learn the folder names other tools take.",
	}, listFoldersHandler(lib))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_list_images",
		Description: "List the images of one folder as the gallery shows them: sorted (newest, oldest, name_asc, name_desc) and optionally filtered by a case-insensitive name search.",
	}, listImagesHandler(lib))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_search",
		Description: "Search all folders for images whose file name or tags contain the query. Case-insensitive.",
	}, searchHandler(lib))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_get_metadata",
		Description: "Return the generation metadata of one image, either as a short preview (model, prompts, sampler settings) or the full metadata as YAML.",
	}, metadataHandler(lib))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_diff_prompts",
		Description: "Compare the positive prompts of two images. Removed text is marked [-like this-] and added text {+like this+}.",
	}, diffHandler(lib))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_rescan",
		Description: "Rescan the gallery directory now and push any differences to connected clients. Returns a summary of what changed.",
	}, rescanHandler(lib))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListFoldersInput has no parameters.
type ListFoldersInput struct{}

// ListImagesInput holds parameters for gallery_list_images.
type ListImagesInput struct {
	Folder     string `json:"folder" jsonschema:"required,folder name as returned by gallery_list_folders"`
	Sort       string `json:"sort,omitempty" jsonschema:"newest, oldest, name_asc or name_desc; defaults to newest"`
	Search     string `json:"search,omitempty" jsonschema:"case-insensitive substring of the file name"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of images, defaults to 50"`
}

// SearchInput holds parameters for gallery_search.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"required,search text"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, defaults to 50"`
}

// MetadataInput holds parameters for gallery_get_metadata.
type MetadataInput struct {
	Folder string `json:"folder" jsonschema:"required,folder name"`
	Name   string `json:"name" jsonschema:"required,file name within the folder"`
	Format string `json:"format,omitempty" jsonschema:"preview or yaml; defaults to preview"`
}

// DiffInput holds parameters for gallery_diff_prompts.
type DiffInput struct {
	FolderA string `json:"folder_a" jsonschema:"required,folder of the first image"`
	NameA   string `json:"name_a" jsonschema:"required,file name of the first image"`
	FolderB string `json:"folder_b" jsonschema:"required,folder of the second image"`
	NameB   string `json:"name_b" jsonschema:"required,file name of the second image"`
}

// RescanInput has no parameters.
type RescanInput struct{}

// --- Output types ---

// FolderEntry is one folder in a listing.
type FolderEntry struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// ListFoldersResult is the response for gallery_list_folders.
type ListFoldersResult struct {
	Folders []FolderEntry `json:"folders"`
}

// ImageEntry is one image in a listing.
type ImageEntry struct {
	Folder string   `json:"folder"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Date   string   `json:"date"`
	Type   string   `json:"type,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// ImagesResult is the response for gallery_list_images and gallery_search.
type ImagesResult struct {
	Total     int          `json:"total"`
	Truncated bool         `json:"truncated,omitempty"`
	Images    []ImageEntry `json:"images"`
}

// MetadataResult is the response for gallery_get_metadata.
type MetadataResult struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Text   string `json:"text"`
}

// DiffResult is the response for gallery_diff_prompts.
type DiffResult struct {
	PromptA string `json:"prompt_a"`
	PromptB string `json:"prompt_b"`
	Diff    string `json:"diff"`
	Equal   bool   `json:"equal"`
}

// RescanResult is the response for gallery_rescan.
type RescanResult struct {
	Changed bool   `json:"changed"`
	Summary string `json:"summary"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
}

// --- Handlers ---

func listFoldersHandler(lib Library) mcp.ToolHandlerFor[ListFoldersInput, *ListFoldersResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (*mcp.CallToolResult, *ListFoldersResult, error) {
		store := lib.Store()

		result := &ListFoldersResult{Folders: []FolderEntry{}}
		for _, name := range gallery.SortFolderNames(store.FolderNames()) {
			result.Folders = append(result.Folders, FolderEntry{Name: name, Files: len(store.Get(name))})
		}

		return textResult(result), result, nil
	}
}

func listImagesHandler(lib Library) mcp.ToolHandlerFor[ListImagesInput, *ImagesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListImagesInput) (*mcp.CallToolResult, *ImagesResult, error) {
		store := lib.Store()
		if !store.Has(input.Folder) {
			return nil, nil, fmt.Errorf("%w: %s", gerrors.ErrFolderNotFound, input.Folder)
		}

		sort := gallery.SortNewest
		if input.Sort != "" {
			s, ok := gallery.ParseSort(input.Sort)
			if !ok {
				return nil, nil, fmt.Errorf("unknown sort %q", input.Sort)
			}

			sort = s
		}

		p := gallery.ProjectFolder(store, gallery.ViewState{
			CurrentFolder: input.Folder,
			SearchText:    input.Search,
			Sort:          sort,
		})

		result := images(input.Folder, p.Records(), input.MaxResults)

		return textResult(result), result, nil
	}
}

func searchHandler(lib Library) mcp.ToolHandlerFor[SearchInput, *ImagesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, *ImagesResult, error) {
		query := strings.ToLower(strings.TrimSpace(input.Query))
		if query == "" {
			return nil, nil, fmt.Errorf("query is required")
		}

		store := lib.Store()
		limit := clampLimit(input.MaxResults)
		result := &ImagesResult{Images: []ImageEntry{}}

		for _, folder := range gallery.SortFolderNames(store.FolderNames()) {
			for _, rec := range gallery.SortRecords(store.Get(folder), gallery.SortNewest) {
				if !matches(rec, query) {
					continue
				}

				result.Total++
				if len(result.Images) < limit {
					result.Images = append(result.Images, entry(folder, rec))
				}
			}
		}

		result.Truncated = result.Total > len(result.Images)

		return textResult(result), result, nil
	}
}

func metadataHandler(lib Library) mcp.ToolHandlerFor[MetadataInput, *MetadataResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input MetadataInput) (*mcp.CallToolResult, *MetadataResult, error) {
		rec, err := lookup(lib, input.Folder, input.Name)
		if err != nil {
			return nil, nil, err
		}

		result := &MetadataResult{Folder: input.Folder, Name: input.Name}

		switch input.Format {
		case "", "preview":
			result.Format = "preview"
			result.Text = metadata.Preview(rec.Metadata)
		case "yaml":
			text, err := metadata.RenderYAML(rec.Metadata)
			if err != nil {
				return nil, nil, fmt.Errorf("rendering metadata: %w", err)
			}

			result.Format = "yaml"
			result.Text = text
		default:
			return nil, nil, fmt.Errorf("unknown format %q", input.Format)
		}

		return textResult(result), result, nil
	}
}

func diffHandler(lib Library) mcp.ToolHandlerFor[DiffInput, *DiffResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DiffInput) (*mcp.CallToolResult, *DiffResult, error) {
		a, err := lookup(lib, input.FolderA, input.NameA)
		if err != nil {
			return nil, nil, err
		}

		b, err := lookup(lib, input.FolderB, input.NameB)
		if err != nil {
			return nil, nil, err
		}

		result := &DiffResult{
			PromptA: metadata.PositivePrompt(a.Metadata),
			PromptB: metadata.PositivePrompt(b.Metadata),
		}
		result.Diff = metadata.FormatDiff(metadata.DiffPrompts(result.PromptA, result.PromptB))
		result.Equal = result.PromptA == result.PromptB

		return textResult(result), result, nil
	}
}

func rescanHandler(lib Library) mcp.ToolHandlerFor[RescanInput, *RescanResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ RescanInput) (*mcp.CallToolResult, *RescanResult, error) {
		applied, err := lib.Rescan()
		if err != nil {
			return nil, nil, err
		}

		result := &RescanResult{
			Changed: applied.Changed(),
			Summary: gallery.DescribeBatch(applied),
			Created: applied.Created,
			Updated: applied.Updated,
			Removed: applied.Removed,
		}

		return textResult(result), result, nil
	}
}

// --- helpers ---

func lookup(lib Library, folder, name string) (models.FileRecord, error) {
	store := lib.Store()
	if !store.Has(folder) {
		return models.FileRecord{}, fmt.Errorf("%w: %s", gerrors.ErrFolderNotFound, folder)
	}

	rec, ok := store.File(folder, name)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("%w: %s/%s", gerrors.ErrFileNotFound, folder, name)
	}

	return rec, nil
}

func matches(rec models.FileRecord, query string) bool {
	if strings.Contains(strings.ToLower(rec.Name), query) {
		return true
	}

	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}

	return false
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultMaxResults
	case n > maxResultsCap:
		return maxResultsCap
	default:
		return n
	}
}

func entry(folder string, rec models.FileRecord) ImageEntry {
	return ImageEntry{
		Folder: folder,
		Name:   rec.Name,
		URL:    rec.URL,
		Date:   rec.Date,
		Type:   rec.Type,
		Tags:   rec.Tags,
	}
}

func images(folder string, records []models.FileRecord, maxResults int) *ImagesResult {
	limit := clampLimit(maxResults)
	result := &ImagesResult{Total: len(records), Images: []ImageEntry{}}

	for _, rec := range records {
		if len(result.Images) == limit {
			result.Truncated = true
			break
		}

		result.Images = append(result.Images, entry(folder, rec))
	}

	return result
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
