package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/metadata"
	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

func lsCmd(o *options) *cobra.Command {
	var (
		sortKey    string
		search     string
		collection string
		folders    bool
		favorites  bool
	)

	cmd := &cobra.Command{
		Use:   "ls [folder]",
		Short: "List a folder, favorites or a collection",
		Long: `List the records of a folder as the browser would show them.

Without a folder the last viewed folder is listed, falling back to the
first one.

Example:
  gallery ls output/2024 --sort name_asc --search cat
  gallery ls --favorites
  gallery ls --folders`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, logger, err := o.connect(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			prefs, err := openState(cfg)
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			defer prefs.Close()

			surface := render.NewMemorySurface()
			g := widget.New(surface, prefs, c, widget.Options{BaseURL: c.BaseURL()}, logger)

			g.Open()
			defer g.Close()

			if err := g.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("fetching listing: %w", err)
			}

			out := cmd.OutOrStdout()

			if folders {
				for _, f := range g.Folders() {
					fmt.Fprintln(out, f)
				}

				return nil
			}

			if sortKey != "" {
				if err := g.SetSort(sortKey); err != nil {
					return err
				}
			}

			if search != "" {
				g.SetSearch(search)
			}

			switch {
			case favorites:
				g.ShowFavorites()
			case collection != "":
				if err := g.ViewCollection(collection); err != nil {
					return err
				}
			case len(args) == 1:
				if err := g.SelectFolder(args[0]); err != nil {
					return err
				}
			}

			printSurface(out, surface)

			return nil
		},
	}

	cmd.Flags().StringVar(&sortKey, "sort", "", "sort: newest, oldest, name_asc, name_desc")
	cmd.Flags().StringVar(&search, "search", "", "only names containing this text")
	cmd.Flags().StringVar(&collection, "collection", "", "list a collection instead of a folder")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "list favorites instead of a folder")
	cmd.Flags().BoolVar(&folders, "folders", false, "list folder names only")
	cmd.MarkFlagsMutuallyExclusive("favorites", "collection", "folders")

	return cmd
}

// printSurface writes what surface shows as plain text.
func printSurface(w io.Writer, surface *render.MemorySurface) {
	text := render.NewTextSurface(w)

	if msg := surface.Message(); msg != "" {
		text.ShowMessage(msg)
	} else {
		text.Replace(surface.Cells())
	}

	text.SetStatus(surface.Status())
}

func watchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the last viewed folder on every change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, c, logger, err := o.connect(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			prefs, err := openState(cfg)
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			defer prefs.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g := widget.New(render.NewTextSurface(cmd.OutOrStdout()), prefs, c, widget.Options{
				BaseURL: c.BaseURL(),
			}, logger)
			g.Open()

			events := make(chan models.Event, eventBuffer)

			eg, egctx := errgroup.WithContext(ctx)

			// The stream's connect event triggers the first fetch.
			eg.Go(func() error {
				defer close(events)
				return c.NewStream().Listen(egctx, events)
			})

			eg.Go(func() error {
				return g.Run(egctx, events)
			})

			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}
}

func metaCmd(o *options) *cobra.Command {
	var yamlOut bool

	cmd := &cobra.Command{
		Use:   "meta <folder>/<name>",
		Short: "Show the generation metadata of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, _, err := o.connect(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			folders, err := c.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching listing: %w", err)
			}

			rec, err := findRecord(folders, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if yamlOut {
				text, err := metadata.RenderYAML(rec.Metadata)
				if err != nil {
					return fmt.Errorf("rendering metadata: %w", err)
				}

				fmt.Fprint(out, text)

				return nil
			}

			fmt.Fprint(out, metadata.Preview(rec.Metadata))
			fmt.Fprintf(out, "Source: %s\n", c.MediaURL(rec.URL))

			return nil
		},
	}

	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "print the raw metadata as YAML")

	return cmd
}

func diffCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <folder>/<name> <folder>/<name>",
		Short: "Compare the positive prompts of two images",
		Long: `Compare the positive prompts of two images. Removed text is shown
as [-text-] and added text as {+text+}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, _, err := o.connect(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			folders, err := c.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching listing: %w", err)
			}

			a, err := findRecord(folders, args[0])
			if err != nil {
				return err
			}

			b, err := findRecord(folders, args[1])
			if err != nil {
				return err
			}

			segments := metadata.DiffPrompts(metadata.PositivePrompt(a.Metadata), metadata.PositivePrompt(b.Metadata))
			fmt.Fprintln(cmd.OutOrStdout(), metadata.FormatDiff(segments))

			return nil
		},
	}
}

// findRecord looks up "<folder>/<name>". File names never contain a
// slash, so the folder is everything before the last one.
func findRecord(folders models.FolderMap, ref string) (models.FileRecord, error) {
	idx := strings.LastIndex(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return models.FileRecord{}, fmt.Errorf("%q is not <folder>/<name>", ref)
	}

	folder, name := ref[:idx], ref[idx+1:]

	files, ok := folders[folder]
	if !ok {
		return models.FileRecord{}, fmt.Errorf("%w: %s", gerrors.ErrFolderNotFound, folder)
	}

	rec, ok := files[name]
	if !ok {
		return models.FileRecord{}, fmt.Errorf("%w: %s", gerrors.ErrFileNotFound, ref)
	}

	return rec, nil
}
