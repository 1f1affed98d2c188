package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/gallery-sync/internal/client"
	"github.com/alexjbarnes/gallery-sync/internal/gallery"
	"github.com/alexjbarnes/gallery-sync/internal/state"
)

// withState runs fn with the preferences database open.
func (o *options) withState(cmd *cobra.Command, fn func(prefs *state.State, c *client.Client) error) error {
	cfg, c, _, err := o.connect(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	prefs, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer prefs.Close()

	return fn(prefs, c)
}

// resolveURL turns "<folder>/<name>" into the record's URL. Arguments
// that already are media URLs are returned unchanged, so entries for
// files that no longer exist can still be removed.
func resolveURL(ctx context.Context, c *client.Client, ref string) (string, error) {
	if strings.HasPrefix(ref, "/view?") {
		return ref, nil
	}

	folders, err := c.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching listing: %w", err)
	}

	rec, err := findRecord(folders, ref)
	if err != nil {
		return "", err
	}

	return rec.URL, nil
}

func favCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fav",
		Short: "Manage favorites",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List favorites, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				favs, err := prefs.Favorites()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()

				if len(favs) == 0 {
					fmt.Fprintln(out, "no favorites")
					return nil
				}

				for _, f := range favs {
					fmt.Fprintf(out, "  %s  %s\n", time.Unix(f.Added, 0).Format("2006-01-02 15:04"), f.URL)
				}

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <folder>/<name>",
		Short: "Star or unstar an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, c *client.Client) error {
				url, err := resolveURL(cmd.Context(), c, args[0])
				if err != nil {
					return err
				}

				fav, err := prefs.ToggleFavorite(url)
				if err != nil {
					return fmt.Errorf("toggling favorite: %w", err)
				}

				if fav {
					fmt.Fprintf(cmd.OutOrStdout(), "starred %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "unstarred %s\n", args[0])
				}

				return nil
			})
		},
	})

	return cmd
}

func collectionCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"col"},
		Short:   "Manage collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				cols, err := prefs.Collections()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()

				if len(cols) == 0 {
					fmt.Fprintln(out, "no collections")
					return nil
				}

				for _, col := range cols {
					fmt.Fprintf(out, "  %s  (%d)\n", col.Name, len(col.URLs))
				}

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				if err := prefs.CreateCollection(args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				if err := prefs.DeleteCollection(args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <folder>/<image>",
		Short: "Add an image to a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, c *client.Client) error {
				url, err := resolveURL(cmd.Context(), c, args[1])
				if err != nil {
					return err
				}

				if err := prefs.AddToCollection(args[0], url); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[1], args[0])

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name> <folder>/<image>",
		Short: "Remove an image from a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, c *client.Client) error {
				url, err := resolveURL(cmd.Context(), c, args[1])
				if err != nil {
					return err
				}

				if err := prefs.RemoveFromCollection(args[0], url); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[1], args[0])

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "List the URLs in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				col, err := prefs.Collection(args[0])
				if err != nil {
					return err
				}

				for _, u := range col.URLs {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}

				return nil
			})
		},
	})

	return cmd
}

// settingKeys are the settings users may set by hand.
var settingKeys = []string{state.SettingSort, state.SettingLastFolder, state.SettingPageSize}

func settingsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show saved settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				all, err := prefs.Settings()
				if err != nil {
					return err
				}

				for _, k := range settingKeys {
					if v, ok := all[k]; ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
					}
				}

				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> [value]",
		Short: "Change a setting; without a value it is reset",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], ""
			if len(args) == 2 {
				value = args[1]
			}

			if err := validateSetting(key, value); err != nil {
				return err
			}

			return o.withState(cmd, func(prefs *state.State, _ *client.Client) error {
				return prefs.SetSetting(key, value)
			})
		},
	})

	return cmd
}

func validateSetting(key, value string) error {
	if !slices.Contains(settingKeys, key) {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys, ", "))
	}

	if value == "" {
		return nil
	}

	switch key {
	case state.SettingSort:
		if _, ok := gallery.ParseSort(value); !ok {
			return fmt.Errorf("unknown sort %q", value)
		}
	case state.SettingPageSize:
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return fmt.Errorf("page_size must be a non-negative integer")
		}
	}

	return nil
}
