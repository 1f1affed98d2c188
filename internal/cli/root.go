// Package cli holds the commands of the gallery client.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/gallery-sync/internal/client"
	"github.com/alexjbarnes/gallery-sync/internal/config"
	"github.com/alexjbarnes/gallery-sync/internal/logging"
	"github.com/alexjbarnes/gallery-sync/internal/state"
)

// options are the global flags. Set flags override the environment.
type options struct {
	server    string
	user      string
	password  string
	statePath string
	pageSize  int
	logFile   string
}

// Root returns the gallery command. Without a subcommand it opens the
// terminal browser.
func Root(version string) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:     "gallery",
		Short:   "Browse a gallery-sync server",
		Long:    "gallery: browse, search and organise images served by gallery-sync, live.",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBrowse(cmd, o)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&o.server, "server", "", "server URL (GALLERY_SERVER_URL)")
	f.StringVar(&o.user, "user", "", "basic auth username (GALLERY_USERNAME)")
	f.StringVar(&o.password, "password", "", "basic auth password (GALLERY_PASSWORD)")
	f.StringVar(&o.statePath, "state", "", "preferences database (GALLERY_STATE_PATH)")
	f.IntVar(&o.pageSize, "page-size", 0, "records per page, 0 for whole folders (GALLERY_PAGE_SIZE)")
	root.Flags().StringVar(&o.logFile, "log-file", "", "write browser logs to this file")

	root.AddCommand(lsCmd(o))
	root.AddCommand(watchCmd(o))
	root.AddCommand(metaCmd(o))
	root.AddCommand(diffCmd(o))
	root.AddCommand(favCmd(o))
	root.AddCommand(collectionCmd(o))
	root.AddCommand(settingsCmd(o))
	root.AddCommand(controlCmd(o, "refresh", "Ask the server to tell clients to refetch", (*client.Client).Refresh))
	root.AddCommand(controlCmd(o, "clear", "Ask the server to clear every client", (*client.Client).Clear))
	root.AddCommand(controlCmd(o, "update", "Ask the server to rescan and push the full listing", (*client.Client).Update))

	return root
}

// loadConfig reads the client configuration with set flags applied.
func (o *options) loadConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	flags := cmd.Flags()

	cfg, err := config.LoadClient(func(cfg *config.ClientConfig) {
		if flags.Changed("server") {
			cfg.ServerURL = o.server
		}

		if flags.Changed("user") {
			cfg.Username = o.user
		}

		if flags.Changed("password") {
			cfg.Password = o.password
		}

		if flags.Changed("state") {
			cfg.StatePath = o.statePath
		}

		if flags.Changed("page-size") {
			cfg.PageSize = o.pageSize
		}
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// connect loads the configuration and builds a client logging to w.
func (o *options) connect(cmd *cobra.Command, w io.Writer) (*config.ClientConfig, *client.Client, *slog.Logger, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := logging.NewLoggerTo(w, cfg.Environment, cfg.LogLevel)

	c := client.New(cfg.ServerURL, client.Options{
		Username: cfg.Username,
		Password: cfg.Password,
	}, logger)

	return cfg, c, logger, nil
}

// openState opens the preferences database named by cfg.
func openState(cfg *config.ClientConfig) (*state.State, error) {
	if cfg.StatePath == "" {
		return state.Load()
	}

	return state.LoadAt(cfg.StatePath)
}

// pageSize picks the page size: a set flag wins, then the saved
// setting, then the environment.
func (o *options) pageSizeFor(cmd *cobra.Command, cfg *config.ClientConfig, prefs *state.State) int {
	if cmd.Flags().Changed("page-size") {
		return cfg.PageSize
	}

	if n, err := strconv.Atoi(prefs.Setting(state.SettingPageSize)); err == nil && n >= 0 {
		return n
	}

	return cfg.PageSize
}
