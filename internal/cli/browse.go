package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alexjbarnes/gallery-sync/internal/models"
	"github.com/alexjbarnes/gallery-sync/internal/render"
	"github.com/alexjbarnes/gallery-sync/internal/tui"
	"github.com/alexjbarnes/gallery-sync/internal/widget"
)

// eventBuffer is how many pushed events may queue while the UI is busy.
const eventBuffer = 64

func runBrowse(cmd *cobra.Command, o *options) error {
	var logw io.Writer = io.Discard

	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()

		logw = f
	}

	cfg, c, logger, err := o.connect(cmd, logw)
	if err != nil {
		return err
	}

	prefs, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer prefs.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	surface := render.NewMemorySurface()
	g := widget.New(surface, prefs, c, widget.Options{
		PageSize: o.pageSizeFor(cmd, cfg, prefs),
		BaseURL:  c.BaseURL(),
	}, logger)

	events := make(chan models.Event, eventBuffer)

	go func() {
		defer close(events)

		err := c.NewStream().Listen(ctx, events)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event stream stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("browsing", slog.String("server", cfg.ServerURL))

	model := tui.New(ctx, tui.Params{
		Gallery: g,
		Surface: surface,
		Fetcher: c,
		Events:  events,
		Logger:  logger,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}

	return nil
}
