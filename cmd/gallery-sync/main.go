package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/gallery-sync/internal/config"
	"github.com/alexjbarnes/gallery-sync/internal/events"
	"github.com/alexjbarnes/gallery-sync/internal/library"
	"github.com/alexjbarnes/gallery-sync/internal/logging"
	"github.com/alexjbarnes/gallery-sync/internal/mcpserver"
	"github.com/alexjbarnes/gallery-sync/internal/server"
)

var Version = "dev"

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(scanner.Text()), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("gallery-sync starting",
		slog.String("version", Version),
		slog.String("root", cfg.Root),
		slog.Bool("watch", cfg.EnableWatch),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	users, err := cfg.ParseAuthUsers()
	if err != nil {
		return fmt.Errorf("parsing auth users: %w", err)
	}

	if len(users) == 0 {
		logger.Warn("GALLERY_AUTH_USERS is empty, API is unauthenticated")
	}

	hub := events.NewHub()

	lib, err := library.New(cfg.Root, cfg.FolderPrefix, hub, logger.With(slog.String("service", "library")))
	if err != nil {
		return fmt.Errorf("opening library: %w", err)
	}

	var mcpHandler http.Handler

	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "gallery-sync-mcp", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, lib)

		mcpHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(gctx, cfg, server.NewMux(server.MuxConfig{
			Library:    lib,
			Hub:        hub,
			Users:      users,
			Logger:     logger.With(slog.String("service", "http")),
			MCPHandler: mcpHandler,
		}), logger)
	})

	if cfg.EnableWatch {
		g.Go(func() error {
			err := lib.Watch(gctx, cfg.Debounce)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	return g.Wait()
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting server", slog.String("listen", cfg.ListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
