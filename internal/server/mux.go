// Package server builds the gallery-sync HTTP handler.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/gallery-sync/internal/auth"
	"github.com/alexjbarnes/gallery-sync/internal/events"
	"github.com/alexjbarnes/gallery-sync/internal/library"
	"github.com/alexjbarnes/gallery-sync/internal/metrics"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Library *library.Library
	Hub     *events.Hub
	Users   auth.UserCredentials
	Logger  *slog.Logger

	// MCPHandler is mounted at /mcp when non-nil.
	MCPHandler http.Handler

	// OriginPatterns are extra origins allowed to open the event
	// websocket.
	OriginPatterns []string
}

// NewMux builds the HTTP handler: the gallery API, media, the event
// stream and optional MCP behind basic auth, and /metrics outside it.
// Every request is counted by the metrics middleware.
func NewMux(cfg MuxConfig) http.Handler {
	h := &handlers{lib: cfg.Library, logger: cfg.Logger}

	api := http.NewServeMux()
	api.HandleFunc("GET /Gallery/images", h.images)
	api.HandleFunc("POST /Gallery/refresh", h.refresh)
	api.HandleFunc("POST /Gallery/clear", h.clear)
	api.HandleFunc("POST /Gallery/update", h.update)
	api.Handle("GET /Gallery/events", events.Handler(cfg.Hub, cfg.Logger, cfg.OriginPatterns))
	api.HandleFunc("GET /view", h.view)

	if cfg.MCPHandler != nil {
		api.Handle("/mcp", cfg.MCPHandler)
	}

	authMiddleware := auth.Middleware(cfg.Users, cfg.Logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", authMiddleware(api))

	return metrics.Middleware(mux)
}
