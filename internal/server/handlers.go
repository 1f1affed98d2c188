package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/library"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

type handlers struct {
	lib    *library.Library
	logger *slog.Logger
}

// images rescans so the listing is current even without the watcher,
// then returns it. Differences found are also pushed to subscribers.
func (h *handlers) images(w http.ResponseWriter, r *http.Request) {
	if _, err := h.lib.Rescan(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, models.Snapshot{Folders: h.lib.Snapshot()})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.RequestRefetch(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeStatus(w, h.logger)
}

func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.Clear(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeStatus(w, h.logger)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.Reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeStatus(w, h.logger)
}

func (h *handlers) view(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p, err := h.lib.Resolve(q.Get("filename"), q.Get("subfolder"))
	if err != nil {
		switch {
		case errors.Is(err, gerrors.ErrPathNotAllowed):
			h.logger.Warn("rejected media path",
				slog.String("filename", q.Get("filename")),
				slog.String("subfolder", q.Get("subfolder")),
				slog.String("remote_addr", r.RemoteAddr),
			)
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, gerrors.ErrFileNotFound):
			http.NotFound(w, r)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}

		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, p)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response", slog.String("error", err.Error()))
	}
}

func writeStatus(w http.ResponseWriter, logger *slog.Logger) {
	writeJSON(w, logger, map[string]string{"status": "ok"})
}
