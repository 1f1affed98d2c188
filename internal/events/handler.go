package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/alexjbarnes/gallery-sync/internal/models"
)

const (
	// writeTimeout bounds a single frame write to a slow client.
	writeTimeout = 10 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
)

// Handler upgrades GET /Gallery/events to a websocket and streams hub
// events to the client as text frames until either side goes away.
// originPatterns is passed to websocket.AcceptOptions; empty means
// same-origin only.
func Handler(hub *Hub, logger *slog.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)

			return
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		logger.Debug("event subscriber connected", slog.String("remote_addr", r.RemoteAddr))

		// Clients never send anything; CloseRead handles their close
		// frame and cancels ctx.
		ctx := conn.CloseRead(r.Context())

		err = stream(ctx, conn, hub, ch)

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			conn.Close(websocket.StatusNormalClosure, "")
		case websocket.CloseStatus(err) != -1:
		default:
			logger.Debug("event stream ended",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func stream(ctx context.Context, conn *websocket.Conn, hub *Hub, ch chan models.Event) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-ch:
			if !ok {
				return nil
			}

			// A dropped event leaves the client's incremental state
			// behind; make it refetch before continuing.
			if hub.TakeLagged(ch) {
				if err := writeEvent(ctx, conn, models.Event{Type: models.EventFileChange}); err != nil {
					return err
				}
			}

			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}
