package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/automl-assistant/internal/identity"
	"github.com/ashureev/automl-assistant/internal/project"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const watchWriteTimeout = 10 * time.Second

// watchMessage is the frame pushed to watchers.
type watchMessage struct {
	Type     string           `json:"type"`
	Snapshot project.Snapshot `json:"snapshot"`
}

// WatchHandler pushes project snapshots over a WebSocket.
type WatchHandler struct {
	store         *project.Store
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWatchHandler creates a new snapshot watch handler.
func NewWatchHandler(store *project.Store, allowedOrigin string, isDev bool, logger *slog.Logger) *WatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchHandler{
		store:         store,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP upgrades the request and streams the current snapshot followed
// by the latest state after each mutation. A slow watcher skips
// intermediate states but always ends on the newest one.
func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "watch ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	updates, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	// Watchers never send; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	if err := h.send(ctx, ws, h.store.Snapshot()); err != nil {
		h.logger.Debug("Watch write failed", "error", err, "user_id", userID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(ctx, ws, snap); err != nil {
				h.logger.Debug("Watch write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *WatchHandler) send(ctx context.Context, ws *websocket.Conn, snap project.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, watchMessage{Type: "snapshot", Snapshot: snap})
}

func (h *WatchHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
