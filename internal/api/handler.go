// Package api provides the HTTP handlers for the AutoML Assistant project API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/automl-assistant/internal/project"
)

// PersistenceWarningHeader is set when a mutation was applied but not saved.
const PersistenceWarningHeader = "X-Persistence-Warning"

// Handler serves the project workflow routes.
type Handler struct {
	store  *project.Store
	watch  *WatchHandler
	logger *slog.Logger
}

// NewHandler creates a Handler backed by store.
func NewHandler(store *project.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// SetWatch enables the snapshot watch route.
func (h *Handler) SetWatch(watch *WatchHandler) {
	h.watch = watch
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// warning returns the message of a persistence warning carried by err, or "".
// Any other error is returned unchanged as the second value.
func warning(err error) (string, error) {
	var pw *project.PersistenceWarning
	if errors.As(err, &pw) {
		return pw.Error(), nil
	}
	return "", err
}

// writeMutation writes a successful mutation response, flagging a
// persistence warning in a header and a "warning" field.
func (h *Handler) writeMutation(w http.ResponseWriter, status int, body map[string]any, warn string) {
	if warn != "" {
		w.Header().Set(PersistenceWarningHeader, "true")
		body["warning"] = warn
	}
	JSON(w, status, body)
}

// storeError maps store errors to HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, project.ErrStepNotReachable),
		errors.Is(err, project.ErrNotAtFinalStep):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, project.ErrInvalidStep),
		errors.Is(err, project.ErrInvalidStatus),
		errors.Is(err, project.ErrUnvisitedStep):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Project operation failed", "op", op, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
