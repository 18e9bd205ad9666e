package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// HandleUsage handles GET /v1/usage?user_id=... and returns the user's
// counters for the active billing period alongside their plan limits.
func (h *Handlers) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid user_id")
		return
	}

	user, err := h.db.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.logger.Error("usage lookup user", "error", err, "user_id", userID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load user")
		return
	}

	usage, limits, err := h.quota.CurrentUsage(r.Context(), user)
	if err != nil {
		h.logger.Error("usage lookup", "error", err, "user_id", userID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load usage")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"plan":   user.Plan,
		"usage":  usage,
		"limits": limits,
	})
}
