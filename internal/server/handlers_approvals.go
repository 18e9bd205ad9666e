package server

import (
	"errors"
	"net/http"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// HandleGetRunApproval handles GET /v1/runs/{run_id}/approval. For a run
// suspended on a gated tool call it returns the pending approval along with a
// signed resolution token to embed in a review link.
func (h *Handlers) HandleGetRunApproval(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	tok, err := h.db.GetPendingWaitToken(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no pending approval for this run")
			return
		}
		h.logger.Error("get pending approval", "error", err, "run_id", runID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load approval")
		return
	}

	signed, err := h.signer.Sign(tok.ID)
	if err != nil {
		h.logger.Error("sign approval token", "error", err, "token_id", tok.ID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to sign approval token")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":      signed,
		"run_id":     tok.RunID,
		"tool_name":  tok.ToolName,
		"reason":     tok.Reason,
		"expires_at": tok.ExpiresAt,
	})
}

// HandleResolveApproval handles POST /v1/approvals/{token}. The token is the
// signed JWT from HandleGetRunApproval. Resolution is consume-once: a second
// attempt gets 409 regardless of the decision.
func (h *Handlers) HandleResolveApproval(w http.ResponseWriter, r *http.Request) {
	tokenID, err := h.signer.Verify(r.PathValue("token"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid or expired approval token")
		return
	}

	var req model.ResolveApprovalRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if err := h.supervisor.ResolveApproval(r.Context(), tokenID, req.Approved); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "approval not found")
		case errors.Is(err, storage.ErrTokenResolved):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "approval already resolved or expired")
		default:
			h.logger.Error("resolve approval", "error", err, "token_id", tokenID)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to resolve approval")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"token_id": tokenID,
		"approved": req.Approved,
	})
}
