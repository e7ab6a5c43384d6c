package handler

import (
	"encoding/json"
	"net/http"
)

// handleValidateSession handles POST /world/auth/session/validate.
// A valid token answers 200 with the session's identity; any auth
// failure answers 401 with the domain error code.
func (h *Handler) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	var req ValidateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "WS-ARG-4000", "invalid request body", nil)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, http.StatusBadRequest, "WS-ARG-4000", "token is required", nil)
		return
	}

	sess, err := h.sessions.Validate(r.Context(), req.Token)
	if err != nil {
		h.logger.Info("session validate rejected",
			"provider", req.Provider,
			"error", err)
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, ValidateSessionData{
		Valid:     true,
		AgentID:   sess.AgentID.String(),
		SessionID: sess.ID.String(),
	})
}

// handleLogout handles POST /world/auth/session/logout. Logout is
// idempotent: expired, revoked and unknown sessions all answer 200.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "WS-ARG-4000", "invalid request body", nil)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, http.StatusBadRequest, "WS-ARG-4000", "token is required", nil)
		return
	}

	if err := h.sessions.Logout(r.Context(), req.Token); err != nil {
		h.logger.Warn("logout failed", "error", err)
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}
