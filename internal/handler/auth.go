package handler

import (
	"net/http"

	"tokenvault/internal/middleware"
	"tokenvault/pkg/logger"
)

// AuthHandler exposes session endpoints for token holders. Tokens are
// minted out of band with vaultctl.
type AuthHandler struct {
	auth   *middleware.AuthMiddleware
	logger logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *middleware.AuthMiddleware, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: log}
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		respondError(h.logger, w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"address":  caller,
		"checksum": caller.Checksum(),
	})
}

// Logout handles POST /auth/logout by revoking the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Revoke(r.Context()); err != nil {
		h.logger.Error("Failed to revoke token", map[string]interface{}{"error": err.Error()})
		respondError(h.logger, w, http.StatusInternalServerError, "Failed to revoke token")
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"message": "Logged out"})
}
