package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sydlexius/coremonitor/internal/api/middleware"
	"github.com/sydlexius/coremonitor/internal/auth"
)

// createdToken is returned once; the plaintext cannot be read back later.
type createdToken struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// handleCreateAPIToken mints a token for the hookscan CLI. Only a browser
// session may mint tokens, so a leaked token cannot be used to create more.
// POST /api/v1/auth/tokens
func (r *Router) handleCreateAPIToken(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	userID := middleware.UserIDFromContext(ctx)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if middleware.AuthMethodFromContext(ctx) != "session" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "tokens can only be created from a signed-in session"})
		return
	}

	var body struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if err := validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required and at most 100 characters"})
		return
	}

	plaintext, id, err := r.authService.CreateAPIToken(ctx, userID, body.Name)
	if err != nil {
		r.logger.Error("creating api token", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	r.logger.Info("api token created", "user_id", userID, "token_id", id, "name", body.Name)
	writeJSON(w, http.StatusCreated, createdToken{ID: id, Name: body.Name, Token: plaintext})
}

// handleListAPITokens lists the caller's tokens without their secrets.
// GET /api/v1/auth/tokens
func (r *Router) handleListAPITokens(w http.ResponseWriter, req *http.Request) {
	userID := middleware.UserIDFromContext(req.Context())
	tokens, err := r.authService.ListAPITokens(req.Context(), userID)
	if err != nil {
		r.logger.Error("listing api tokens", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if tokens == nil {
		tokens = []auth.APIToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleRevokeAPIToken deletes one of the caller's tokens. Another user's
// token id reports 404.
// DELETE /api/v1/auth/tokens/{id}
func (r *Router) handleRevokeAPIToken(w http.ResponseWriter, req *http.Request) {
	userID := middleware.UserIDFromContext(req.Context())
	tokenID := req.PathValue("id")

	err := r.authService.RevokeAPIToken(req.Context(), tokenID, userID)
	switch {
	case errors.Is(err, auth.ErrTokenNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		r.logger.Error("revoking api token", "token_id", tokenID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		r.logger.Info("api token revoked", "user_id", userID, "token_id", tokenID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}
