package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sydlexius/coremonitor/internal/auth"
)

// handleListUsers lists all accounts.
// GET /api/v1/users
func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	users, err := r.authService.ListUsers(req.Context())
	if err != nil {
		r.logger.Error("listing users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// handleCreateUser adds an account. Role defaults to viewer.
// POST /api/v1/users
func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	var body struct {
		credentials
		Role string `json:"role"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(body.credentials); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}
	if len(body.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}
	if body.Role == "" {
		body.Role = string(auth.RoleViewer)
	}
	role, err := auth.ParseRole(body.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user, err := r.authService.CreateUser(req.Context(), body.Username, body.Password, role)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		r.logger.Error("creating user", "username", body.Username, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	r.logger.Info("user created", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}
