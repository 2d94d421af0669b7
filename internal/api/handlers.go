package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/internal/api/middleware"
	"github.com/sydlexius/coremonitor/internal/auth"
	"github.com/sydlexius/coremonitor/internal/container"
	"github.com/sydlexius/coremonitor/internal/hookscan"
	"github.com/sydlexius/coremonitor/internal/version"
	"github.com/sydlexius/coremonitor/web/components"
	"github.com/sydlexius/coremonitor/web/templates"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	var components []container.Readiness
	if r.health != nil {
		components = r.health.Check(req.Context())
	}
	status, code := "ok", http.StatusOK
	if !container.Ready(components) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    version.Version,
		"commit":     version.Commit,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

// assets returns cache-busted asset paths for templates.
func (r *Router) assets() templates.AssetPaths {
	return templates.AssetPaths{
		CSS:     r.staticAssets.Path("/css/styles.css"),
		AppJS:   r.staticAssets.Path("/js/app.js"),
		HooksJS: r.staticAssets.Path("/js/hookscan.js"),
	}
}

type credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"` //nolint:gosec // G117: not a hardcoded secret, this is a request field
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body credentials
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, err := r.authService.Login(req.Context(), body.Username, body.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			r.logger.Error("login failed", "error", err)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     r.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		MaxAge:   86400,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if cookie, err := req.Cookie(middleware.SessionCookie); err == nil {
		if logoutErr := r.authService.Logout(req.Context(), cookie.Value); logoutErr != nil {
			r.logger.Warn("failed to delete session", "error", logoutErr)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     r.cookiePath(),
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	id := middleware.IdentityFromContext(req.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (r *Router) handleSetup(w http.ResponseWriter, req *http.Request) {
	hasUsers, err := r.authService.HasUsers(req.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if hasUsers {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "admin account already exists"})
		return
	}

	var body credentials
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}
	if len(body.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}

	created, err := r.authService.Setup(req.Context(), body.Username, body.Password)
	if err != nil {
		r.logger.Error("failed to create admin account", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !created {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "admin account already exists"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "admin account created"})
}

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	hasUsers, err := r.authService.HasUsers(req.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !hasUsers {
		renderTempl(w, req, templates.SetupPage(r.assets(), r.basePath))
		return
	}
	if middleware.IdentityFromContext(req.Context()) == nil {
		renderTempl(w, req, templates.LoginPage(r.assets(), r.basePath))
		return
	}
	http.Redirect(w, req, r.basePath+"/hooks", http.StatusSeeOther)
}

func (r *Router) cookiePath() string {
	if r.basePath == "" {
		return "/"
	}
	return r.basePath
}

func renderTempl(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

// writeError sends an error response. For fragment requests (HX-Request), it
// renders an error toast HTML fragment. For API requests, it returns JSON.
func writeError(w http.ResponseWriter, req *http.Request, status int, message string) {
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = components.ErrorToast("error", message).Render(req.Context(), w)
		return
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// hookStatus maps a scan error to its HTTP status.
func hookStatus(err error) int {
	switch {
	case errors.Is(err, hookscan.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, hookscan.ErrInvalidTarget), errors.Is(err, hookscan.ErrInvalidBatchIndex):
		return http.StatusBadRequest
	case errors.Is(err, hookscan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, hookscan.ErrUnknownScan):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// writeHookError writes a scan error. Unclassified errors are logged and
// reported without detail.
func (r *Router) writeHookError(w http.ResponseWriter, req *http.Request, err error) {
	status := hookStatus(err)
	msg := err.Error()
	if hookscan.Reason(err) == "internal" {
		r.logger.Error("hook scan failed", "error", err)
		msg = "internal error"
	}
	writeError(w, req, status, msg)
}
