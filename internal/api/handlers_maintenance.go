package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sydlexius/coremonitor/web/components"
)

// handleMaintenanceStatus reports database size and the last maintenance pass.
// GET /api/v1/maintenance/status
func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance service not available"})
		return
	}
	r.writeMaintenanceStatus(w, req)
}

// handleMaintenanceRun runs one maintenance pass now.
// POST /api/v1/maintenance/run
func (r *Router) handleMaintenanceRun(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance service not available"})
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	result, err := r.maintenanceService.RunOnce(ctx)
	if err != nil {
		r.logger.Error("maintenance run failed", "error", err)
		writeError(w, req, http.StatusInternalServerError, "maintenance run failed: "+err.Error())
		return
	}
	if req.Header.Get("HX-Request") == "true" {
		r.writeMaintenanceStatus(w, req)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMaintenanceVacuum rebuilds the database file.
// POST /api/v1/maintenance/vacuum
func (r *Router) handleMaintenanceVacuum(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance service not available"})
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	if err := r.maintenanceService.Vacuum(ctx); err != nil {
		r.logger.Error("vacuum failed", "error", err)
		writeError(w, req, http.StatusInternalServerError, "vacuum failed: "+err.Error())
		return
	}
	if req.Header.Get("HX-Request") == "true" {
		r.writeMaintenanceStatus(w, req)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vacuumed"})
}

// handleMaintenanceSchedule turns the periodic pass on or off.
// PUT /api/v1/maintenance/schedule
func (r *Router) handleMaintenanceSchedule(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance service not available"})
		return
	}

	var body struct {
		Enabled *bool `json:"enabled" validate:"required"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || validate.Struct(body) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
		return
	}

	if err := r.maintenanceService.SetScheduleEnabled(req.Context(), *body.Enabled); err != nil {
		r.logger.Error("persisting maintenance schedule", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist setting"})
		return
	}

	if req.Header.Get("HX-Request") == "true" {
		renderTempl(w, req, components.Notice("Schedule updated."))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

func (r *Router) writeMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.maintenanceService.Status(req.Context())
	if err != nil {
		r.logger.Error("getting maintenance status", "error", err)
		writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}
	if req.Header.Get("HX-Request") == "true" {
		renderTempl(w, req, components.MaintenanceStatus(status))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
