package api

import (
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"

	"github.com/sydlexius/coremonitor/internal/backup"
	"github.com/sydlexius/coremonitor/web/components"
)

// handleBackupList returns snapshots newest first.
// GET /api/v1/maintenance/backups
func (r *Router) handleBackupList(w http.ResponseWriter, req *http.Request) {
	r.writeBackupList(w, req, http.StatusOK)
}

// handleBackupCreate takes a snapshot now and prunes old ones.
// POST /api/v1/maintenance/backups
func (r *Router) handleBackupCreate(w http.ResponseWriter, req *http.Request) {
	info, err := r.backupService.Create(req.Context())
	if err != nil {
		r.logger.Error("backup failed", "error", err)
		writeError(w, req, http.StatusInternalServerError, "backup failed")
		return
	}
	if _, err := r.backupService.Prune(); err != nil {
		r.logger.Warn("pruning backups after create", "error", err)
	}

	if req.Header.Get("HX-Request") == "true" {
		r.writeBackupList(w, req, http.StatusOK)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleBackupDownload streams one snapshot file.
// GET /api/v1/maintenance/backups/{name}
func (r *Router) handleBackupDownload(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if !backup.ValidName(name) {
		writeError(w, req, http.StatusBadRequest, "invalid filename")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, req, filepath.Join(r.backupService.Dir(), name))
}

// handleBackupDelete removes one snapshot.
// DELETE /api/v1/maintenance/backups/{name}
func (r *Router) handleBackupDelete(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	err := r.backupService.Delete(name)
	switch {
	case errors.Is(err, backup.ErrInvalidName):
		writeError(w, req, http.StatusBadRequest, "invalid filename")
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, req, http.StatusNotFound, "backup not found")
		return
	case err != nil:
		r.logger.Error("deleting backup", "filename", name, "error", err)
		writeError(w, req, http.StatusInternalServerError, "failed to delete backup")
		return
	}

	if req.Header.Get("HX-Request") == "true" {
		r.writeBackupList(w, req, http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) writeBackupList(w http.ResponseWriter, req *http.Request, status int) {
	backups, err := r.backupService.List()
	if err != nil {
		r.logger.Error("listing backups", "error", err)
		writeError(w, req, http.StatusInternalServerError, "listing backups failed")
		return
	}
	if req.Header.Get("HX-Request") == "true" {
		renderTempl(w, req, components.BackupList(r.basePath, backups))
		return
	}
	writeJSON(w, status, backups)
}
