package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sydlexius/coremonitor/internal/logging"
	"github.com/sydlexius/coremonitor/web/components"
)

// loggingUpdate is a partial logging change. Zero values keep the current
// setting; a present but empty file_path turns file output off.
type loggingUpdate struct {
	Level          string  `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format         string  `json:"format" validate:"omitempty,oneof=text json"`
	FilePath       *string `json:"file_path" validate:"omitempty,max=1024"`
	FileMaxSizeMB  int     `json:"file_max_size_mb" validate:"omitempty,gte=1,lte=10240"`
	FileMaxFiles   int     `json:"file_max_files" validate:"omitempty,gte=1,lte=1000"`
	FileMaxAgeDays int     `json:"file_max_age_days" validate:"omitempty,gte=1,lte=3650"`
}

func (u loggingUpdate) apply(cfg logging.Config) logging.Config {
	if u.Level != "" {
		cfg.Level = u.Level
	}
	if u.Format != "" {
		cfg.Format = u.Format
	}
	if u.FilePath != nil {
		cfg.FilePath = strings.TrimSpace(*u.FilePath)
	}
	if u.FileMaxSizeMB != 0 {
		cfg.FileMaxSizeMB = u.FileMaxSizeMB
	}
	if u.FileMaxFiles != 0 {
		cfg.FileMaxFiles = u.FileMaxFiles
	}
	if u.FileMaxAgeDays != 0 {
		cfg.FileMaxAgeDays = u.FileMaxAgeDays
	}
	return cfg
}

func decodeLoggingUpdate(req *http.Request) (loggingUpdate, error) {
	var u loggingUpdate
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(req.Body).Decode(&u)
		return u, err
	}
	if err := req.ParseForm(); err != nil {
		return u, err
	}
	u.Level = req.PostFormValue("level")
	u.Format = req.PostFormValue("format")
	if _, ok := req.PostForm["file_path"]; ok {
		p := req.PostFormValue("file_path")
		u.FilePath = &p
	}
	for field, dst := range map[string]*int{
		"file_max_size_mb":  &u.FileMaxSizeMB,
		"file_max_files":    &u.FileMaxFiles,
		"file_max_age_days": &u.FileMaxAgeDays,
	} {
		if v := req.PostFormValue(field); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return u, err
			}
			*dst = n
		}
	}
	return u, nil
}

// handleGetLogging returns the active logging configuration.
// GET /api/v1/logging
func (r *Router) handleGetLogging(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging applies a logging change at runtime and stores it so it
// survives a restart.
// PUT /api/v1/logging
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	u, err := decodeLoggingUpdate(req)
	if err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(u); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid logging settings: "+firstFieldError(err))
		return
	}

	cfg := u.apply(r.logManager.Config())
	if err := r.logManager.Reconfigure(cfg); err != nil {
		writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	if err := logging.SaveSettings(req.Context(), r.db, cfg); err != nil {
		r.logger.Error("persisting logging settings", "error", err)
		writeError(w, req, http.StatusInternalServerError, "failed to persist setting")
		return
	}
	r.logger.Info("logging reconfigured", "config", cfg.String())

	if req.Header.Get("HX-Request") == "true" {
		renderTempl(w, req, components.Notice("Logging settings updated."))
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}
