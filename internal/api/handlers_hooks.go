package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sydlexius/coremonitor/internal/api/middleware"
	"github.com/sydlexius/coremonitor/internal/auth"
	"github.com/sydlexius/coremonitor/internal/catalog"
	"github.com/sydlexius/coremonitor/internal/history"
	"github.com/sydlexius/coremonitor/internal/hookscan"
	"github.com/sydlexius/coremonitor/web/components"
	"github.com/sydlexius/coremonitor/web/templates"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// firstFieldError describes the first failed validation in err.
func firstFieldError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return fmt.Sprintf("field %s failed %s", ve[0].Field(), ve[0].Tag())
	}
	return err.Error()
}

// batchRequest is a hookscan.Request plus the fragment client's running
// count of files with hooks, used to decide when to render "No hooks found".
type batchRequest struct {
	hookscan.Request
	HooksSeen int `json:"hooks_seen"`
}

// decodeBatchRequest reads a batch request from a JSON body or form values.
// Malformed input maps to ErrInvalidBatchIndex when a scan is being
// continued, and to ErrInvalidTarget when one is being started.
func decodeBatchRequest(req *http.Request) (batchRequest, error) {
	var br batchRequest
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(req.Body).Decode(&br); err != nil {
			return br, fmt.Errorf("%w: invalid request body", hookscan.ErrInvalidTarget)
		}
	} else {
		if err := req.ParseForm(); err != nil {
			return br, fmt.Errorf("%w: invalid form data", hookscan.ErrInvalidTarget)
		}
		br.ScanDir = req.FormValue("scan_dir")
		br.ScanType = req.FormValue("scan_type")
		br.ScanID = req.FormValue("scan_id")
		if v := req.FormValue("batch_index"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return br, badBatch(br.Request, errors.New("batch_index must be an integer"))
			}
			br.BatchIndex = &n
		}
		for name, dst := range map[string]*int{
			"processed_files": &br.ProcessedFiles,
			"total_files":     &br.TotalFiles,
			"hooks_seen":      &br.HooksSeen,
		} {
			v := req.FormValue(name)
			if v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return br, badBatch(br.Request, fmt.Errorf("%s must be an integer", name))
			}
			*dst = n
		}
	}

	if err := validate.Struct(br.Request); err != nil {
		return br, badBatch(br.Request, err)
	}
	if br.HooksSeen < 0 {
		br.HooksSeen = 0
	}
	return br, nil
}

func badBatch(r hookscan.Request, cause error) error {
	var ve validator.ValidationErrors
	if errors.As(cause, &ve) {
		cause = errors.New(firstFieldError(cause))
	}
	if r.ScanID != "" {
		return fmt.Errorf("%w: %w", hookscan.ErrInvalidBatchIndex, cause)
	}
	return fmt.Errorf("%w: %w", hookscan.ErrInvalidTarget, cause)
}

// runBatch authorizes, decodes and executes one batch round-trip.
func (r *Router) runBatch(req *http.Request) (batchRequest, *hookscan.Response, error) {
	id := middleware.IdentityFromContext(req.Context())
	if id == nil || !id.Role.Can(auth.CapManageOptions) {
		return batchRequest{}, nil, hookscan.ErrPermissionDenied
	}
	br, err := decodeBatchRequest(req)
	if err != nil {
		return br, nil, err
	}
	resp, err := r.engine.Handle(req.Context(), br.Request)
	return br, resp, err
}

// handleHookBatch serves one batch as JSON.
// POST /api/v1/hooks/batch
func (r *Router) handleHookBatch(w http.ResponseWriter, req *http.Request) {
	_, resp, err := r.runBatch(req)
	if err != nil {
		r.writeHookError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHookBatchFragment serves one batch as HTML for the scanner page.
// Cursor state travels in X-Scan-* response headers.
// POST /hooks/batch
func (r *Router) handleHookBatchFragment(w http.ResponseWriter, req *http.Request) {
	br, resp, err := r.runBatch(req)
	if err != nil {
		r.writeHookError(w, req, err)
		return
	}

	seen := br.HooksSeen + len(resp.FoundHooks)
	h := w.Header()
	h.Set("X-Scan-Id", resp.ScanID)
	h.Set("X-Scan-Batch-Index", strconv.Itoa(resp.BatchIndex))
	h.Set("X-Scan-Processed-Files", strconv.Itoa(resp.ProcessedFiles))
	h.Set("X-Scan-Total-Files", strconv.Itoa(resp.TotalFiles))
	h.Set("X-Scan-Files-With-Hooks", strconv.Itoa(seen))
	h.Set("X-Scan-Completed", strconv.FormatBool(resp.Completed))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	ctx := req.Context()
	out := components.NewHTMLWriter(ctx, w)
	out.Component(components.Progress(resp.ProcessedFiles, resp.TotalFiles))
	out.Component(components.BatchResult(resp))
	if resp.Completed && seen == 0 {
		out.Component(components.NoHooksFound())
	}
	if err := out.Err(); err != nil {
		r.logger.Warn("rendering batch fragment", "scan_id", resp.ScanID, "error", err)
	}
}

// handleListExtensions lists installed plugins and themes.
// GET /api/v1/extensions?type=plugin|theme
func (r *Router) handleListExtensions(w http.ResponseWriter, req *http.Request) {
	kinds := []hookscan.Kind{hookscan.KindPlugin, hookscan.KindTheme}
	if t := req.URL.Query().Get("type"); t != "" {
		k, err := hookscan.ParseKind(t)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be plugin or theme"})
			return
		}
		kinds = []hookscan.Kind{k}
	}

	entries := []catalog.Entry{}
	for _, k := range kinds {
		list, err := r.catalog.Enumerate(req.Context(), k)
		if err != nil {
			r.logger.Error("enumerating extensions", "type", k, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		entries = append(entries, list...)
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleListHistory returns recent scans, newest first.
// GET /api/v1/hooks/history?limit=N
func (r *Router) handleListHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := r.history.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing scan history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetHistory returns one scan.
// GET /api/v1/hooks/history/{id}
func (r *Router) handleGetHistory(w http.ResponseWriter, req *http.Request) {
	entry, err := r.history.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		r.logger.Error("getting scan history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleHooksPage renders the scanner page.
// GET /hooks?dir-selector=<identifier>
func (r *Router) handleHooksPage(w http.ResponseWriter, req *http.Request) {
	id := middleware.IdentityFromContext(req.Context())
	if id == nil {
		http.Redirect(w, req, r.basePath+"/", http.StatusSeeOther)
		return
	}
	ctx := req.Context()

	plugins, err := r.catalog.Enumerate(ctx, hookscan.KindPlugin)
	if err != nil {
		r.logger.Error("enumerating plugins", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	themes, err := r.catalog.Enumerate(ctx, hookscan.KindTheme)
	if err != nil {
		r.logger.Error("enumerating themes", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	recent, err := r.history.List(ctx, 10)
	if err != nil {
		r.logger.Warn("loading scan history", "error", err)
	}

	renderTempl(w, req, templates.HooksPage(r.assets(), templates.HooksPageData{
		Nav:      templates.Nav{BasePath: r.basePath, Username: id.Username},
		Plugins:  plugins,
		Themes:   themes,
		Selected: req.URL.Query().Get("dir-selector"),
		CanScan:  id.Role.Can(auth.CapManageOptions),
		History:  recent,
	}))
}
