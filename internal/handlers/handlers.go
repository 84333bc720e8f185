package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/search"
	"github.com/lyallcooper/convoy/internal/services"
	"github.com/lyallcooper/convoy/internal/tool"
)

// Handler holds all HTTP handlers
type Handler struct {
	db          *db.DB
	cfg         *config.Config
	tool        tool.ExecutorInterface
	converter   *services.Converter
	staticFS    fs.FS
	version     string
	disableCSRF bool
}

// New creates a new Handler. webFS must contain a static/ directory with index.html.
func New(database *db.DB, cfg *config.Config, executor tool.ExecutorInterface, converter *services.Converter, webFS fs.FS, version string, disableCSRF bool) (*Handler, error) {
	staticFS, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, err
	}

	return &Handler{
		db:          database,
		cfg:         cfg,
		tool:        executor,
		converter:   converter,
		staticFS:    staticFS,
		version:     version,
		disableCSRF: disableCSRF,
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.Index)

	mux.HandleFunc("GET /api/status", h.Status)

	// Runs
	mux.HandleFunc("GET /api/runs", h.ListRuns)
	mux.HandleFunc("POST /api/runs", h.protect(h.StartRun))
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /api/runs/{id}/failures", h.ListFailures)
	mux.HandleFunc("POST /api/runs/{id}/cancel", h.protect(h.CancelRun))

	// Tree and search
	mux.HandleFunc("GET /api/tree", h.Tree)
	mux.HandleFunc("POST /api/tree/export", h.protect(h.ExportTree))
	mux.HandleFunc("GET /api/search", h.Search)

	// Jobs
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("POST /api/jobs", h.protect(h.CreateJob))
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("PUT /api/jobs/{id}", h.protect(h.UpdateJob))
	mux.HandleFunc("DELETE /api/jobs/{id}", h.protect(h.DeleteJob))
	mux.HandleFunc("POST /api/jobs/{id}/toggle", h.protect(h.ToggleJob))
	mux.HandleFunc("POST /api/jobs/{id}/run", h.protect(h.RunJob))

	// Settings
	mux.HandleFunc("GET /api/settings", h.Settings)
	mux.HandleFunc("PUT /api/settings", h.protect(h.UpdateSettings))

	// SSE
	mux.HandleFunc("GET /sse/runs/{id}", h.RunProgressSSE)
}

// Index serves the single-page UI and hands out the CSRF token cookie
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.getOrCreateCSRFToken(w, r)
	http.ServeFileFS(w, r, h.staticFS, "index.html")
}

// StatusResponse reports the state of the external tool
type StatusResponse struct {
	Version     string `json:"version"`
	ToolPath    string `json:"tool_path"`
	Installed   bool   `json:"installed"`
	ToolVersion string `json:"tool_version,omitempty"`
	ToolError   string `json:"tool_error,omitempty"`
	ActiveRuns  int    `json:"active_runs"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:    h.version,
		ToolPath:   h.tool.BinaryPath(),
		ActiveRuns: h.converter.ActiveCount(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if version, err := h.tool.Version(ctx); err == nil {
		resp.Installed = true
		resp.ToolVersion = version
	} else {
		resp.ToolError = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// apiError is an error with an explicit HTTP status
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return &apiError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return &apiError{status: http.StatusNotFound, msg: what + " not found"}
}

// errorStatus maps an error to its HTTP status
func errorStatus(err error) int {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.status
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDirectoryNotFound),
		errors.Is(err, search.ErrNoKeywords):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrOutputBusy):
		return http.StatusConflict
	case errors.Is(err, tool.ErrToolNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("handlers: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// pathID parses the {id} path segment
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// resolvePath expands, absolutizes and authorizes a user-supplied path
func (h *Handler) resolvePath(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", badRequest("%s is required", field)
	}
	path, err := filepath.Abs(config.ExpandPath(raw))
	if err != nil {
		return "", badRequest("invalid %s: %v", field, err)
	}
	if !h.cfg.IsPathAllowed(path) {
		return "", &apiError{status: http.StatusForbidden, msg: fmt.Sprintf("%s %s is outside the allowed paths", field, path)}
	}
	return path, nil
}

// splitList splits a comma-separated query value, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
