package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/services"
)

// RunView is the JSON form of a conversion run
type RunView struct {
	ID             int64    `json:"id"`
	UUID           string   `json:"uuid"`
	ScheduledJobID *int64   `json:"scheduled_job_id,omitempty"`
	SourceRoot     string   `json:"source_root"`
	OutputRoot     string   `json:"output_root"`
	SourceExts     []string `json:"source_exts"`
	TargetExt      string   `json:"target_ext"`
	Workers        int      `json:"workers"`
	Status         string   `json:"status"`
	Active         bool     `json:"active"`
	Total          int      `json:"total"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	Completed      int      `json:"completed"`
	Percent        int      `json:"percent"`
	StartedAt      string   `json:"started_at"`
	CompletedAt    *string  `json:"completed_at,omitempty"`
	DurationMs     int64    `json:"duration_ms"`
	Error          *string  `json:"error,omitempty"`
}

func (h *Handler) runView(run *db.ConversionRun) *RunView {
	stats := pipeline.Snapshot{Total: run.Total, Completed: run.Completed()}
	return &RunView{
		ID:             run.ID,
		UUID:           run.UUID,
		ScheduledJobID: run.ScheduledJobID,
		SourceRoot:     run.SourceRoot,
		OutputRoot:     run.OutputRoot,
		SourceExts:     run.SourceExts,
		TargetExt:      run.TargetExt,
		Workers:        run.Workers,
		Status:         string(run.Status),
		Active:         h.converter.IsActive(run.ID),
		Total:          run.Total,
		Succeeded:      run.Succeeded,
		Failed:         run.Failed,
		Skipped:        run.Skipped,
		Completed:      stats.Completed,
		Percent:        stats.Percent(),
		StartedAt:      *formatTime(&run.StartedAt),
		CompletedAt:    formatTime(run.CompletedAt),
		DurationMs:     run.Duration().Milliseconds(),
		Error:          run.ErrorMessage,
	}
}

// ListRuns handles GET /api/runs?limit=&offset=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := h.db.ListRuns(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]*RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, h.runView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	SourceRoot string   `json:"source_root"`
	OutputRoot string   `json:"output_root"`
	SourceExts []string `json:"source_exts"`
	TargetExt  string   `json:"target_ext"`
	Workers    int      `json:"workers"`
}

// runConfig validates a request and fills blanks from the configuration
func (h *Handler) runConfig(req *StartRunRequest) (*services.RunConfig, error) {
	sourceRoot, err := h.resolvePath("source_root", req.SourceRoot)
	if err != nil {
		return nil, err
	}
	outputRoot, err := h.resolvePath("output_root", req.OutputRoot)
	if err != nil {
		return nil, err
	}
	if sourceRoot == outputRoot {
		return nil, badRequest("source_root and output_root must differ")
	}

	cfg := &services.RunConfig{
		SourceRoot: sourceRoot,
		OutputRoot: outputRoot,
		SourceExts: req.SourceExts,
		TargetExt:  req.TargetExt,
		Workers:    req.Workers,
	}
	if len(cfg.SourceExts) == 0 {
		cfg.SourceExts = h.cfg.SourceExts
	}
	if cfg.TargetExt == "" {
		cfg.TargetExt = h.cfg.TargetExt
	}
	if cfg.Workers == 0 {
		cfg.Workers = h.defaultWorkers()
	}
	if cfg.Workers < 1 {
		return nil, badRequest("workers must be >= 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

// StartRun handles POST /api/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := h.runConfig(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.converter.StartRun(r.Context(), cfg, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.runView(run))
}

// lookupRun loads the run named by the {id} path segment
func (h *Handler) lookupRun(r *http.Request) (*db.ConversionRun, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	run, err := h.db.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run")
	}
	return run, err
}

// GetRun handles GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.lookupRun(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.runView(run))
}

// FailureView is one file that failed to convert
type FailureView struct {
	SourcePath string `json:"source_path"`
	Message    string `json:"message"`
}

// ListFailures handles GET /api/runs/{id}/failures
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	run, err := h.lookupRun(r)
	if err != nil {
		writeError(w, err)
		return
	}

	failures, err := h.db.ListFailures(run.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]FailureView, 0, len(failures))
	for _, f := range failures {
		views = append(views, FailureView{SourcePath: f.SourcePath, Message: f.Message})
	}
	writeJSON(w, http.StatusOK, views)
}

// CancelRun handles POST /api/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.lookupRun(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if !h.converter.CancelRun(run.ID) {
		writeError(w, &apiError{status: http.StatusConflict, msg: "run is not active"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": run.ID, "cancelling": true})
}

// defaultWorkers returns the workers setting, falling back to the configuration
func (h *Handler) defaultWorkers() int {
	if val, err := h.db.GetSetting(settingWorkers); err == nil && val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 1 {
			return n
		}
	}
	return h.cfg.Workers
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if val := r.URL.Query().Get(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
