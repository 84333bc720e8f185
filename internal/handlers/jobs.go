package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/scheduler"
)

// JobView is the JSON form of a scheduled job
type JobView struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	SourceRoot     string   `json:"source_root"`
	OutputRoot     string   `json:"output_root"`
	SourceExts     []string `json:"source_exts"`
	TargetExt      string   `json:"target_ext"`
	Workers        int      `json:"workers"`
	CronExpression string   `json:"cron_expression"`
	Enabled        bool     `json:"enabled"`
	TreeExportDir  *string  `json:"tree_export_dir,omitempty"`
	LastRunAt      *string  `json:"last_run_at,omitempty"`
	NextRunAt      *string  `json:"next_run_at,omitempty"`
	LastRunID      *int64   `json:"last_run_id,omitempty"`
	LastRunStatus  string   `json:"last_run_status,omitempty"`
}

func (h *Handler) jobView(job *db.ScheduledJob) *JobView {
	view := &JobView{
		ID:             job.ID,
		Name:           job.Name,
		SourceRoot:     job.SourceRoot,
		OutputRoot:     job.OutputRoot,
		SourceExts:     job.SourceExts,
		TargetExt:      job.TargetExt,
		Workers:        job.Workers,
		CronExpression: job.CronExpression,
		Enabled:        job.Enabled,
		TreeExportDir:  job.TreeExportDir,
		LastRunAt:      formatTime(job.LastRunAt),
		NextRunAt:      formatTime(job.NextRunAt),
	}
	if run, err := h.db.GetLastRunForJob(job.ID); err == nil {
		view.LastRunID = &run.ID
		view.LastRunStatus = string(run.Status)
	}
	return view
}

// JobRequest is the body of POST /api/jobs and PUT /api/jobs/{id}
type JobRequest struct {
	Name           string   `json:"name"`
	SourceRoot     string   `json:"source_root"`
	OutputRoot     string   `json:"output_root"`
	SourceExts     []string `json:"source_exts"`
	TargetExt      string   `json:"target_ext"`
	Workers        int      `json:"workers"`
	CronExpression string   `json:"cron_expression"`
	Enabled        *bool    `json:"enabled"` // nil = enabled
	TreeExportDir  string   `json:"tree_export_dir"`
}

// parseJob validates a job request. The returned job has its next run computed.
func (h *Handler) parseJob(req *JobRequest) (*db.ScheduledJob, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, badRequest("name is required")
	}

	cronExpr := strings.TrimSpace(req.CronExpression)
	if cronExpr == "" {
		return nil, badRequest("cron_expression is required")
	}
	nextRun, err := scheduler.NextRun(cronExpr, time.Now())
	if err != nil {
		return nil, badRequest("invalid cron expression: %v", err)
	}

	cfg, err := h.runConfig(&StartRunRequest{
		SourceRoot: req.SourceRoot,
		OutputRoot: req.OutputRoot,
		SourceExts: req.SourceExts,
		TargetExt:  req.TargetExt,
		Workers:    req.Workers,
	})
	if err != nil {
		return nil, err
	}

	job := &db.ScheduledJob{
		Name:           name,
		SourceRoot:     cfg.SourceRoot,
		OutputRoot:     cfg.OutputRoot,
		SourceExts:     cfg.SourceExts,
		TargetExt:      cfg.TargetExt,
		Workers:        cfg.Workers,
		CronExpression: cronExpr,
		Enabled:        req.Enabled == nil || *req.Enabled,
		NextRunAt:      &nextRun,
	}

	if strings.TrimSpace(req.TreeExportDir) != "" {
		dir, err := h.resolvePath("tree_export_dir", req.TreeExportDir)
		if err != nil {
			return nil, err
		}
		job.TreeExportDir = &dir
	}
	return job, nil
}

// lookupJob loads the job named by the {id} path segment
func (h *Handler) lookupJob(r *http.Request) (*db.ScheduledJob, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	job, err := h.db.GetScheduledJob(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job")
	}
	return job, err
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]*JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, h.jobView(job))
	}
	writeJSON(w, http.StatusOK, views)
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := h.parseJob(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err = h.db.CreateScheduledJob(job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.jobView(job))
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.jobView(job))
}

// UpdateJob handles PUT /api/jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	existing, err := h.lookupJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req JobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Enabled == nil {
		req.Enabled = &existing.Enabled
	}

	job, err := h.parseJob(&req)
	if err != nil {
		writeError(w, err)
		return
	}
	job.ID = existing.ID

	if err := h.db.UpdateScheduledJob(job); err != nil {
		writeError(w, err)
		return
	}

	job, err = h.db.GetScheduledJob(job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.jobView(job))
}

// ToggleJob handles POST /api/jobs/{id}/toggle
func (h *Handler) ToggleJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	job.Enabled = !job.Enabled
	if job.Enabled {
		// A job re-enabled after a while should not fire for the runs it missed
		nextRun, err := scheduler.NextRun(job.CronExpression, time.Now())
		if err != nil {
			writeError(w, badRequest("invalid cron expression: %v", err))
			return
		}
		job.NextRunAt = &nextRun
	}

	if err := h.db.UpdateScheduledJob(job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.jobView(job))
}

// RunJob handles POST /api/jobs/{id}/run, starting the job now
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg, err := h.runConfig(&StartRunRequest{
		SourceRoot: job.SourceRoot,
		OutputRoot: job.OutputRoot,
		SourceExts: job.SourceExts,
		TargetExt:  job.TargetExt,
		Workers:    job.Workers,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.converter.StartRun(r.Context(), cfg, &job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.runView(run))
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lookupJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.db.DeleteScheduledJob(job.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
