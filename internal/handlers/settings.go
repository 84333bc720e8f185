package handlers

import (
	"net/http"
	"strconv"
)

const (
	settingRetentionDays = "retention_days"
	settingWorkers       = "workers"
)

// SettingsResponse holds the editable settings and the read-only configuration
type SettingsResponse struct {
	RetentionDays int      `json:"retention_days"`
	Workers       int      `json:"workers"`
	SourceExts    []string `json:"source_exts"`
	TargetExt     string   `json:"target_ext"`
	AllowedPaths  []string `json:"allowed_paths"`
	ToolPath      string   `json:"tool_path"`
	DBPath        string   `json:"db_path"`
	Version       string   `json:"version"`
}

// UpdateSettingsRequest is the body of PUT /api/settings. Omitted fields are unchanged.
type UpdateSettingsRequest struct {
	RetentionDays *int `json:"retention_days"`
	Workers       *int `json:"workers"`
}

// RetentionDays returns the retention setting, falling back to the configuration
func (h *Handler) RetentionDays() int {
	if val, err := h.db.GetSetting(settingRetentionDays); err == nil && val != "" {
		if days, err := strconv.Atoi(val); err == nil && days >= 1 && days <= 365 {
			return days
		}
	}
	return h.cfg.RetentionDays
}

// Settings handles GET /api/settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	allowed := h.cfg.AllowedPaths
	if allowed == nil {
		allowed = []string{}
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		RetentionDays: h.RetentionDays(),
		Workers:       h.defaultWorkers(),
		SourceExts:    h.cfg.SourceExts,
		TargetExt:     h.cfg.TargetExt,
		AllowedPaths:  allowed,
		ToolPath:      h.tool.BinaryPath(),
		DBPath:        h.cfg.DBPath,
		Version:       h.version,
	})
}

// UpdateSettings handles PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.RetentionDays != nil && (*req.RetentionDays < 1 || *req.RetentionDays > 365) {
		writeError(w, badRequest("retention_days must be between 1 and 365"))
		return
	}
	if req.Workers != nil && (*req.Workers < 1 || *req.Workers > 64) {
		writeError(w, badRequest("workers must be between 1 and 64"))
		return
	}

	if req.RetentionDays != nil {
		if err := h.db.SetSetting(settingRetentionDays, strconv.Itoa(*req.RetentionDays)); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Workers != nil {
		if err := h.db.SetSetting(settingWorkers, strconv.Itoa(*req.Workers)); err != nil {
			writeError(w, err)
			return
		}
	}

	h.Settings(w, r)
}
