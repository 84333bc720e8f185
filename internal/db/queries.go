package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ConversionRun queries

const runColumns = `id, run_uuid, scheduled_job_id, source_root, output_root, source_exts, target_ext,
	workers, status, total, succeeded, failed, skipped, started_at, completed_at, error_message`

// CreateRun inserts a new running conversion run
func (db *DB) CreateRun(r *ConversionRun) (*ConversionRun, error) {
	extsJSON, _ := json.Marshal(nonNil(r.SourceExts))

	result, err := db.Exec(`
		INSERT INTO conversion_runs (run_uuid, scheduled_job_id, source_root, output_root, source_exts,
			target_ext, workers, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.ScheduledJobID, r.SourceRoot, r.OutputRoot, string(extsJSON),
		r.TargetExt, r.Workers, RunStatusRunning, r.Total, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetRun(id)
}

// GetRun retrieves a conversion run by ID
func (db *DB) GetRun(id int64) (*ConversionRun, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM conversion_runs WHERE id = ?`, id)
	return scanRun(row)
}

// GetRunByUUID retrieves a conversion run by its correlation id
func (db *DB) GetRunByUUID(uuid string) (*ConversionRun, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM conversion_runs WHERE run_uuid = ?`, uuid)
	return scanRun(row)
}

// ListRuns returns conversion runs, newest first
func (db *DB) ListRuns(limit, offset int) ([]*ConversionRun, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM conversion_runs
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ConversionRun
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetLastRunForJob returns the most recent conversion run of a scheduled job
func (db *DB) GetLastRunForJob(jobID int64) (*ConversionRun, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM conversion_runs
		WHERE scheduled_job_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`, jobID)
	return scanRun(row)
}

// UpdateRunProgress stores the current counters of a run
func (db *DB) UpdateRunProgress(id int64, total, succeeded, failed, skipped int) error {
	_, err := db.Exec(`
		UPDATE conversion_runs SET total = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?`,
		total, succeeded, failed, skipped, id,
	)
	return err
}

// CompleteRun marks a run as finished
func (db *DB) CompleteRun(id int64, status RunStatus, errorMsg *string) error {
	_, err := db.Exec(`
		UPDATE conversion_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		status, time.Now(), errorMsg, id,
	)
	return err
}

// FailInterruptedRuns marks runs still flagged as running as failed.
// Called at startup: no run survives a restart.
func (db *DB) FailInterruptedRuns() (int64, error) {
	result, err := db.Exec(`
		UPDATE conversion_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ?`,
		RunStatusFailed, time.Now(), "interrupted by restart", RunStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(row *sql.Row) (*ConversionRun, error) {
	var r ConversionRun
	var jobID sql.NullInt64
	var extsJSON string
	var completedAt sql.NullTime
	var errorMsg sql.NullString

	err := row.Scan(&r.ID, &r.UUID, &jobID, &r.SourceRoot, &r.OutputRoot, &extsJSON, &r.TargetExt,
		&r.Workers, &r.Status, &r.Total, &r.Succeeded, &r.Failed, &r.Skipped,
		&r.StartedAt, &completedAt, &errorMsg)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(extsJSON), &r.SourceExts)
	if jobID.Valid {
		r.ScheduledJobID = &jobID.Int64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}

	return &r, nil
}

func scanRunRow(rows *sql.Rows) (*ConversionRun, error) {
	var r ConversionRun
	var jobID sql.NullInt64
	var extsJSON string
	var completedAt sql.NullTime
	var errorMsg sql.NullString

	err := rows.Scan(&r.ID, &r.UUID, &jobID, &r.SourceRoot, &r.OutputRoot, &extsJSON, &r.TargetExt,
		&r.Workers, &r.Status, &r.Total, &r.Succeeded, &r.Failed, &r.Skipped,
		&r.StartedAt, &completedAt, &errorMsg)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(extsJSON), &r.SourceExts)
	if jobID.Valid {
		r.ScheduledJobID = &jobID.Int64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}

	return &r, nil
}

// ConversionFailure queries

// AddFailure records a file that failed to convert
func (db *DB) AddFailure(runID int64, sourcePath, message string) error {
	_, err := db.Exec(`
		INSERT INTO conversion_failures (run_id, source_path, message, created_at)
		VALUES (?, ?, ?, ?)`,
		runID, sourcePath, message, time.Now(),
	)
	return err
}

// ListFailures returns the failures of a run ordered by path
func (db *DB) ListFailures(runID int64) ([]*ConversionFailure, error) {
	rows, err := db.Query(`
		SELECT id, run_id, source_path, message, created_at
		FROM conversion_failures WHERE run_id = ? ORDER BY source_path`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []*ConversionFailure
	for rows.Next() {
		var f ConversionFailure
		if err := rows.Scan(&f.ID, &f.RunID, &f.SourcePath, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

// ScheduledJob queries

const jobColumns = `id, name, source_root, output_root, source_exts, target_ext, workers,
	cron_expression, enabled, tree_export_dir, last_run_at, next_run_at, created_at`

// CreateScheduledJob creates a new scheduled job
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	extsJSON, _ := json.Marshal(nonNil(job.SourceExts))

	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, source_root, output_root, source_exts, target_ext, workers,
			cron_expression, enabled, tree_export_dir, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.SourceRoot, job.OutputRoot, string(extsJSON), job.TargetExt, job.Workers,
		job.CronExpression, job.Enabled, job.TreeExportDir, job.NextRunAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScheduledJob(id)
}

// GetScheduledJob retrieves a scheduled job by ID
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all scheduled jobs
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs ORDER BY name`)
}

// GetEnabledJobs returns all enabled scheduled jobs
func (db *DB) GetEnabledJobs() ([]*ScheduledJob, error) {
	return db.queryJobs(`SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE enabled = 1 ORDER BY next_run_at`)
}

func (db *DB) queryJobs(query string, args ...any) ([]*ScheduledJob, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateScheduledJob updates a scheduled job
func (db *DB) UpdateScheduledJob(job *ScheduledJob) error {
	extsJSON, _ := json.Marshal(nonNil(job.SourceExts))

	_, err := db.Exec(`
		UPDATE scheduled_jobs SET
			name = ?, source_root = ?, output_root = ?, source_exts = ?, target_ext = ?, workers = ?,
			cron_expression = ?, enabled = ?, tree_export_dir = ?, next_run_at = ?
		WHERE id = ?`,
		job.Name, job.SourceRoot, job.OutputRoot, string(extsJSON), job.TargetExt, job.Workers,
		job.CronExpression, job.Enabled, job.TreeExportDir, job.NextRunAt, job.ID,
	)
	return err
}

// UpdateJobLastRun updates the last run time and next run time
func (db *DB) UpdateJobLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		lastRun, nextRun, id,
	)
	return err
}

// SetJobEnabled enables or disables a job
func (db *DB) SetJobEnabled(id int64, enabled bool) error {
	_, err := db.Exec("UPDATE scheduled_jobs SET enabled = ? WHERE id = ?", enabled, id)
	return err
}

// DeleteScheduledJob deletes a scheduled job
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id)
	return err
}

func scanScheduledJob(row *sql.Row) (*ScheduledJob, error) {
	var j ScheduledJob
	var extsJSON string
	var exportDir sql.NullString
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&j.ID, &j.Name, &j.SourceRoot, &j.OutputRoot, &extsJSON, &j.TargetExt, &j.Workers,
		&j.CronExpression, &j.Enabled, &exportDir, &lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(extsJSON), &j.SourceExts)
	if exportDir.Valid {
		j.TreeExportDir = &exportDir.String
	}
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}

	return &j, nil
}

func scanScheduledJobRow(rows *sql.Rows) (*ScheduledJob, error) {
	var j ScheduledJob
	var extsJSON string
	var exportDir sql.NullString
	var lastRun, nextRun sql.NullTime

	err := rows.Scan(&j.ID, &j.Name, &j.SourceRoot, &j.OutputRoot, &extsJSON, &j.TargetExt, &j.Workers,
		&j.CronExpression, &j.Enabled, &exportDir, &lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(extsJSON), &j.SourceExts)
	if exportDir.Valid {
		j.TreeExportDir = &exportDir.String
	}
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}

	return &j, nil
}

// Settings queries

// GetSetting returns a setting value, or "" when unset
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSetting inserts or replaces a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetSettings returns every setting
func (db *DB) GetSettings() (map[string]string, error) {
	rows, err := db.Query("SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// CleanupOldData removes finished runs (and their failures) older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	_, err := db.Exec(`
		DELETE FROM conversion_failures WHERE run_id IN (
			SELECT id FROM conversion_runs WHERE completed_at < ? AND status != 'running'
		)`, cutoff)
	if err != nil {
		return err
	}

	_, err = db.Exec("DELETE FROM conversion_runs WHERE completed_at < ? AND status != 'running'", cutoff)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
