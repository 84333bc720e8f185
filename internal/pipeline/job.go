package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Job is one file conversion: a source file and where its output goes.
type Job struct {
	SourcePath string
	DestPath   string
}

// Outcome is the terminal state of a job
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// JobResult is reported once per job that reached a terminal state
type JobResult struct {
	Job      Job
	Outcome  Outcome
	Err      error // set when Outcome is OutcomeFailed
	Duration time.Duration
}

// ConversionError is a non-fatal failure of a single file
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %s failed: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NormalizeExt makes sure an extension starts with a dot
func NormalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// DestPath mirrors source (which must live under scanRoot) onto outputRoot with
// its extension replaced by targetExt.
func DestPath(scanRoot, outputRoot, source, targetExt string) (string, error) {
	rel, err := filepath.Rel(scanRoot, source)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", source, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of %s", source, scanRoot)
	}

	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + NormalizeExt(targetExt)
	return filepath.Join(outputRoot, rel), nil
}

// PlanJobs builds one job per scanned file, preserving the scan order
func PlanJobs(scanRoot, outputRoot string, files []string, targetExt string) ([]Job, error) {
	absScan, err := filepath.Abs(scanRoot)
	if err != nil {
		return nil, err
	}
	absOut, err := filepath.Abs(outputRoot)
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(files))
	for _, f := range files {
		dest, err := DestPath(absScan, absOut, f, targetExt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{SourcePath: f, DestPath: dest})
	}
	return jobs, nil
}
