// Package pipeline implements the bulk conversion pipeline: enumerating
// source files, planning one job per file, and running the jobs through an
// external converter on a bounded worker pool.
//
// Jobs whose destination already exists are skipped without calling the
// converter. A converter that cannot be found aborts the whole run, while a
// failure on a single file is recorded and the run moves on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyallcooper/convoy/internal/filelock"
)

// ErrToolNotFound means the external converter could not be launched.
// No job can succeed after it, so it aborts the run.
var ErrToolNotFound = errors.New("conversion tool not found")

// Converter turns one source file into the bytes written to its destination
type Converter interface {
	Convert(ctx context.Context, sourcePath string) ([]byte, error)
}

// ConverterFunc adapts a function to Converter
type ConverterFunc func(ctx context.Context, sourcePath string) ([]byte, error)

func (f ConverterFunc) Convert(ctx context.Context, sourcePath string) ([]byte, error) {
	return f(ctx, sourcePath)
}

// RunStatus is how a run ended
type RunStatus string

const (
	StatusComplete RunStatus = "complete"
	StatusStopped  RunStatus = "stopped" // stopped by the user before every job was dispatched
	StatusAborted  RunStatus = "aborted" // fatal error, see Run's error
)

// Report summarizes a finished run
type Report struct {
	Status   RunStatus
	Stats    Snapshot
	Failures []JobResult
	Duration time.Duration
}

// Request describes a conversion over a directory tree
type Request struct {
	SourceRoot string
	OutputRoot string
	SourceExts []string
	TargetExt  string
}

// Jobs scans the source root and plans one job per matching file
func (req Request) Jobs() ([]Job, error) {
	files, err := Scan(req.SourceRoot, SuffixFilter(req.SourceExts...))
	if err != nil {
		return nil, err
	}
	return PlanJobs(req.SourceRoot, req.OutputRoot, files, req.TargetExt)
}

// Runner executes jobs with at most workers concurrent conversions
type Runner struct {
	converter Converter
	workers   int
	observer  Observer
	write     func(path string, data []byte) error
	exists    func(path string) bool
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver sets the observer notified after each terminal job transition
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithWriter replaces the output writer (defaults to an atomic file write)
func WithWriter(write func(path string, data []byte) error) Option {
	return func(r *Runner) {
		r.write = write
	}
}

// NewRunner creates a runner. A worker budget below 1 is treated as 1.
func NewRunner(converter Converter, workers int, opts ...Option) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		converter: converter,
		workers:   workers,
		write:     filelock.AtomicWrite,
		exists:    fileExists,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Workers returns the worker budget
func (r *Runner) Workers() int {
	return r.workers
}

// Run converts jobs until they are all done, ctrl is stopped, ctx is cancelled,
// or the converter turns out to be missing.
//
// Stopping ctrl only prevents new dispatches; running conversions finish.
// Cancelling ctx also reaches the running conversions. The returned error is
// non-nil only for an aborted run.
func (r *Runner) Run(ctx context.Context, jobs []Job, ctrl *RunControl) (*Report, error) {
	start := time.Now()
	if ctrl == nil {
		ctrl = NewRunControl()
	}

	agg := NewAggregator(len(jobs))
	report := &Report{}

	// Buffered for every job so workers never block on the collector
	results := make(chan JobResult, len(jobs))
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for res := range results {
			stats := agg.Record(res.Outcome)
			if res.Outcome == OutcomeFailed {
				report.Failures = append(report.Failures, res)
			}
			if r.observer != nil {
				r.observer.JobFinished(res, stats)
			}
		}
	}()

	semaphore := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var aborted atomic.Bool
	var fatalOnce sync.Once
	var fatalErr error

	halted := func() bool {
		return ctrl.Stopped() || aborted.Load() || ctx.Err() != nil
	}

	// Jobs sharing a destination run one after another, so a later one sees
	// the earlier output and is skipped exactly as in a sequential run
	pending := make(map[string]chan struct{})

	stopped := false
	for _, job := range jobs {
		if halted() {
			stopped = true
			break
		}

		if done, ok := pending[job.DestPath]; ok {
			select {
			case <-done:
			case <-ctx.Done():
			}
			if halted() {
				stopped = true
				break
			}
		}

		if r.exists(job.DestPath) {
			results <- JobResult{Job: job, Outcome: OutcomeSkipped}
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
		}
		// Waiting for a slot can take a while, so look again before starting
		if halted() {
			stopped = true
			break
		}

		done := make(chan struct{})
		pending[job.DestPath] = done

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer close(done)
			defer func() { <-semaphore }()

			res := r.execute(ctx, job)
			if errors.Is(res.Err, ErrToolNotFound) {
				aborted.Store(true)
				fatalOnce.Do(func() { fatalErr = res.Err })
			}
			results <- res
		}(job)
	}

	wg.Wait()
	close(results)
	<-collectDone

	report.Stats = agg.Snapshot()
	report.Duration = time.Since(start)

	switch {
	case aborted.Load():
		report.Status = StatusAborted
		return report, fatalErr
	case stopped:
		report.Status = StatusStopped
	default:
		report.Status = StatusComplete
	}
	return report, nil
}

// execute runs a single job to a terminal outcome
func (r *Runner) execute(ctx context.Context, job Job) JobResult {
	start := time.Now()
	res := JobResult{Job: job}

	output, err := r.converter.Convert(ctx, job.SourcePath)
	switch {
	case errors.Is(err, ErrToolNotFound):
		res.Outcome = OutcomeFailed
		res.Err = err
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = &ConversionError{Path: job.SourcePath, Err: err}
	default:
		if werr := r.write(job.DestPath, output); werr != nil {
			res.Outcome = OutcomeFailed
			res.Err = &ConversionError{Path: job.SourcePath, Err: fmt.Errorf("failed to write output: %w", werr)}
		} else {
			res.Outcome = OutcomeSucceeded
		}
	}

	res.Duration = time.Since(start)
	return res
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
