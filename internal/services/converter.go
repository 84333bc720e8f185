package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/filelock"
	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/tool"
	"github.com/lyallcooper/convoy/internal/types"
)

// ErrOutputBusy is returned when another run is writing into the same output root
var ErrOutputBusy = errors.New("output root is busy")

// Tool is the part of the external tool a conversion run needs
type Tool interface {
	pipeline.Converter
	CheckInstalled(ctx context.Context) error
}

// RunConfig holds configuration for a conversion run
type RunConfig struct {
	SourceRoot string
	OutputRoot string
	SourceExts []string
	TargetExt  string
	Workers    int
}

func (cfg *RunConfig) request() pipeline.Request {
	return pipeline.Request{
		SourceRoot: cfg.SourceRoot,
		OutputRoot: cfg.OutputRoot,
		SourceExts: cfg.SourceExts,
		TargetExt:  cfg.TargetExt,
	}
}

// subscriber wraps a channel with safe close handling
type subscriber struct {
	ch     chan *types.RunProgress
	mu     sync.Mutex
	closed bool
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// send delivers progress without blocking. Intermediate updates are dropped
// for a slow reader; the final one is always kept.
func (sub *subscriber) send(progress *types.RunProgress) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- progress:
		return true
	default:
	}
	if !progress.Finished() {
		return false
	}
	// Make room for the final update
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- progress:
		return true
	default:
		return false
	}
}

// activeRun is the control handle of a run in progress
type activeRun struct {
	ctrl   *pipeline.RunControl
	cancel context.CancelFunc
	done   chan struct{}
}

// Converter orchestrates conversion runs
type Converter struct {
	db         *db.DB
	tool       Tool
	runTimeout time.Duration

	mu         sync.RWMutex
	activeRuns map[int64]*activeRun

	// SSE subscribers
	subMu       sync.RWMutex
	subscribers map[int64][]*subscriber
}

// NewConverter creates a new conversion service. A zero runTimeout means no limit.
func NewConverter(database *db.DB, t Tool, runTimeout time.Duration) *Converter {
	return &Converter{
		db:          database,
		tool:        t,
		runTimeout:  runTimeout,
		activeRuns:  make(map[int64]*activeRun),
		subscribers: make(map[int64][]*subscriber),
	}
}

// Subscribe subscribes to progress updates for a run
func (s *Converter) Subscribe(runID int64) chan *types.RunProgress {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{
		ch: make(chan *types.RunProgress, 10),
	}
	s.subscribers[runID] = append(s.subscribers[runID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber
func (s *Converter) Unsubscribe(runID int64, ch chan *types.RunProgress) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub.ch == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

// broadcast sends progress to all subscribers
func (s *Converter) broadcast(runID int64, progress *types.RunProgress) {
	s.subMu.RLock()
	subs := make([]*subscriber, len(s.subscribers[runID]))
	copy(subs, s.subscribers[runID])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(progress)
	}
}

// closeSubscribers closes all subscriber channels for a run
func (s *Converter) closeSubscribers(runID int64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[runID] {
		sub.close()
	}
	delete(s.subscribers, runID)
}

// StartRun validates cfg, plans the run and starts converting in the background.
// Nothing is recorded when the source root is missing, the tool is not
// installed, or another run holds the output root.
func (s *Converter) StartRun(ctx context.Context, cfg *RunConfig, jobID *int64) (*db.ConversionRun, error) {
	if err := pipeline.CheckDir(cfg.SourceRoot); err != nil {
		return nil, err
	}
	if err := s.tool.CheckInstalled(ctx); err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", tool.ErrToolNotFound, err)
	}

	lock, err := filelock.LockDir(cfg.OutputRoot)
	if err != nil {
		if errors.Is(err, filelock.ErrBusy) {
			return nil, fmt.Errorf("%w: %s", ErrOutputBusy, cfg.OutputRoot)
		}
		return nil, err
	}

	jobs, err := cfg.request().Jobs()
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	run, err := s.db.CreateRun(&db.ConversionRun{
		UUID:           uuid.NewString(),
		ScheduledJobID: jobID,
		SourceRoot:     cfg.SourceRoot,
		OutputRoot:     cfg.OutputRoot,
		SourceExts:     cfg.SourceExts,
		TargetExt:      pipeline.NormalizeExt(cfg.TargetExt),
		Workers:        workers,
		Total:          len(jobs),
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	// The run outlives the request that started it
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	active := &activeRun{
		ctrl:   pipeline.NewRunControl(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.activeRuns[run.ID] = active
	s.mu.Unlock()

	log.Printf("converter: run %d (%s) started: %s -> %s, %d files, %d workers",
		run.ID, run.UUID, run.SourceRoot, run.OutputRoot, len(jobs), workers)

	go s.execute(runCtx, run, jobs, active, lock)

	return run, nil
}

// execute runs the pipeline and keeps the run record current
func (s *Converter) execute(ctx context.Context, run *db.ConversionRun, jobs []pipeline.Job, active *activeRun, lock *filelock.Lock) {
	defer func() {
		active.cancel()
		if err := lock.Unlock(); err != nil {
			log.Printf("converter: run %d: %v", run.ID, err)
		}
		s.mu.Lock()
		delete(s.activeRuns, run.ID)
		s.mu.Unlock()
		s.closeSubscribers(run.ID)
		close(active.done)
	}()

	// Observer calls are serialized by the runner
	observer := pipeline.ObserverFunc(func(res pipeline.JobResult, stats pipeline.Snapshot) {
		if err := s.db.UpdateRunProgress(run.ID, stats.Total, stats.Success, stats.Failed, stats.Skipped); err != nil {
			log.Printf("converter: run %d: failed to update progress: %v", run.ID, err)
		}
		if res.Outcome == pipeline.OutcomeFailed {
			if err := s.db.AddFailure(run.ID, res.Job.SourcePath, failureMessage(res.Err)); err != nil {
				log.Printf("converter: run %d: failed to record failure: %v", run.ID, err)
			}
		}
		progress := newProgress(run.ID, stats, "running")
		progress.LastFile = res.Job.SourcePath
		progress.LastOutcome = string(res.Outcome)
		s.broadcast(run.ID, progress)
	})

	runner := pipeline.NewRunner(s.tool, run.Workers, pipeline.WithObserver(observer))
	report, runErr := runner.Run(ctx, jobs, active.ctrl)

	status := db.RunStatusCompleted
	var errMsg *string
	switch {
	case report.Status == pipeline.StatusAborted:
		status = db.RunStatusAborted
		msg := runErr.Error()
		errMsg = &msg
	case interrupted(ctx, report) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = db.RunStatusFailed
		msg := fmt.Sprintf("run timed out after %v", s.runTimeout)
		errMsg = &msg
	case interrupted(ctx, report) || report.Status == pipeline.StatusStopped:
		status = db.RunStatusStopped
	}

	stats := report.Stats
	if err := s.db.UpdateRunProgress(run.ID, stats.Total, stats.Success, stats.Failed, stats.Skipped); err != nil {
		log.Printf("converter: run %d: failed to update progress: %v", run.ID, err)
	}
	if err := s.db.CompleteRun(run.ID, status, errMsg); err != nil {
		log.Printf("converter: run %d: failed to complete run: %v", run.ID, err)
	}

	final := newProgress(run.ID, stats, string(status))
	if errMsg != nil {
		final.Error = *errMsg
	}
	s.broadcast(run.ID, final)

	log.Printf("converter: run %d %s in %v: %d succeeded, %d failed, %d skipped, %d not started",
		run.ID, status, report.Duration.Round(time.Millisecond),
		stats.Success, stats.Failed, stats.Skipped, stats.Total-stats.Completed)
}

// interrupted reports whether the run context ended before the run did:
// either jobs were left undispatched or a running conversion was killed.
func interrupted(ctx context.Context, report *pipeline.Report) bool {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return false
	}
	if report.Status == pipeline.StatusStopped {
		return true
	}
	for _, f := range report.Failures {
		if errors.Is(f.Err, ctxErr) {
			return true
		}
	}
	return false
}

// CancelRun asks a run to stop dispatching new files. Conversions already
// running finish. Returns false if the run is not active.
func (s *Converter) CancelRun(runID int64) bool {
	s.mu.RLock()
	active, ok := s.activeRuns[runID]
	s.mu.RUnlock()

	if ok {
		active.ctrl.Stop()
	}
	return ok
}

// IsActive reports whether a run is still in progress
func (s *Converter) IsActive(runID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activeRuns[runID]
	return ok
}

// ActiveCount returns the number of runs in progress
func (s *Converter) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeRuns)
}

// Wait blocks until the run is finished and its record is final.
// Returns immediately for a run that is not active.
func (s *Converter) Wait(runID int64) {
	s.mu.RLock()
	active, ok := s.activeRuns[runID]
	s.mu.RUnlock()

	if ok {
		<-active.done
	}
}

// Shutdown cancels every active run, including conversions in flight, and
// waits for them to finish.
func (s *Converter) Shutdown() {
	s.mu.RLock()
	runs := make([]*activeRun, 0, len(s.activeRuns))
	for _, active := range s.activeRuns {
		runs = append(runs, active)
	}
	s.mu.RUnlock()

	for _, active := range runs {
		active.ctrl.Stop()
		active.cancel()
	}
	for _, active := range runs {
		<-active.done
	}
}

func newProgress(runID int64, stats pipeline.Snapshot, status string) *types.RunProgress {
	return &types.RunProgress{
		RunID:     runID,
		Total:     stats.Total,
		Completed: stats.Completed,
		Succeeded: stats.Success,
		Failed:    stats.Failed,
		Skipped:   stats.Skipped,
		Percent:   stats.Percent(),
		Status:    status,
	}
}

// failureMessage strips the path prefix a ConversionError adds; the path is stored separately
func failureMessage(err error) string {
	var convErr *pipeline.ConversionError
	if errors.As(err, &convErr) {
		return convErr.Err.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
