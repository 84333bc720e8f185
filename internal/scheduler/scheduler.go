package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/services"
	"github.com/lyallcooper/convoy/internal/tree"
	"github.com/robfig/cron/v3"
)

// TreeExportName is the file name (without extension) of a scheduled tree export
const TreeExportName = "tree"

// Parser parses the 5-field cron expressions of scheduled jobs
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first activation of expr after from
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	db        *db.DB
	converter *services.Converter
	interval  time.Duration

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a new scheduler
func New(database *db.DB, converter *services.Converter) *Scheduler {
	return &Scheduler{
		db:        database,
		converter: converter,
		interval:  time.Minute,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, s.stopChan)
}

// Stop stops the scheduler and waits for spawned jobs to return.
// Runs already started keep going in the conversion service.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the scheduler loop is active
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx, time.Now())

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.checkJobs(ctx, now)
		}
	}
}

// checkJobs starts every enabled job that is due at now
func (s *Scheduler) checkJobs(ctx context.Context, now time.Time) {
	jobs, err := s.db.GetEnabledJobs()
	if err != nil {
		log.Printf("scheduler: failed to get jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		// Move the schedule forward first so a failing job is not retried every tick
		nextRun, err := NextRun(job.CronExpression, now)
		if err != nil {
			log.Printf("scheduler: invalid cron expression for job %d: %v", job.ID, err)
			continue
		}
		if err := s.db.UpdateJobLastRun(job.ID, now, nextRun); err != nil {
			log.Printf("scheduler: failed to update job last run: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.runJob(ctx, job, nextRun)
	}
}

// runJob executes a scheduled job
func (s *Scheduler) runJob(ctx context.Context, job *db.ScheduledJob, nextRun time.Time) {
	defer s.wg.Done()

	log.Printf("scheduler: running job %d (%s)", job.ID, job.Name)

	cfg := &services.RunConfig{
		SourceRoot: job.SourceRoot,
		OutputRoot: job.OutputRoot,
		SourceExts: job.SourceExts,
		TargetExt:  job.TargetExt,
		Workers:    job.Workers,
	}

	run, err := s.converter.StartRun(ctx, cfg, &job.ID)
	if err != nil {
		log.Printf("scheduler: failed to start run for job %d: %v", job.ID, err)
		return
	}

	log.Printf("scheduler: started run %d for job %d, next run at %v", run.ID, job.ID, nextRun)

	if job.TreeExportDir != nil && *job.TreeExportDir != "" {
		s.waitAndExportTree(ctx, run.ID, job)
	}
}

// waitAndExportTree waits for a run to finish and exports its output tree
func (s *Scheduler) waitAndExportTree(ctx context.Context, runID int64, job *db.ScheduledJob) {
	done := make(chan struct{})
	go func() {
		s.converter.Wait(runID)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	run, err := s.db.GetRun(runID)
	if err != nil {
		log.Printf("scheduler: failed to get run: %v", err)
		return
	}
	if run.Status != db.RunStatusCompleted {
		log.Printf("scheduler: run %d ended %s, skipping tree export", runID, run.Status)
		return
	}

	textPath, jsonPath, err := tree.Export(job.OutputRoot, *job.TreeExportDir, TreeExportName)
	if err != nil {
		log.Printf("scheduler: tree export for job %d failed: %v", job.ID, err)
		return
	}
	log.Printf("scheduler: exported tree for job %d to %s and %s", job.ID, textPath, jsonPath)
}

// UpdateNextRun updates the next run time for a job
func (s *Scheduler) UpdateNextRun(job *db.ScheduledJob) error {
	nextRun, err := NextRun(job.CronExpression, time.Now())
	if err != nil {
		return err
	}
	job.NextRunAt = &nextRun

	return s.db.UpdateScheduledJob(job)
}
