package pipeline

import (
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable copy of run counters
type Snapshot struct {
	Total     int
	Completed int
	Success   int
	Failed    int
	Skipped   int
}

// Percent returns completed/total as an integer percentage (0-100)
func (s Snapshot) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	p := s.Completed * 100 / s.Total
	if p > 100 {
		p = 100
	}
	return p
}

// Aggregator holds the counters of a single run.
// All counters move together under one lock so a snapshot is never torn.
type Aggregator struct {
	mu    sync.Mutex
	stats Snapshot
}

// NewAggregator creates an aggregator for total jobs
func NewAggregator(total int) *Aggregator {
	return &Aggregator{stats: Snapshot{Total: total}}
}

// Record counts one terminal outcome and returns the counters as of that outcome
func (a *Aggregator) Record(outcome Outcome) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch outcome {
	case OutcomeSucceeded:
		a.stats.Success++
	case OutcomeFailed:
		a.stats.Failed++
	case OutcomeSkipped:
		a.stats.Skipped++
	}
	a.stats.Completed++
	return a.stats
}

// Snapshot returns a consistent copy of the current counters
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Observer receives job results in completion order.
// Calls are never concurrent for a single run.
type Observer interface {
	JobFinished(result JobResult, stats Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(result JobResult, stats Snapshot)

func (f ObserverFunc) JobFinished(result JobResult, stats Snapshot) {
	f(result, stats)
}

// Observers fans a result out to several observers in order
type Observers []Observer

func (o Observers) JobFinished(result JobResult, stats Snapshot) {
	for _, obs := range o {
		if obs != nil {
			obs.JobFinished(result, stats)
		}
	}
}

// RunControl is the cancellation flag shared by the dispatcher and every worker
type RunControl struct {
	stopped atomic.Bool
}

// NewRunControl creates a control in the running state
func NewRunControl() *RunControl {
	return &RunControl{}
}

// Stop requests that no further jobs be dispatched. Safe to call more than once.
func (c *RunControl) Stop() {
	c.stopped.Store(true)
}

// Stopped reports whether Stop has been called
func (c *RunControl) Stopped() bool {
	return c.stopped.Load()
}
