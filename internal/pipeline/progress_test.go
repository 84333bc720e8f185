package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPercent(t *testing.T) {
	tests := []struct {
		snap Snapshot
		want int
	}{
		{Snapshot{}, 0},
		{Snapshot{Total: 4, Completed: 1}, 25},
		{Snapshot{Total: 3, Completed: 2}, 66},
		{Snapshot{Total: 3, Completed: 3}, 100},
		{Snapshot{Total: 1, Completed: 5}, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.snap.Percent(), "%+v", tt.snap)
	}
}

func TestAggregatorRecord(t *testing.T) {
	agg := NewAggregator(3)

	s := agg.Record(OutcomeSucceeded)
	assert.Equal(t, Snapshot{Total: 3, Completed: 1, Success: 1}, s)

	s = agg.Record(OutcomeFailed)
	assert.Equal(t, Snapshot{Total: 3, Completed: 2, Success: 1, Failed: 1}, s)

	s = agg.Record(OutcomeSkipped)
	assert.Equal(t, Snapshot{Total: 3, Completed: 3, Success: 1, Failed: 1, Skipped: 1}, s)

	assert.Equal(t, s, agg.Snapshot())
}

func TestAggregatorConcurrent(t *testing.T) {
	const perOutcome = 200
	agg := NewAggregator(perOutcome * 3)

	var wg sync.WaitGroup
	for _, o := range []Outcome{OutcomeSucceeded, OutcomeFailed, OutcomeSkipped} {
		for i := 0; i < perOutcome; i++ {
			wg.Add(1)
			go func(o Outcome) {
				defer wg.Done()
				agg.Record(o)
			}(o)
		}
	}

	// Readers racing the writers must never see a torn snapshot
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s := agg.Snapshot()
			if s.Completed != s.Success+s.Failed+s.Skipped {
				t.Errorf("torn snapshot: %+v", s)
				return
			}
		}
	}()

	wg.Wait()
	<-done

	s := agg.Snapshot()
	assert.Equal(t, perOutcome*3, s.Completed)
	assert.Equal(t, perOutcome, s.Success)
	assert.Equal(t, perOutcome, s.Failed)
	assert.Equal(t, perOutcome, s.Skipped)
}

func TestObserversFanOut(t *testing.T) {
	var order []string
	obs := Observers{
		ObserverFunc(func(JobResult, Snapshot) { order = append(order, "first") }),
		nil,
		ObserverFunc(func(JobResult, Snapshot) { order = append(order, "second") }),
	}

	obs.JobFinished(JobResult{}, Snapshot{})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRunControl(t *testing.T) {
	ctrl := NewRunControl()
	assert.False(t, ctrl.Stopped())
	ctrl.Stop()
	assert.True(t, ctrl.Stopped())
	ctrl.Stop()
	assert.True(t, ctrl.Stopped())
}
