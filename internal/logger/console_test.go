package logger

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

var tsPattern = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] `)

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"trace", []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}},
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"", []string{"INFO", "WARN", "ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
		{" WARN ", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			cl := NewConsoleLogger(&buf, tt.level)
			cl.LogTrace("m")
			cl.LogDebug("m")
			cl.LogInfo("m")
			cl.LogWarn("m")
			cl.LogError("m")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			var got []string
			for _, line := range lines {
				assert.Regexp(t, tsPattern, line)
				got = append(got, strings.Trim(strings.Fields(line)[1], "[]"))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsoleLogger_NilWriter(t *testing.T) {
	cl := NewConsoleLogger(nil, "trace")
	cl.LogInfo("dropped")
	cl.LogSummary(&pipeline.Report{})
	cl.JobFinished(pipeline.JobResult{}, pipeline.Snapshot{Total: 1, Completed: 1})
	assert.False(t, cl.ColorEnabled())
}

func TestConsoleLogger_NoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")
	cl.LogError("boom")

	assert.False(t, cl.ColorEnabled())
	assert.NotContains(t, buf.String(), "\033[")
	assert.Contains(t, buf.String(), "[ERROR] boom")
}

func TestConsoleLogger_JobResult(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	cl.LogJobResult(pipeline.JobResult{
		Job:     pipeline.Job{SourcePath: "/proj/a/x.bin"},
		Outcome: pipeline.OutcomeSucceeded,
	})
	assert.Empty(t, buf.String(), "successes are debug-level")

	cl.LogJobResult(pipeline.JobResult{
		Job:     pipeline.Job{SourcePath: "/proj/a/y.bin"},
		Outcome: pipeline.OutcomeFailed,
		Err:     errors.New("tool exited with code 2"),
	})
	assert.Contains(t, buf.String(), "/proj/a/y.bin: FAILED (tool exited with code 2)")
}

func TestConsoleLogger_ObserverProgress(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")
	cl.SetProgressEvery(2)

	for i := 1; i <= 5; i++ {
		cl.JobFinished(
			pipeline.JobResult{Outcome: pipeline.OutcomeSucceeded},
			pipeline.Snapshot{Total: 5, Completed: i, Success: i},
		)
	}

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "Progress:"), out) // after 2, 4 and 5
	assert.Contains(t, out, "[==========] 5/5 (100%) ok 5, failed 0, skipped 0")
}

func TestConsoleLogger_Summary(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	cl.LogSummary(&pipeline.Report{
		Status: pipeline.StatusStopped,
		Stats:  pipeline.Snapshot{Total: 10, Completed: 4, Success: 2, Failed: 1, Skipped: 1},
		Failures: []pipeline.JobResult{{
			Job: pipeline.Job{SourcePath: "/proj/bad.bin"},
			Err: errors.New("exit 1"),
		}},
		Duration: 90 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{
		"=== Conversion Summary ===",
		"Status: stopped",
		"Total files: 10",
		"Succeeded: 2",
		"Failed: 1",
		"Skipped: 1",
		"Not started: 6",
		"Duration: 1m30s",
		"  - /proj/bad.bin: exit 1",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m30s"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
