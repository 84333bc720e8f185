// Package logger provides console output for command-line conversion runs.
//
// ConsoleLogger is leveled and thread-safe, prefixes every line with an
// [HH:MM:SS] timestamp, and colors its output when writing to a terminal.
// It also implements pipeline.Observer so it can render a run's progress.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/lyallcooper/convoy/internal/pipeline"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs to a writer with timestamps and level filtering.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool

	// progressEvery controls how often JobFinished prints a progress line
	progressEvery int
}

// NewConsoleLogger creates a ConsoleLogger that writes to writer.
// A nil writer discards everything. Valid levels are trace, debug, info,
// warn and error; anything else means info.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:        writer,
		logLevel:      normalizeLogLevel(logLevel),
		colorOutput:   isTerminal(writer),
		progressEvery: 10,
	}
}

// SetProgressEvery sets after how many finished jobs a progress line is printed
func (cl *ConsoleLogger) SetProgressEvery(n int) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	if n < 1 {
		n = 1
	}
	cl.progressEvery = n
}

// ColorEnabled reports whether output is colored
func (cl *ConsoleLogger) ColorEnabled() bool {
	return cl.colorOutput
}

// isTerminal reports whether w is a TTY that should get color.
// NO_COLOR (through color.NoColor) always wins.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// Infof formats and logs at info level
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.LogInfo(fmt.Sprintf(format, args...))
}

// Warnf formats and logs at warn level
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.LogWarn(fmt.Sprintf(format, args...))
}

// Errorf formats and logs at error level
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.LogError(fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	levelText := level
	if cl.colorOutput {
		levelText = levelColor(level).Sprint(level)
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp(), levelText, message)
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// LogRunStart logs the start of a conversion run at INFO level.
// Format: "[HH:MM:SS] Converting <n> files from <src> to <out> (<w> workers)"
func (cl *ConsoleLogger) LogRunStart(req pipeline.Request, jobs, workers int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	count := fmt.Sprintf("%d files", jobs)
	if cl.colorOutput {
		count = color.New(color.Bold).Sprint(count)
	}
	fmt.Fprintf(cl.writer, "[%s] Converting %s from %s to %s (%d workers)\n",
		timestamp(), count, req.SourceRoot, req.OutputRoot, workers)
}

// LogJobResult logs one finished job. Failures are logged at WARN, the rest at DEBUG.
// Format: "[HH:MM:SS] <path>: <outcome>"
func (cl *ConsoleLogger) LogJobResult(result pipeline.JobResult) {
	level := "debug"
	if result.Outcome == pipeline.OutcomeFailed {
		level = "warn"
	}
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	status := strings.ToUpper(string(result.Outcome))
	if cl.colorOutput {
		status = outcomeColor(result.Outcome).Sprint(status)
	}

	line := fmt.Sprintf("[%s] %s: %s", timestamp(), result.Job.SourcePath, status)
	if result.Err != nil {
		line += fmt.Sprintf(" (%v)", result.Err)
	} else if result.Outcome == pipeline.OutcomeSucceeded {
		line += fmt.Sprintf(" in %s", formatDuration(result.Duration))
	}
	fmt.Fprintln(cl.writer, line)
}

func outcomeColor(o pipeline.Outcome) *color.Color {
	switch o {
	case pipeline.OutcomeSucceeded:
		return color.New(color.FgGreen)
	case pipeline.OutcomeFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

// LogProgress logs a progress bar for the given counters at INFO level.
// Format: "[HH:MM:SS] Progress: [===       ] 3/10 (30%) ok 2, failed 0, skipped 1"
func (cl *ConsoleLogger) LogProgress(stats pipeline.Snapshot) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	pb := NewProgressBar(stats.Total, 10, cl.colorOutput)
	pb.Update(stats.Completed)
	fmt.Fprintf(cl.writer, "[%s] Progress: %s ok %d, failed %d, skipped %d\n",
		timestamp(), pb.Render(), stats.Success, stats.Failed, stats.Skipped)
}

// LogSummary logs the run summary at INFO level, listing failed files
func (cl *ConsoleLogger) LogSummary(report *pipeline.Report) {
	if cl.writer == nil || report == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	s := report.Stats
	header := "=== Conversion Summary ==="
	status := string(report.Status)
	success := fmt.Sprintf("Succeeded: %d", s.Success)
	failed := fmt.Sprintf("Failed: %d", s.Failed)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		success = color.New(color.FgGreen).Sprint(success)
		if s.Failed > 0 {
			failed = color.New(color.FgRed).Sprint(failed)
		}
		if report.Status != pipeline.StatusComplete {
			status = color.New(color.FgYellow).Sprint(status)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, header)
	fmt.Fprintf(&b, "[%s] Status: %s\n", ts, status)
	fmt.Fprintf(&b, "[%s] Total files: %d\n", ts, s.Total)
	fmt.Fprintf(&b, "[%s] %s\n", ts, success)
	fmt.Fprintf(&b, "[%s] %s\n", ts, failed)
	fmt.Fprintf(&b, "[%s] Skipped: %d\n", ts, s.Skipped)
	if pending := s.Total - s.Completed; pending > 0 {
		fmt.Fprintf(&b, "[%s] Not started: %d\n", ts, pending)
	}
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(report.Duration))

	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "[%s] Failed files:\n", ts)
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "[%s]   - %s: %v\n", ts, f.Job.SourcePath, f.Err)
		}
	}

	io.WriteString(cl.writer, b.String())
}

// JobFinished implements pipeline.Observer: every result is logged and a
// progress line is printed every progressEvery jobs and at the end
func (cl *ConsoleLogger) JobFinished(result pipeline.JobResult, stats pipeline.Snapshot) {
	cl.LogJobResult(result)

	cl.mutex.Lock()
	every := cl.progressEvery
	cl.mutex.Unlock()

	if stats.Completed%every == 0 || stats.Completed == stats.Total {
		cl.LogProgress(stats)
	}
}

var _ pipeline.Observer = (*ConsoleLogger)(nil)

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "250ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
