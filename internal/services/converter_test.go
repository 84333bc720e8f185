package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lyallcooper/convoy/internal/db"
	"github.com/lyallcooper/convoy/internal/filelock"
	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/tool"
	"github.com/lyallcooper/convoy/internal/types"
)

// mockTool implements Tool for testing
type mockTool struct {
	mu sync.Mutex

	checkErr error
	// convertErr returns the error for a source path, nil to succeed
	convertErr func(path string) error
	// gate, when set, blocks every conversion until it is closed
	gate    chan struct{}
	started chan string

	convertCalls int
}

func (m *mockTool) CheckInstalled(ctx context.Context) error {
	return m.checkErr
}

func (m *mockTool) Convert(ctx context.Context, sourcePath string) ([]byte, error) {
	m.mu.Lock()
	m.convertCalls++
	m.mu.Unlock()

	if m.started != nil {
		m.started <- sourcePath
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.convertErr != nil {
		if err := m.convertErr(sourcePath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}
	return bytes.ToUpper(data), nil
}

func (m *mockTool) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convertCalls
}

// testDB creates a test database in a temp directory
func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// testProject creates proj/ with three .luac files and one unrelated file
func testProject(t *testing.T) *RunConfig {
	t.Helper()
	base := t.TempDir()
	src := filepath.Join(base, "proj")
	files := map[string]string{
		"a/x.luac":    "x body",
		"a/y.luac":    "y body",
		"b/z.luac":    "z body",
		"a/notes.txt": "ignored",
	}
	for rel, content := range files {
		path := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &RunConfig{
		SourceRoot: src,
		OutputRoot: filepath.Join(base, "out"),
		SourceExts: []string{".luac"},
		TargetExt:  ".lua",
		Workers:    2,
	}
}

func TestNewConverter(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{}
	timeout := 5 * time.Minute

	converter := NewConverter(database, mt, timeout)

	if converter.db != database {
		t.Error("converter.db not set correctly")
	}
	if converter.runTimeout != timeout {
		t.Errorf("converter.runTimeout = %v, want %v", converter.runTimeout, timeout)
	}
	if converter.activeRuns == nil || converter.subscribers == nil {
		t.Error("converter maps not initialized")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	converter := NewConverter(testDB(t), &mockTool{}, 0)
	runID := int64(123)

	ch1 := converter.Subscribe(runID)
	ch2 := converter.Subscribe(runID)

	converter.subMu.RLock()
	count := len(converter.subscribers[runID])
	converter.subMu.RUnlock()
	if count != 2 {
		t.Errorf("expected 2 subscribers, got %d", count)
	}

	converter.Unsubscribe(runID, ch1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}

	converter.Unsubscribe(runID, ch2)
	converter.subMu.RLock()
	_, exists := converter.subscribers[runID]
	converter.subMu.RUnlock()
	if exists {
		t.Error("run entry should be removed with its last subscriber")
	}

	// Unsubscribing twice is harmless
	converter.Unsubscribe(runID, ch2)
}

func TestSubscriberKeepsFinalUpdate(t *testing.T) {
	sub := &subscriber{ch: make(chan *types.RunProgress, 2)}

	sub.send(&types.RunProgress{Status: "running", Completed: 1})
	sub.send(&types.RunProgress{Status: "running", Completed: 2})
	if sub.send(&types.RunProgress{Status: "running", Completed: 3}) {
		t.Error("intermediate update should be dropped when the buffer is full")
	}
	if !sub.send(&types.RunProgress{Status: "completed", Completed: 3}) {
		t.Error("final update should always be delivered")
	}
	sub.close()

	var last *types.RunProgress
	for p := range sub.ch {
		last = p
	}
	if last == nil || last.Status != "completed" {
		t.Errorf("last update = %+v, want completed", last)
	}
	if sub.send(&types.RunProgress{Status: "completed"}) {
		t.Error("send on a closed subscriber should report false")
	}
}

func TestStartRun_ConvertsProject(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{}
	converter := NewConverter(database, mt, time.Minute)
	cfg := testProject(t)

	run, err := converter.StartRun(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.Status != db.RunStatusRunning || run.Total != 3 || run.UUID == "" {
		t.Errorf("unexpected initial run %+v", run)
	}

	converter.Wait(run.ID)

	got, err := database.GetRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != db.RunStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.Succeeded != 3 || got.Failed != 0 || got.Skipped != 0 {
		t.Errorf("counters = %d/%d/%d, want 3/0/0", got.Succeeded, got.Failed, got.Skipped)
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputRoot, "a", "x.lua"))
	if err != nil || string(data) != "X BODY" {
		t.Errorf("output a/x.lua = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputRoot, filelock.LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after the run")
	}
	if converter.IsActive(run.ID) {
		t.Error("run should no longer be active")
	}

	// A second run over the same roots converts nothing
	rerun, err := converter.StartRun(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	converter.Wait(rerun.ID)

	got, _ = database.GetRun(rerun.ID)
	if got.Skipped != 3 || got.Succeeded != 0 {
		t.Errorf("rerun counters = %+v, want 3 skipped", got)
	}
	if mt.calls() != 3 {
		t.Errorf("tool called %d times across both runs, want 3", mt.calls())
	}
}

func TestStartRun_RecordsFailures(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{
		convertErr: func(path string) error {
			if strings.HasSuffix(path, "y.luac") {
				return &tool.ExitError{Code: 2, Stderr: "bad bytecode"}
			}
			return nil
		},
	}
	converter := NewConverter(database, mt, 0)

	jobID := int64(42)
	run, err := converter.StartRun(context.Background(), testProject(t), &jobID)
	if err != nil {
		t.Fatal(err)
	}
	converter.Wait(run.ID)

	got, _ := database.GetRun(run.ID)
	if got.Status != db.RunStatusCompleted || got.Succeeded != 2 || got.Failed != 1 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.ScheduledJobID == nil || *got.ScheduledJobID != jobID {
		t.Errorf("ScheduledJobID = %v, want %d", got.ScheduledJobID, jobID)
	}

	failures, err := database.ListFailures(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if !strings.HasSuffix(failures[0].SourcePath, filepath.Join("a", "y.luac")) {
		t.Errorf("failure path = %s", failures[0].SourcePath)
	}
	if !strings.Contains(failures[0].Message, "bad bytecode") {
		t.Errorf("failure message = %q", failures[0].Message)
	}
}

func TestStartRun_SourceMissing(t *testing.T) {
	database := testDB(t)
	converter := NewConverter(database, &mockTool{}, 0)

	cfg := testProject(t)
	cfg.SourceRoot = filepath.Join(cfg.SourceRoot, "missing")

	_, err := converter.StartRun(context.Background(), cfg, nil)
	if !errors.Is(err, pipeline.ErrDirectoryNotFound) {
		t.Fatalf("expected ErrDirectoryNotFound, got %v", err)
	}

	runs, _ := database.ListRuns(10, 0)
	if len(runs) != 0 {
		t.Errorf("no run should be recorded, got %d", len(runs))
	}
}

func TestStartRun_ToolMissing(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
	}{
		{"not found", tool.ErrToolNotFound},
		{"broken binary", &tool.ExitError{Code: 127, Stderr: "cannot execute"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := testDB(t)
			mt := &mockTool{checkErr: tt.checkErr}
			converter := NewConverter(database, mt, 0)

			_, err := converter.StartRun(context.Background(), testProject(t), nil)
			if !errors.Is(err, tool.ErrToolNotFound) {
				t.Fatalf("expected ErrToolNotFound, got %v", err)
			}
			if mt.calls() != 0 {
				t.Error("no file should be converted")
			}
			if runs, _ := database.ListRuns(10, 0); len(runs) != 0 {
				t.Errorf("no run should be recorded, got %d", len(runs))
			}
		})
	}
}

func TestStartRun_OutputBusy(t *testing.T) {
	database := testDB(t)
	converter := NewConverter(database, &mockTool{}, 0)
	cfg := testProject(t)

	held, err := filelock.LockDir(cfg.OutputRoot)
	if err != nil {
		t.Fatal(err)
	}

	_, err = converter.StartRun(context.Background(), cfg, nil)
	if !errors.Is(err, ErrOutputBusy) {
		t.Fatalf("expected ErrOutputBusy, got %v", err)
	}

	held.Unlock()
	run, err := converter.StartRun(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("StartRun after unlock failed: %v", err)
	}
	converter.Wait(run.ID)
}

func TestStartRun_ToolVanishesMidRun(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{
		convertErr: func(string) error { return tool.ErrToolNotFound },
	}
	converter := NewConverter(database, mt, 0)
	cfg := testProject(t)
	cfg.Workers = 1

	run, err := converter.StartRun(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	converter.Wait(run.ID)

	got, _ := database.GetRun(run.ID)
	if got.Status != db.RunStatusAborted {
		t.Errorf("Status = %s, want aborted", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "not found") {
		t.Errorf("ErrorMessage = %v", got.ErrorMessage)
	}
	if mt.calls() != 1 {
		t.Errorf("tool called %d times after going missing, want 1", mt.calls())
	}
}

func TestCancelRun(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{
		gate:    make(chan struct{}),
		started: make(chan string, 3),
	}
	converter := NewConverter(database, mt, 0)
	cfg := testProject(t)
	cfg.Workers = 1

	if converter.CancelRun(999) {
		t.Error("CancelRun on an unknown run should report false")
	}

	run, err := converter.StartRun(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	<-mt.started
	if !converter.CancelRun(run.ID) {
		t.Fatal("CancelRun should report an active run")
	}
	close(mt.gate)
	converter.Wait(run.ID)

	got, _ := database.GetRun(run.ID)
	if got.Status != db.RunStatusStopped {
		t.Errorf("Status = %s, want stopped", got.Status)
	}
	// The conversion in flight finishes, nothing else is dispatched
	if got.Succeeded != 1 || got.Completed() != 1 {
		t.Errorf("completed %d (succeeded %d), want 1", got.Completed(), got.Succeeded)
	}
}

func TestSubscribe_ReceivesProgressUntilDone(t *testing.T) {
	database := testDB(t)
	mt := &mockTool{gate: make(chan struct{})}
	converter := NewConverter(database, mt, 0)

	run, err := converter.StartRun(context.Background(), testProject(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	ch := converter.Subscribe(run.ID)
	close(mt.gate)

	var updates []*types.RunProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			updates = append(updates, p)
		case <-timeout:
			t.Fatal("timed out waiting for the channel to close")
		}
	}

	if len(updates) == 0 {
		t.Fatal("no progress received")
	}
	last := updates[len(updates)-1]
	if last.Status != string(db.RunStatusCompleted) || last.Completed != 3 || last.Percent != 100 {
		t.Errorf("final update = %+v", last)
	}
	for _, p := range updates[:len(updates)-1] {
		if p.Status != "running" || p.LastFile == "" {
			t.Errorf("intermediate update = %+v", p)
		}
	}
}

func TestShutdown_CancelsInFlight(t *testing.T) {
	// With 3 workers every file is already dispatched when shutdown lands
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			database := testDB(t)
			mt := &mockTool{
				gate:    make(chan struct{}), // never opened
				started: make(chan string, 3),
			}
			converter := NewConverter(database, mt, 0)
			cfg := testProject(t)
			cfg.Workers = workers

			run, err := converter.StartRun(context.Background(), cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < workers; i++ {
				<-mt.started
			}

			converter.Shutdown()

			if converter.ActiveCount() != 0 {
				t.Errorf("ActiveCount = %d after shutdown", converter.ActiveCount())
			}
			got, _ := database.GetRun(run.ID)
			if got.Status != db.RunStatusStopped {
				t.Errorf("Status = %s, want stopped", got.Status)
			}
		})
	}
}

func TestStartRun_Timeout(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			database := testDB(t)
			mt := &mockTool{gate: make(chan struct{})} // never opened
			converter := NewConverter(database, mt, 50*time.Millisecond)
			cfg := testProject(t)
			cfg.Workers = workers

			run, err := converter.StartRun(context.Background(), cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			converter.Wait(run.ID)

			got, _ := database.GetRun(run.ID)
			if got.Status != db.RunStatusFailed {
				t.Errorf("Status = %s, want failed", got.Status)
			}
			if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "timed out") {
				t.Errorf("ErrorMessage = %v", got.ErrorMessage)
			}
			if got.Succeeded != 0 {
				t.Errorf("Succeeded = %d, want 0", got.Succeeded)
			}
		})
	}
}

func TestStartRun_DeadlineAfterLastJobKeepsCompleted(t *testing.T) {
	database := testDB(t)
	converter := NewConverter(database, &mockTool{}, time.Minute)

	run, err := converter.StartRun(context.Background(), testProject(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	converter.Wait(run.ID)

	got, _ := database.GetRun(run.ID)
	if got.Status != db.RunStatusCompleted || got.ErrorMessage != nil {
		t.Errorf("Status = %s, ErrorMessage = %v, want completed", got.Status, got.ErrorMessage)
	}
}

func TestInterrupted(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	killed := pipeline.JobResult{
		Outcome: pipeline.OutcomeFailed,
		Err:     &pipeline.ConversionError{Path: "/p/a.luac", Err: context.Canceled},
	}
	badInput := pipeline.JobResult{
		Outcome: pipeline.OutcomeFailed,
		Err:     &pipeline.ConversionError{Path: "/p/b.luac", Err: errors.New("exit 1")},
	}

	tests := []struct {
		name   string
		ctx    context.Context
		report *pipeline.Report
		want   bool
	}{
		{"live context", context.Background(), &pipeline.Report{Status: pipeline.StatusStopped}, false},
		{"undispatched jobs", cancelled, &pipeline.Report{Status: pipeline.StatusStopped}, true},
		{"killed conversion", cancelled, &pipeline.Report{Status: pipeline.StatusComplete, Failures: []pipeline.JobResult{badInput, killed}}, true},
		{"finished before cancel", cancelled, &pipeline.Report{Status: pipeline.StatusComplete, Failures: []pipeline.JobResult{badInput}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := interrupted(tt.ctx, tt.report); got != tt.want {
				t.Errorf("interrupted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"conversion error", &pipeline.ConversionError{Path: "/p/a.luac", Err: errors.New("exit 1")}, "exit 1"},
		{"plain error", errors.New("boom"), "boom"},
		{"nil", nil, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureMessage(tt.err); got != tt.want {
				t.Errorf("failureMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
