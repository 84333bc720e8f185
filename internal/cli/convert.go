package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyallcooper/convoy/internal/config"
	"github.com/lyallcooper/convoy/internal/filelock"
	"github.com/lyallcooper/convoy/internal/pipeline"
)

// NewConvertCommand creates the convert command
func NewConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <source-dir>",
		Short: "Convert every matching file under a directory",
		Long: `Convert every file under <source-dir> whose name ends in one of the source
extensions, writing the tool's output to the same relative path under --out
with the target extension.

Files whose output already exists are skipped. Press Ctrl-C once to stop
dispatching new files and let running conversions finish; press it again to
cancel them.

Examples:
  convoy convert ./scripts --out ./decompiled
  convoy convert ./scripts --out ./decompiled --exts .luac,.out --target .lua --workers 8`,
		Args: cobra.ExactArgs(1),
		RunE: runConvert,
	}

	cmd.Flags().StringP("out", "o", "", "Output directory (required)")
	cmd.Flags().StringSlice("exts", nil, "Source extensions (default from config)")
	cmd.Flags().String("target", "", "Target extension (default from config)")
	cmd.Flags().IntP("workers", "w", 0, "Concurrent conversions (default from config)")
	cmd.Flags().Int("progress-every", 10, "Print a progress line every N files")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	req, workers, err := convertRequest(cmd, cfg, args[0])
	if err != nil {
		return err
	}

	if err := pipeline.CheckDir(req.SourceRoot); err != nil {
		return err
	}

	conv, err := findTool(cfg.ToolPath)
	if err != nil {
		return err
	}
	if err := conv.CheckInstalled(cmd.Context()); err != nil {
		if !errors.Is(err, pipeline.ErrToolNotFound) {
			err = fmt.Errorf("%w: %v", pipeline.ErrToolNotFound, err)
		}
		return err
	}

	lock, err := filelock.LockDir(req.OutputRoot)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	jobs, err := req.Jobs()
	if err != nil {
		return err
	}

	log := newLogger(cmd, cfg)
	every, _ := cmd.Flags().GetInt("progress-every")
	log.SetProgressEvery(every)
	log.LogRunStart(req, len(jobs), workers)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ctrl := pipeline.NewRunControl()
	stopSignals := handleInterrupts(ctrl, cancel, func(msg string) { log.LogWarn(msg) })
	defer stopSignals()

	runner := pipeline.NewRunner(conv, workers, pipeline.WithObserver(log))
	report, runErr := runner.Run(ctx, jobs, ctrl)
	log.LogSummary(report)

	switch {
	case runErr != nil:
		return runErr
	case report.Status == pipeline.StatusStopped:
		return fmt.Errorf("run stopped with %d of %d files not started", report.Stats.Total-report.Stats.Completed, report.Stats.Total)
	case report.Stats.Failed > 0:
		return fmt.Errorf("%d file(s) failed to convert", report.Stats.Failed)
	}
	return nil
}

// convertRequest builds the run request from the arguments, flags and config
func convertRequest(cmd *cobra.Command, cfg *config.Config, source string) (pipeline.Request, int, error) {
	out, _ := cmd.Flags().GetString("out")
	exts, _ := cmd.Flags().GetStringSlice("exts")
	target, _ := cmd.Flags().GetString("target")
	workers, _ := cmd.Flags().GetInt("workers")

	sourceRoot, err := filepath.Abs(config.ExpandPath(source))
	if err != nil {
		return pipeline.Request{}, 0, err
	}
	outputRoot, err := filepath.Abs(config.ExpandPath(out))
	if err != nil {
		return pipeline.Request{}, 0, err
	}
	if sourceRoot == outputRoot {
		return pipeline.Request{}, 0, fmt.Errorf("source and output directories must differ")
	}

	if len(exts) == 0 {
		exts = cfg.SourceExts
	}
	if target == "" {
		target = cfg.TargetExt
	}
	if workers == 0 {
		workers = cfg.Workers
	}
	if workers < 1 {
		return pipeline.Request{}, 0, fmt.Errorf("workers must be >= 1, got %d", workers)
	}

	return pipeline.Request{
		SourceRoot: sourceRoot,
		OutputRoot: outputRoot,
		SourceExts: exts,
		TargetExt:  target,
	}, workers, nil
}

// handleInterrupts stops dispatch on the first interrupt and cancels running
// conversions on the second. The returned func releases the signal handler.
func handleInterrupts(ctrl *pipeline.RunControl, cancel context.CancelFunc, warn func(string)) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case <-sigChan:
				count++
				if count == 1 {
					warn("Stopping: waiting for running conversions (interrupt again to cancel them)")
					ctrl.Stop()
				} else {
					warn("Cancelling running conversions")
					cancel()
					return
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
