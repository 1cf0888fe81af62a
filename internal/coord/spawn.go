package coord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/shardbench/harness/internal/harness"
)

const stderrTailLimit = 4096

// A spawner runs one worker to completion.
type spawner interface {
	// run starts the worker for rank and blocks until it exits,
	// returning a *LaunchError on failure.
	run(ctx context.Context, cfg harness.RunConfig, rank int) error
}

// An execSpawner re-execs the current binary's hidden worker command.
// It is replaced in tests to script worker outcomes without real
// processes.
type execSpawner struct{}

func (*execSpawner) run(ctx context.Context, cfg harness.RunConfig, rank int) error {
	self, err := os.Executable()
	if err != nil {
		return &LaunchError{Rank: rank, ExitCode: -1, Err: fmt.Errorf("failed to resolve own binary: %w", err)}
	}
	env, err := workerEnv(cfg, rank)
	if err != nil {
		return &LaunchError{Rank: rank, ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, self, "worker")
	cmd.Env = env

	// The leader owns the terminal; other ranks keep only a stderr
	// tail for the failure report.
	var tail tailBuffer
	if rank == 0 {
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, &tail)
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = &tail
	}

	if err := cmd.Start(); err != nil {
		return &LaunchError{Rank: rank, ExitCode: -1, Err: fmt.Errorf("failed to start worker: %w", err)}
	}
	if err := cmd.Wait(); err != nil {
		exitCode := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
		return &LaunchError{Rank: rank, ExitCode: exitCode, Stderr: tail.String(), Err: err}
	}
	return nil
}

// tailBuffer keeps the last stderrTailLimit bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTailLimit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
