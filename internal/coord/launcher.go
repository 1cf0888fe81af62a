package coord

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shardbench/harness/internal/harness"
)

// LaunchError reports the worker failure that aborted a run
type LaunchError struct {
	Rank     int
	ExitCode int
	Stderr   string
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("worker %d failed with exit code %d", e.Rank, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s\nstderr tail:\n%s", msg, e.Stderr)
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher spawns one OS process per rank and waits for the whole
// world to finish.
type Launcher struct {
	spawn spawner // replaced for testing
}

func New() *Launcher {
	return &Launcher{spawn: &execSpawner{}}
}

// Launch runs the configuration across WorldSize worker processes and
// blocks until every one has exited. The run is atomic: the first
// failure cancels the shared context, which kills the remaining
// workers, and the whole launch reports a *LaunchError. No partial
// success.
func (l *Launcher) Launch(ctx context.Context, cfg harness.RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to launch: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < cfg.WorldSize; rank++ {
		rank := rank
		eg.Go(func() error {
			return l.spawn.run(ctx, cfg, rank)
		})
	}
	return eg.Wait()
}
