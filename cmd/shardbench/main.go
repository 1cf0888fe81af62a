package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/shardbench/harness/api"
	"github.com/shardbench/harness/internal/coord"
	"github.com/shardbench/harness/internal/environment"
	"github.com/shardbench/harness/internal/group"
	"github.com/shardbench/harness/internal/harness"
	"github.com/shardbench/harness/internal/report"
	"github.com/shardbench/harness/internal/scenario"
)

// exitGateFailure is the worker exit code for a tripped regression
// gate, distinguishing it from crashes so the coordinator can tell an
// expected regression from a broken run.
const exitGateFailure = 2

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	))
}

func init() {
	setupLogger(slog.LevelInfo)
}

func main() {
	cmd := &cli.Command{
		Name:  "shardbench",
		Usage: "multi-process benchmark harness for sharded optimizer state",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("verbose") {
				setupLogger(slog.LevelDebug)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(),
			workerCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error(err.Error())
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "benchmark one or more optimizer variants across worker processes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "optim", Value: "all", Usage: "optimizer variant: vanilla, sharded, sharded_parallel or all"},
			&cli.IntFlag{Name: "world-size", Value: 2, Usage: "number of worker processes"},
			&cli.IntFlag{Name: "epochs", Value: 10, Usage: "number of epochs to benchmark"},
			&cli.IntFlag{Name: "batch-size", Value: 32, Usage: "samples per training batch"},
			&cli.IntFlag{Name: "data-size", Value: 512, Usage: "samples in the synthetic dataset"},
			&cli.BoolFlag{Name: "check-regression", Usage: "gate the sharded run against the reference thresholds"},
			&cli.FloatFlag{Name: "reference-speed", Value: 32.32, Usage: "reference throughput in samples per second"},
			&cli.FloatFlag{Name: "reference-memory", Value: 4475, Usage: "reference peak memory in MiB"},
			&cli.FloatFlag{Name: "reference-loss", Value: 0.67, Usage: "reference final loss"},
			&cli.StringFlag{Name: "rendezvous", Value: harness.DefaultRendezvous, Usage: "tcp address the leader hosts the group hub on"},
			&cli.DurationFlag{Name: "join-timeout", Value: group.DefaultJoinTimeout, Usage: "how long workers wait for the full group to form"},
			&cli.IntFlag{Name: "seed", Value: 0, Usage: "seed for the synthetic dataset and model init"},
			&cli.StringFlag{Name: "snapshot-dir", Usage: "write per-epoch consolidated state snapshots into this directory"},
			&cli.StringFlag{Name: "response-dir", Usage: "write one machine-readable response JSON per run into this directory"},
			&cli.StringFlag{Name: "scenarios", Usage: "run the scenario TOML file instead of the single-run flags"},
			&cli.StringFlag{Name: "reporters", Value: "term", Usage: "comma separated run-event destinations: term, nats, sqs"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if path := cmd.String("scenarios"); path != "" {
				return runScenarios(ctx, path)
			}

			base := harness.RunConfig{
				WorldSize: int(cmd.Int("world-size")),
				Epochs:    int(cmd.Int("epochs")),
				BatchSize: int(cmd.Int("batch-size")),
				DataSize:  int(cmd.Int("data-size")),

				CheckRegression: cmd.Bool("check-regression"),
				Reference: harness.Thresholds{
					Speed:     cmd.Float("reference-speed"),
					MemoryMiB: cmd.Float("reference-memory"),
					Loss:      cmd.Float("reference-loss"),
				},

				RendezvousAddr: cmd.String("rendezvous"),
				JoinTimeout:    cmd.Duration("join-timeout"),
				Seed:           int64(cmd.Int("seed")),
				SnapshotDir:    cmd.String("snapshot-dir"),
				ResponseDir:    cmd.String("response-dir"),
				Reporters:      splitReporters(cmd.String("reporters")),
			}

			legs, err := expandOptim(harness.OptimKind(cmd.String("optim")), base)
			if err != nil {
				return err
			}

			launcher := coord.New()
			for _, cfg := range legs {
				slog.Info("starting benchmark",
					"optim", string(cfg.Optim),
					"world_size", cfg.WorldSize,
					"run_id", cfg.RunID)
				start := time.Now()
				if err := launcher.Launch(ctx, cfg); err != nil {
					writeLaunchFailure(cfg, start, err)
					return err
				}
				slog.Info("benchmark finished",
					"optim", string(cfg.Optim),
					"took", time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}
}

// expandOptim turns the optim flag into the configs to launch. The
// "all" convenience benchmarks the three variants sequentially; the
// regression gate only ever applies to the plain sharded leg, keeping
// the vanilla baseline and the grad-sharing variant ungated.
func expandOptim(kind harness.OptimKind, base harness.RunConfig) ([]harness.RunConfig, error) {
	kinds := []harness.OptimKind{kind}
	if kind == harness.OptimAll {
		kinds = []harness.OptimKind{harness.OptimVanilla, harness.OptimSharded, harness.OptimShardedParallel}
	} else if !kind.Valid() {
		return nil, fmt.Errorf("unknown optimizer variant %q", kind)
	}

	legs := make([]harness.RunConfig, 0, len(kinds))
	for _, k := range kinds {
		cfg := base
		cfg.RunID = uuid.NewString()
		cfg.Optim = k
		if kind == harness.OptimAll {
			cfg.CheckRegression = base.CheckRegression && k == harness.OptimSharded
		}
		legs = append(legs, cfg)
	}
	return legs, nil
}

func runScenarios(ctx context.Context, path string) error {
	cases, err := scenario.Parse(path)
	if err != nil {
		return err
	}

	launcher := coord.New()
	failed := 0
	for _, c := range cases {
		slog.Info("running scenario", "name", c.Name, "optim", string(c.Config.Optim))
		start := time.Now()
		err := launcher.Launch(ctx, c.Config)
		if err != nil {
			writeLaunchFailure(c.Config, start, err)
		}

		switch {
		case c.Expect.Status == scenario.ExpectFail && gateTripped(err):
			slog.Info("scenario passed", "name", c.Name, "note", "regression gate tripped as expected")
		case c.Expect.Status == scenario.ExpectFail && err == nil:
			slog.Error("scenario failed", "name", c.Name, "reason", "expected the regression gate to trip")
			failed++
		case err != nil:
			slog.Error("scenario failed", "name", c.Name, "err", err)
			failed++
		default:
			slog.Info("scenario passed", "name", c.Name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(cases))
	}
	return nil
}

// gateTripped reports whether the launch failed because the leader
// found a regression, as opposed to a worker crashing.
func gateTripped(err error) bool {
	var le *coord.LaunchError
	return errors.As(err, &le) && le.Rank == group.Leader && le.ExitCode == exitGateFailure
}

// writeLaunchFailure leaves a machine-readable response for a run that
// died before the leader wrote one. Gate and internal-error outcomes
// are written by the leader itself, so an existing file wins.
func writeLaunchFailure(cfg harness.RunConfig, started time.Time, launchErr error) {
	if cfg.ResponseDir == "" {
		return
	}
	if _, err := os.Stat(filepath.Join(cfg.ResponseDir, cfg.RunID+".json")); err == nil {
		return
	}
	msg := launchErr.Error()
	now := time.Now()
	resp := api.RunResponse{
		RunUuid:      cfg.RunID,
		Optim:        string(cfg.Optim),
		Status:       api.LaunchError,
		ErrorMessage: &msg,
		StartTime:    started.Format(time.RFC3339),
		FinishTime:   now.Format(time.RFC3339),
		TotalTimeMs:  now.Sub(started).Milliseconds(),
	}
	if _, err := report.WriteResponse(cfg.ResponseDir, resp); err != nil {
		slog.Warn("failed to write launch failure response", "err", err)
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "internal: run a single benchmark rank, launched by the coordinator",
		Hidden: true,
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, rank, err := coord.WorkerEnv()
			if err != nil {
				return err
			}

			rep, builder, cleanup, err := buildWorkerReporter(cfg, rank)
			if err != nil {
				return err
			}
			defer cleanup()

			_, runErr := harness.Run(ctx, cfg, rank, rep)
			var regErr *harness.RegressionError
			regression := errors.As(runErr, &regErr)
			if builder != nil {
				if runErr != nil && !regression {
					builder.InternalError(runErr.Error())
				}
				if path, werr := report.WriteResponse(cfg.ResponseDir, builder.Response()); werr != nil {
					slog.Warn("failed to write run response", "err", werr)
				} else {
					slog.Debug("run response written", "path", path)
				}
			}
			if regression {
				return cli.Exit(regErr.Error(), exitGateFailure)
			}
			return runErr
		},
	}
}

// buildWorkerReporter wires the run-event destinations for one rank.
// Only the leader reports; its terminal output is always on, with NATS
// and SQS streams added on request. When a response dir is configured
// the leader also gets a Builder to assemble the final response from.
func buildWorkerReporter(cfg harness.RunConfig, rank int) (report.Reporter, *report.Builder, func(), error) {
	cleanup := func() {}
	if rank != group.Leader {
		return report.NewNop(), nil, cleanup, nil
	}

	env := environment.ReadEnvConfig()
	reporters := []report.Reporter{report.NewTerm()}
	var builder *report.Builder
	if cfg.ResponseDir != "" {
		builder = report.NewBuilder(cfg.RunID)
		reporters = append(reporters, builder)
	}
	var closers []func()

	for _, name := range cfg.Reporters {
		switch name {
		case "term":
			// always wired for the leader
		case "nats":
			if env.NatsUrl == "" {
				return nil, nil, nil, fmt.Errorf("nats reporter requested but SHARDBENCH_NATS_URL is not set")
			}
			nc, err := nats.Connect(env.NatsUrl)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
			}
			closers = append(closers, nc.Close)
			reporters = append(reporters, report.NewNats(nc, cfg.RunID, env.NatsSubject))
		case "sqs":
			if env.SqsUrl == "" {
				return nil, nil, nil, fmt.Errorf("sqs reporter requested but SHARDBENCH_SQS_URL is not set")
			}
			sq, err := report.NewSqs(cfg.RunID, env.SqsUrl, env.AwsRegion)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to build sqs reporter: %w", err)
			}
			reporters = append(reporters, sq)
		default:
			return nil, nil, nil, fmt.Errorf("unknown reporter %q", name)
		}
	}

	if len(closers) > 0 {
		cleanup = func() {
			for _, c := range closers {
				c()
			}
		}
	}
	if len(reporters) == 1 {
		return reporters[0], builder, cleanup, nil
	}
	return report.NewMulti(reporters...), builder, cleanup, nil
}

func splitReporters(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
