package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shardbench/harness/api"
	"github.com/shardbench/harness/internal/group"
	"github.com/shardbench/harness/internal/report"
	"github.com/shardbench/harness/internal/snapshot"
	"github.com/shardbench/harness/internal/workload"
)

// Run executes the benchmark loop for one rank. The leader hosts the
// rendezvous hub; every rank, leader included, joins through it. This
// is where a spawned worker process lands.
func Run(ctx context.Context, cfg RunConfig, rank int, rep report.Reporter) (*RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if rank == group.Leader {
		hub, err := group.StartHub(cfg.HostPort(), cfg.WorldSize)
		if err != nil {
			return nil, fmt.Errorf("failed to host rendezvous at %s: %w", cfg.RendezvousAddr, err)
		}
		defer hub.Close()
	}

	h, err := group.Join(ctx, cfg.HostPort(), rank, cfg.WorldSize, cfg.JoinTimeout)
	if err != nil {
		rep.InternalError(err.Error())
		return nil, err
	}
	defer h.Close()

	return RunWithGroup(ctx, cfg, h, rep)
}

// RunWithGroup drives the benchmark loop over an already assembled
// group handle. Tests and in-process worlds enter here.
func RunWithGroup(ctx context.Context, cfg RunConfig, h group.Handle, rep report.Reporter) (*RunSummary, error) {
	rank := h.Rank()

	model := workload.NewModel(workload.FeatureDim, workload.LabelDim, cfg.Seed)
	loader := workload.NewLoader(cfg.DataSize, cfg.BatchSize, workload.FeatureDim, workload.LabelDim, cfg.Seed)

	var optim Optimizer
	switch cfg.Optim {
	case OptimVanilla:
		optim = workload.NewRMSProp(model, workload.DefaultLR, workload.DefaultMomentum)
	case OptimSharded:
		optim = workload.NewShardedRMSProp(model, h, workload.DefaultLR, workload.DefaultMomentum)
	case OptimShardedParallel:
		optim = workload.NewShardedParallelRMSProp(model, h, workload.DefaultLR, workload.DefaultMomentum)
	default:
		return nil, fmt.Errorf("invalid optimizer kind %q", cfg.Optim)
	}
	consolidator, sharded := optim.(StateConsolidator)

	meter := NewMemMeter()
	meter.Reset()
	collector := NewCollector(cfg.DataSize)

	if rank == group.Leader {
		rep.StartRun(string(cfg.Optim), cfg.WorldSize, cfg.Epochs, cfg.BatchSize, cfg.DataSize)
	}
	slog.Info("rank ready", "rank", rank, "world", h.Size(), "optim", cfg.Optim)
	collector.Start()

	var wireEpochs []api.EpochData
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		em, err := collector.TimeEpoch(epoch, func() (float64, error) {
			return RunEpoch(ctx, h, loader, model.Step, optim)
		})
		if err != nil {
			rep.InternalError(err.Error())
			return nil, fmt.Errorf("epoch %d failed: %w", epoch, err)
		}

		// Consolidation runs on every rank every epoch; any memory
		// spill it causes lands inside the run window but outside the
		// epoch rate. Leader-only work comes after the collective.
		if sharded {
			state, err := consolidator.ConsolidateState(ctx)
			if err != nil {
				rep.InternalError(err.Error())
				return nil, fmt.Errorf("epoch %d consolidation failed: %w", epoch, err)
			}
			if rank == group.Leader {
				if cfg.SnapshotDir != "" {
					if _, err := snapshot.Write(cfg.SnapshotDir, cfg.RunID, epoch, state); err != nil {
						rep.InternalError(err.Error())
						return nil, err
					}
				}
				rep.StateCollected(epoch, len(state))
			}
		}

		meter.Observe()
		if rank == group.Leader {
			rep.EpochEnd(epoch, em.Rate, em.Cost)
		}
		wireEpochs = append(wireEpochs, api.EpochData{
			Epoch:      em.Epoch,
			WallMillis: em.Elapsed.Milliseconds(),
			Rate:       em.Rate,
			Cost:       em.Cost,
			MemoryMiB:  meter.CurrentMiB(),
		})
	}

	overall := collector.OverallRate(cfg.Epochs)
	peak := meter.PeakMiB()

	stats, err := Summarize(collector.Rates())
	if err != nil {
		rep.InternalError(err.Error())
		return nil, err
	}
	summary := &RunSummary{
		Stats:         stats,
		OverallRate:   overall,
		PeakMemoryMiB: peak,
		FinalCost:     collector.FinalCost(),
	}
	slog.Info("training done", "rank", rank,
		"overall_rate", summary.OverallRate, "peak_mib", summary.PeakMemoryMiB,
		"mean", summary.Mean, "std", summary.SampleStd)
	if rank == group.Leader {
		rep.FinishRun(wireSummary(summary, wireEpochs))
	}

	if cfg.CheckRegression && cfg.Optim.Sharded() && rank == group.Leader {
		gateReport, gateErr := NewGate().Check(*summary, cfg.Reference)
		rep.Verdict(gateReport.Passed(), wireChecks(gateReport))
		if gateErr != nil {
			return summary, gateErr
		}
	}
	return summary, nil
}

func wireSummary(sum *RunSummary, epochs []api.EpochData) *api.RunSummary {
	out := &api.RunSummary{
		Mean:          sum.Mean,
		SampleStd:     sum.SampleStd,
		OverallRate:   sum.OverallRate,
		PeakMemoryMiB: sum.PeakMemoryMiB,
		FinalCost:     sum.FinalCost,
		Epochs:        epochs,
	}
	for i, e := range epochs {
		if i == 0 || e.Rate > out.MaxRate {
			out.MaxRate = e.Rate
		}
		if i == 0 || e.Rate < out.MinRate {
			out.MinRate = e.Rate
		}
	}
	return out
}

func wireChecks(r Report) []api.GateCheck {
	checks := make([]api.GateCheck, 0, len(r.Checks))
	for _, c := range r.Checks {
		checks = append(checks, api.GateCheck{
			Dimension: c.Dimension,
			Observed:  c.Observed,
			Threshold: c.Threshold,
			Passed:    c.Passed,
		})
	}
	return checks
}
