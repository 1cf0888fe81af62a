package harness

import (
	"context"
	"fmt"

	"github.com/shardbench/harness/internal/workload"
)

// Loader serves one epoch of batches and restarts for the next
type Loader interface {
	Next() (workload.Batch, bool)
	Reset()
}

// StepFunc computes a batch's cost and leaves gradients on the model
type StepFunc func(workload.Batch) float64

// Optimizer advances the model by one step. It must invoke the cost
// provider exactly once; the indirection exists so optimizers that
// re-evaluate the cost could do so without the loop knowing.
type Optimizer interface {
	Step(ctx context.Context, provider func() (float64, error)) (float64, error)
}

// GradReducer is the optional gradient-exchange capability of the
// sharded data-parallel optimizer. The provider invokes it after the
// local step so the gradients agree across ranks before the update.
type GradReducer interface {
	ReduceGrads(ctx context.Context) error
}

// StateConsolidator is the optional capability of sharded optimizers
// to gather their state partitions onto the leader rank.
type StateConsolidator interface {
	ConsolidateState(ctx context.Context) ([]float64, error)
}

// RunEpoch drives one epoch of lock-step training. Per batch it
// builds a cost provider that computes the local cost, normalizes it
// by world size, reduces it so every rank holds the consensus value,
// and runs the gradient exchange when the optimizer has one; the
// optimizer's Step then consumes the provider. Returns the final
// batch's consensus cost.
//
// Every rank must run the same epoch over the same batch count. The
// collectives inside the provider keep the group in lock-step.
func RunEpoch(ctx context.Context, g workload.Group, loader Loader, step StepFunc, optim Optimizer) (float64, error) {
	loader.Reset()
	world := float64(g.Size())
	gradReducer, exchangeGrads := optim.(GradReducer)

	var final float64
	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		provider := func() (float64, error) {
			local := step(batch) / world
			consensus, err := g.ReduceSum(ctx, []float64{local})
			if err != nil {
				return 0, fmt.Errorf("failed to reduce cost: %w", err)
			}
			if exchangeGrads {
				if err := gradReducer.ReduceGrads(ctx); err != nil {
					return 0, err
				}
			}
			return consensus[0], nil
		}
		cost, err := optim.Step(ctx, provider)
		if err != nil {
			return 0, fmt.Errorf("optimizer step failed: %w", err)
		}
		final = cost
	}
	return final, nil
}
