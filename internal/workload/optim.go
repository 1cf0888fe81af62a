package workload

import (
	"context"
	"math"
)

// Group is the slice of collective operations the optimizers need.
// The benchmark's group handle satisfies it; tests substitute an
// in-process variant.
type Group interface {
	Rank() int
	Size() int
	ReduceSum(ctx context.Context, vals []float64) ([]float64, error)
	Gather(ctx context.Context, vals []float64) ([][]float64, error)
}

// Hyperparameters shared by all optimizer variants
const (
	DefaultLR       = 1e-4
	DefaultMomentum = 0.9

	rmspropAlpha = 0.99
	rmspropEps   = 1e-8
)

// rmspropStep advances one scalar: square-average smoothing, then a
// momentum buffer over the normalized gradient.
func rmspropStep(lr, momentum, g float64, sq, buf *float64) (delta float64) {
	*sq = rmspropAlpha*(*sq) + (1-rmspropAlpha)*g*g
	*buf = momentum*(*buf) + g/(math.Sqrt(*sq)+rmspropEps)
	return lr * (*buf)
}

// RMSProp keeps the full optimizer state on every rank, the vanilla
// data-parallel baseline.
type RMSProp struct {
	model    *Model
	lr       float64
	momentum float64
	sqAvg    []float64
	buf      []float64
}

func NewRMSProp(m *Model, lr, momentum float64) *RMSProp {
	return &RMSProp{
		model:    m,
		lr:       lr,
		momentum: momentum,
		sqAvg:    make([]float64, m.ParamCount()),
		buf:      make([]float64, m.ParamCount()),
	}
}

// Step invokes the cost provider exactly once and applies the
// gradients it produced to the full parameter vector.
func (o *RMSProp) Step(ctx context.Context, provider func() (float64, error)) (float64, error) {
	cost, err := provider()
	if err != nil {
		return 0, err
	}
	params := o.model.Params()
	grads := o.model.Grads()
	for i, g := range grads {
		params[i] -= rmspropStep(o.lr, o.momentum, g, &o.sqAvg[i], &o.buf[i])
	}
	return cost, nil
}

// StateElems returns the number of scalars the optimizer state holds
func (o *RMSProp) StateElems() int {
	return len(o.sqAvg) + len(o.buf)
}
