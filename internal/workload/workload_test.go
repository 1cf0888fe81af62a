package workload_test

import (
	"context"
	"testing"

	"github.com/shardbench/harness/internal/group"
	"github.com/shardbench/harness/internal/workload"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLoaderBatching(t *testing.T) {
	l := workload.NewLoader(10, 4, 3, 2, 7)
	require.Equal(t, 10, l.Len())
	require.Equal(t, 3, l.Batches())

	sizes := []int{}
	for {
		b, ok := l.Next()
		if !ok {
			break
		}
		require.Equal(t, len(b.Inputs), len(b.Labels))
		sizes = append(sizes, len(b.Inputs))
	}
	require.Equal(t, []int{4, 4, 2}, sizes)

	// exhausted until reset
	_, ok := l.Next()
	require.False(t, ok)
	l.Reset()
	b, ok := l.Next()
	require.True(t, ok)
	require.Len(t, b.Inputs, 4)
}

func TestLoaderReplaysSameData(t *testing.T) {
	l := workload.NewLoader(6, 3, 2, 1, 42)
	first, ok := l.Next()
	require.True(t, ok)
	snapshot := append([]float64(nil), first.Inputs[0]...)

	l.Reset()
	again, ok := l.Next()
	require.True(t, ok)
	require.Equal(t, snapshot, again.Inputs[0])

	// a different seed produces different data
	other, ok := workload.NewLoader(6, 3, 2, 1, 43).Next()
	require.True(t, ok)
	require.NotEqual(t, snapshot, other.Inputs[0])
}

func TestModelGradientMatchesNumerical(t *testing.T) {
	m := workload.NewModel(3, 2, 7)
	l := workload.NewLoader(4, 4, 3, 2, 11)
	batch, ok := l.Next()
	require.True(t, ok)

	m.Step(batch)
	grads := append([]float64(nil), m.Grads()...)

	const h = 1e-6
	params := m.Params()
	for _, i := range []int{0, 2, 5, len(params) - 1} {
		orig := params[i]
		params[i] = orig + h
		up := m.Step(batch)
		params[i] = orig - h
		down := m.Step(batch)
		params[i] = orig

		numeric := (up - down) / (2 * h)
		require.InDelta(t, grads[i], numeric, 1e-4, "param %d", i)
	}
}

func TestRMSPropReducesCost(t *testing.T) {
	m := workload.NewModel(4, 2, 1)
	l := workload.NewLoader(16, 16, 4, 2, 2)
	batch, ok := l.Next()
	require.True(t, ok)

	o := workload.NewRMSProp(m, 0.01, 0.9)
	ctx := context.Background()

	initial := m.Step(batch)
	var last float64
	for i := 0; i < 100; i++ {
		cost, err := o.Step(ctx, func() (float64, error) {
			return m.Step(batch), nil
		})
		require.NoError(t, err)
		last = cost
	}
	require.Less(t, last, initial)
}

func TestPartition(t *testing.T) {
	owned := workload.Partition([]int{16, 16, 16, 16, 4}, 2)
	require.Len(t, owned, 2)

	seen := map[int]int{}
	loads := []int{0, 0}
	sizes := []int{16, 16, 16, 16, 4}
	for rank, idxs := range owned {
		for _, idx := range idxs {
			seen[idx]++
			loads[rank] += sizes[idx]
		}
	}
	for idx := 0; idx < 5; idx++ {
		require.Equal(t, 1, seen[idx], "block %d", idx)
	}
	require.InDelta(t, loads[0], loads[1], 16)

	// more shards than blocks leaves some ranks empty but covers all blocks
	owned = workload.Partition([]int{8, 4}, 4)
	total := 0
	for _, idxs := range owned {
		total += len(idxs)
	}
	require.Equal(t, 2, total)
}

func TestShardedMatchesLocalWorldOne(t *testing.T) {
	ctx := context.Background()
	ref := workload.NewModel(4, 2, 9)
	shr := workload.NewModel(4, 2, 9)
	require.Equal(t, ref.Params(), shr.Params())

	refOpt := workload.NewRMSProp(ref, 0.01, 0.9)
	g := group.NewLocalGroup(1)[0]
	shrOpt := workload.NewShardedRMSProp(shr, g, 0.01, 0.9)

	l := workload.NewLoader(8, 4, 4, 2, 5)
	for step := 0; step < 4; step++ {
		batch, ok := l.Next()
		if !ok {
			l.Reset()
			batch, _ = l.Next()
		}
		_, err := refOpt.Step(ctx, func() (float64, error) { return ref.Step(batch), nil })
		require.NoError(t, err)
		_, err = shrOpt.Step(ctx, func() (float64, error) { return shr.Step(batch), nil })
		require.NoError(t, err)
	}
	require.InDeltaSlice(t, ref.Params(), shr.Params(), 1e-12)
}

func TestShardedKeepsReplicasInSync(t *testing.T) {
	const world = 2
	ctx := context.Background()
	handles := group.NewLocalGroup(world)

	models := make([]*workload.Model, world)
	optims := make([]*workload.ShardedRMSProp, world)
	loaders := make([]*workload.Loader, world)
	for r := 0; r < world; r++ {
		models[r] = workload.NewModel(4, 2, 3)
		optims[r] = workload.NewShardedRMSProp(models[r], handles[r], 0.01, 0.9)
		loaders[r] = workload.NewLoader(8, 4, 4, 2, 5)
	}

	costs := make([][]float64, world)
	var eg errgroup.Group
	for r := 0; r < world; r++ {
		r := r
		eg.Go(func() error {
			for step := 0; step < 3; step++ {
				batch, ok := loaders[r].Next()
				if !ok {
					loaders[r].Reset()
					batch, _ = loaders[r].Next()
				}
				cost, err := optims[r].Step(ctx, func() (float64, error) {
					local := models[r].Step(batch) / float64(world)
					sum, err := handles[r].ReduceSum(ctx, []float64{local})
					if err != nil {
						return 0, err
					}
					return sum[0], nil
				})
				if err != nil {
					return err
				}
				costs[r] = append(costs[r], cost)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	require.Equal(t, models[0].Params(), models[1].Params())
	require.Equal(t, costs[0], costs[1])
}

func TestConsolidateStateLeaderOnly(t *testing.T) {
	const world = 2
	ctx := context.Background()
	handles := group.NewLocalGroup(world)

	states := make([][]float64, world)
	var eg errgroup.Group
	for r := 0; r < world; r++ {
		r := r
		eg.Go(func() error {
			m := workload.NewModel(4, 2, 3)
			o := workload.NewShardedRMSProp(m, handles[r], 0.01, 0.9)
			state, err := o.ConsolidateState(ctx)
			if err != nil {
				return err
			}
			states[r] = state
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// the full state is twice the parameter count, split across shards
	total := workload.NewModel(4, 2, 3).ParamCount()
	require.Len(t, states[0], 2*total)
	require.Nil(t, states[1])
}

func TestReduceGradsAverages(t *testing.T) {
	const world = 2
	ctx := context.Background()
	handles := group.NewLocalGroup(world)

	models := make([]*workload.Model, world)
	optims := make([]*workload.ShardedParallelRMSProp, world)
	for r := 0; r < world; r++ {
		models[r] = workload.NewModel(3, 1, 3)
		optims[r] = workload.NewShardedParallelRMSProp(models[r], handles[r], 0.01, 0.9)
	}

	var eg errgroup.Group
	for r := 0; r < world; r++ {
		r := r
		eg.Go(func() error {
			// each rank steps on its own data, so gradients diverge
			l := workload.NewLoader(4, 4, 3, 1, int64(100+r))
			batch, _ := l.Next()
			models[r].Step(batch)
			return optims[r].ReduceGrads(ctx)
		})
	}
	require.NoError(t, eg.Wait())

	require.Equal(t, models[0].Grads(), models[1].Grads())
}

func TestStepInvokesProviderOnce(t *testing.T) {
	ctx := context.Background()
	m := workload.NewModel(3, 1, 1)
	g := group.NewLocalGroup(1)[0]

	for name, step := range map[string]func(func() (float64, error)) error{
		"local": func(p func() (float64, error)) error {
			_, err := workload.NewRMSProp(m, 0.01, 0.9).Step(ctx, p)
			return err
		},
		"sharded": func(p func() (float64, error)) error {
			_, err := workload.NewShardedRMSProp(m, g, 0.01, 0.9).Step(ctx, p)
			return err
		},
	} {
		calls := 0
		err := step(func() (float64, error) {
			calls++
			return m.Step(workload.Batch{}), nil
		})
		require.NoError(t, err, name)
		require.Equal(t, 1, calls, name)
	}
}
