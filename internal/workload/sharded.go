package workload

import (
	"context"
	"fmt"
	"sort"
)

// Partition assigns parameter blocks to world shards, largest block
// first onto the least loaded shard. Returns the block indices owned
// by each rank, ascending. Deterministic, so every rank computes the
// same assignment independently.
func Partition(sizes []int, world int) [][]int {
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]] > sizes[order[b]]
	})

	loads := make([]int, world)
	owned := make([][]int, world)
	for _, idx := range order {
		rank := 0
		for r := 1; r < world; r++ {
			if loads[r] < loads[rank] {
				rank = r
			}
		}
		owned[rank] = append(owned[rank], idx)
		loads[rank] += sizes[idx]
	}
	for r := range owned {
		sort.Ints(owned[r])
	}
	return owned
}

// ShardedRMSProp partitions the optimizer state across the group.
// Each rank updates only the parameters whose blocks it owns and the
// full parameter vector is re-assembled through one collective per
// step. Because the shards are disjoint, summing zero-filled vectors
// concatenates them.
type ShardedRMSProp struct {
	model    *Model
	g        Group
	lr       float64
	momentum float64

	owned    []Block
	shardLen int
	sqAvg    []float64
	buf      []float64
}

func NewShardedRMSProp(m *Model, g Group, lr, momentum float64) *ShardedRMSProp {
	blocks := m.Blocks()
	sizes := make([]int, len(blocks))
	for i, b := range blocks {
		sizes[i] = b.Len
	}
	assigned := Partition(sizes, g.Size())

	var owned []Block
	shardLen := 0
	for _, idx := range assigned[g.Rank()] {
		owned = append(owned, blocks[idx])
		shardLen += blocks[idx].Len
	}
	return &ShardedRMSProp{
		model:    m,
		g:        g,
		lr:       lr,
		momentum: momentum,
		owned:    owned,
		shardLen: shardLen,
		sqAvg:    make([]float64, shardLen),
		buf:      make([]float64, shardLen),
	}
}

// Step invokes the cost provider exactly once, updates the owned
// shard, then shares the updated values so every rank ends the step
// with identical parameters.
func (o *ShardedRMSProp) Step(ctx context.Context, provider func() (float64, error)) (float64, error) {
	cost, err := provider()
	if err != nil {
		return 0, err
	}

	params := o.model.Params()
	grads := o.model.Grads()
	cursor := 0
	for _, b := range o.owned {
		for i := b.Offset; i < b.Offset+b.Len; i++ {
			params[i] -= rmspropStep(o.lr, o.momentum, grads[i], &o.sqAvg[cursor], &o.buf[cursor])
			cursor++
		}
	}

	mine := make([]float64, len(params))
	for _, b := range o.owned {
		copy(mine[b.Offset:b.Offset+b.Len], params[b.Offset:b.Offset+b.Len])
	}
	synced, err := o.g.ReduceSum(ctx, mine)
	if err != nil {
		return 0, fmt.Errorf("failed to share updated shard: %w", err)
	}
	o.model.SetParams(synced)
	return cost, nil
}

// StateElems returns the number of scalars in this rank's shard state
func (o *ShardedRMSProp) StateElems() int {
	return len(o.sqAvg) + len(o.buf)
}

// ShardLen returns how many parameters this rank owns
func (o *ShardedRMSProp) ShardLen() int {
	return o.shardLen
}

// ConsolidateState gathers every rank's shard state onto the leader.
// Every rank must call it at the same point in the schedule. The
// leader receives the shard states concatenated in rank order; other
// ranks receive nil.
func (o *ShardedRMSProp) ConsolidateState(ctx context.Context) ([]float64, error) {
	shard := make([]float64, 0, 2*o.shardLen)
	shard = append(shard, o.sqAvg...)
	shard = append(shard, o.buf...)
	rows, err := o.g.Gather(ctx, shard)
	if err != nil {
		return nil, fmt.Errorf("failed to consolidate optimizer state: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	var all []float64
	for _, row := range rows {
		all = append(all, row...)
	}
	return all, nil
}

// ShardedParallelRMSProp is the sharded optimizer plus a gradient
// exchange: gradients are averaged across ranks inside the cost
// provider before the shard update runs.
type ShardedParallelRMSProp struct {
	*ShardedRMSProp
}

func NewShardedParallelRMSProp(m *Model, g Group, lr, momentum float64) *ShardedParallelRMSProp {
	return &ShardedParallelRMSProp{ShardedRMSProp: NewShardedRMSProp(m, g, lr, momentum)}
}

// ReduceGrads averages the gradient vector across the group in place
func (o *ShardedParallelRMSProp) ReduceGrads(ctx context.Context) error {
	grads := o.model.Grads()
	sum, err := o.g.ReduceSum(ctx, grads)
	if err != nil {
		return fmt.Errorf("failed to reduce gradients: %w", err)
	}
	world := float64(o.g.Size())
	for i, v := range sum {
		grads[i] = v / world
	}
	return nil
}
