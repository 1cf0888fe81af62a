package group_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shardbench/harness/internal/group"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLocalGroupReduceSum(t *testing.T) {
	const world = 4
	handles := group.NewLocalGroup(world)
	ctx := context.Background()

	results := make([][]float64, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			sum, err := handles[rank].ReduceSum(ctx, []float64{float64(rank + 1), 0.5})
			if err != nil {
				return err
			}
			results[rank] = sum
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for rank := 0; rank < world; rank++ {
		require.Equal(t, []float64{10, 2}, results[rank], "rank %d", rank)
	}
}

func TestLocalGroupGather(t *testing.T) {
	const world = 3
	handles := group.NewLocalGroup(world)
	ctx := context.Background()

	// shards of different lengths, as a sharded optimizer produces
	shards := [][]float64{{1, 2, 3}, {4, 5}, {6}}
	rows := make([][][]float64, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			got, err := handles[rank].Gather(ctx, shards[rank])
			if err != nil {
				return err
			}
			rows[rank] = got
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	require.Equal(t, [][]float64{{1, 2, 3}, {4, 5}, {6}}, rows[0])
	require.Nil(t, rows[1])
	require.Nil(t, rows[2])
}

func TestLocalGroupBarrierThenReduce(t *testing.T) {
	const world = 2
	handles := group.NewLocalGroup(world)
	ctx := context.Background()

	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			if err := handles[rank].Barrier(ctx); err != nil {
				return err
			}
			sum, err := handles[rank].ReduceSum(ctx, []float64{1})
			if err != nil {
				return err
			}
			require.Equal(t, []float64{2}, sum)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestLocalGroupLockStepScheduleTerminates(t *testing.T) {
	const (
		world  = 5
		rounds = 40
	)
	handles := group.NewLocalGroup(world)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Every rank runs the same long schedule of mixed collectives. The
	// whole schedule must complete within the deadline with every rank
	// seeing identical reduced values.
	results := make([][]float64, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			h := handles[rank]
			var seen []float64
			for round := 0; round < rounds; round++ {
				sum, err := h.ReduceSum(ctx, []float64{float64(round), float64(rank)})
				if err != nil {
					return err
				}
				seen = append(seen, sum...)
				if err := h.Barrier(ctx); err != nil {
					return err
				}
				rows, err := h.Gather(ctx, []float64{float64(rank)})
				if err != nil {
					return err
				}
				if rank == group.Leader && len(rows) != world {
					return fmt.Errorf("leader gathered %d rows in round %d", len(rows), round)
				}
			}
			results[rank] = seen
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for round := 0; round < rounds; round++ {
		want := []float64{float64(round * world), 10}
		require.Equal(t, want, results[0][round*2:round*2+2], "round %d", round)
	}
	for rank := 1; rank < world; rank++ {
		require.Equal(t, results[0], results[rank], "rank %d", rank)
	}
}

func TestLocalGroupOrderMismatch(t *testing.T) {
	handles := group.NewLocalGroup(2)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := handles[0].ReduceSum(ctx, []float64{1})
		errs <- err
	}()
	go func() {
		errs <- handles[1].Barrier(ctx)
	}()

	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		var oe *group.OrderError
		require.ErrorAs(t, err, &oe)
	}
}

func TestLocalGroupClosedHandle(t *testing.T) {
	handles := group.NewLocalGroup(1)

	require.NoError(t, handles[0].Close())
	_, err := handles[0].ReduceSum(context.Background(), []float64{1})
	require.ErrorIs(t, err, group.ErrClosed)
}

func TestLocalGroupRankAndSize(t *testing.T) {
	handles := group.NewLocalGroup(3)
	for rank, h := range handles {
		require.Equal(t, rank, h.Rank())
		require.Equal(t, 3, h.Size())
	}
}
