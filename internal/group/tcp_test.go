package group_test

import (
	"context"
	"testing"
	"time"

	"github.com/shardbench/harness/internal/group"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestTCPGroupReduceAndGather(t *testing.T) {
	const world = 3
	hub, err := group.StartHub("127.0.0.1:0", world)
	require.NoError(t, err)
	defer hub.Close()

	ctx := context.Background()
	sums := make([][]float64, world)
	rows := make([][][]float64, world)

	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			h, err := group.Join(ctx, hub.Addr(), rank, world, 5*time.Second)
			if err != nil {
				return err
			}
			defer h.Close()

			sum, err := h.ReduceSum(ctx, []float64{float64(rank), 1})
			if err != nil {
				return err
			}
			sums[rank] = sum

			got, err := h.Gather(ctx, []float64{float64(rank * 10)})
			if err != nil {
				return err
			}
			rows[rank] = got

			return h.Barrier(ctx)
		})
	}
	require.NoError(t, eg.Wait())

	for rank := 0; rank < world; rank++ {
		require.Equal(t, []float64{3, 3}, sums[rank], "rank %d", rank)
	}
	require.Equal(t, [][]float64{{0}, {10}, {20}}, rows[0])
	require.Nil(t, rows[1])
	require.Nil(t, rows[2])
}

func TestTCPGroupCloseAfterMembersLeave(t *testing.T) {
	const world = 2
	hub, err := group.StartHub("127.0.0.1:0", world)
	require.NoError(t, err)

	ctx := context.Background()
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			h, err := group.Join(ctx, hub.Addr(), rank, world, 5*time.Second)
			if err != nil {
				return err
			}
			if _, err := h.ReduceSum(ctx, []float64{1}); err != nil {
				return err
			}
			return h.Close()
		})
	}
	require.NoError(t, eg.Wait())

	// Members announced their departure, so Close does not have to
	// wait out the drain grace.
	start := time.Now()
	require.NoError(t, hub.Close())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestTCPGroupJoinTimeoutNoHub(t *testing.T) {
	// nothing listens on this address
	_, err := group.Join(context.Background(), "127.0.0.1:1", 0, 2, 400*time.Millisecond)
	require.Error(t, err)
	var jte *group.JoinTimeoutError
	require.ErrorAs(t, err, &jte)
}

func TestTCPGroupJoinTimeoutPartialWorld(t *testing.T) {
	hub, err := group.StartHub("127.0.0.1:0", 2)
	require.NoError(t, err)
	defer hub.Close()

	// the second rank never shows up
	_, err = group.Join(context.Background(), hub.Addr(), 0, 2, 500*time.Millisecond)
	require.Error(t, err)
	var jte *group.JoinTimeoutError
	require.ErrorAs(t, err, &jte)
	require.Equal(t, 0, jte.Rank)
}

func TestTCPGroupDuplicateRankRejected(t *testing.T) {
	hub, err := group.StartHub("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer hub.Close()

	ctx := context.Background()
	h, err := group.Join(ctx, hub.Addr(), 0, 1, 5*time.Second)
	require.NoError(t, err)
	defer h.Close()

	sum, err := h.ReduceSum(ctx, []float64{7})
	require.NoError(t, err)
	require.Equal(t, []float64{7}, sum)

	_, err = group.Join(ctx, hub.Addr(), 0, 1, time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already joined")
}

func TestTCPGroupOrderMismatch(t *testing.T) {
	const world = 2
	hub, err := group.StartHub("127.0.0.1:0", world)
	require.NoError(t, err)
	defer hub.Close()

	ctx := context.Background()
	handles := make([]group.Handle, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			h, err := group.Join(ctx, hub.Addr(), rank, world, 5*time.Second)
			if err != nil {
				return err
			}
			handles[rank] = h
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	defer handles[0].Close()
	defer handles[1].Close()

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
	}
}
