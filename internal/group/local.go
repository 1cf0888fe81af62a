package group

import (
	"context"
	"fmt"
	"sync"
)

// NewLocalGroup assembles an in-process group of the given size and
// returns one handle per rank. It runs the same collective semantics
// as the TCP group without sockets, which keeps single-process runs
// and tests cheap.
func NewLocalGroup(worldSize int) []Handle {
	w := &localWorld{size: worldSize}
	handles := make([]Handle, worldSize)
	for rank := range handles {
		handles[rank] = &localHandle{rank: rank, world: w}
	}
	return handles
}

type localWorld struct {
	size  int
	mu    sync.Mutex
	seq   uint64
	round *localRound
}

// localRound is one in-flight collective. The last arriving rank
// completes it; a diverging rank poisons it and every later one.
type localRound struct {
	kind  opKind
	width int
	sum   []float64
	rows  [][]float64
	n     int
	err   error
	done  chan struct{}
}

func (r *localRound) fail(err error) {
	r.err = err
	close(r.done)
}

func (w *localWorld) submit(ctx context.Context, rank int, kind opKind, vals []float64) ([]float64, [][]float64, error) {
	w.mu.Lock()
	if w.round == nil {
		r := &localRound{
			kind:  kind,
			width: len(vals),
			rows:  make([][]float64, w.size),
			done:  make(chan struct{}),
		}
		if kind == opReduceSum {
			r.sum = make([]float64, len(vals))
		}
		w.round = r
	}
	r := w.round
	if r.err == nil && r.kind != kind {
		r.fail(&OrderError{Seq: w.seq, Want: string(r.kind), Got: string(kind)})
	}
	if r.err == nil && kind == opReduceSum && len(vals) != r.width {
		r.fail(fmt.Errorf("reduce width mismatch at seq %d: %d vs %d", w.seq, r.width, len(vals)))
	}
	if r.err != nil {
		w.mu.Unlock()
		return nil, nil, r.err
	}
	switch kind {
	case opReduceSum:
		for i, v := range vals {
			r.sum[i] += v
		}
	case opGather:
		r.rows[rank] = append([]float64(nil), vals...)
	}
	r.n++
	if r.n == w.size {
		close(r.done)
		w.round = nil
		w.seq++
	}
	w.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%s aborted: %w", kind, ctx.Err())
	}
	if r.err != nil {
		return nil, nil, r.err
	}
	var rows [][]float64
	if kind == opGather && rank == Leader {
		rows = r.rows
	}
	return append([]float64(nil), r.sum...), rows, nil
}

type localHandle struct {
	rank   int
	world  *localWorld
	mu     sync.Mutex
	closed bool
}

func (h *localHandle) Rank() int { return h.rank }

func (h *localHandle) Size() int { return h.world.size }

func (h *localHandle) ReduceSum(ctx context.Context, vals []float64) ([]float64, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	sum, _, err := h.world.submit(ctx, h.rank, opReduceSum, vals)
	return sum, err
}

func (h *localHandle) Gather(ctx context.Context, vals []float64) ([][]float64, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	_, rows, err := h.world.submit(ctx, h.rank, opGather, vals)
	return rows, err
}

func (h *localHandle) Barrier(ctx context.Context) error {
	if err := h.check(); err != nil {
		return err
	}
	_, _, err := h.world.submit(ctx, h.rank, opBarrier, nil)
	return err
}

func (h *localHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *localHandle) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}
