package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

const dialRetryDelay = 100 * time.Millisecond

// Join connects to the rendezvous at addr as the given rank and blocks
// until all worldSize members have assembled. The hub may not be
// listening yet when a member starts, so the dial is retried until the
// timeout elapses.
func Join(ctx context.Context, addr string, rank, worldSize int, timeout time.Duration) (Handle, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var conn net.Conn
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("group join aborted: %w", err)
		}
		c, err := net.DialTimeout("tcp", addr, time.Until(deadline))
		if err == nil {
			conn = c
			break
		}
		if time.Now().Add(dialRetryDelay).After(deadline) {
			return nil, &JoinTimeoutError{Addr: addr, Rank: rank, Timeout: timeout}
		}
		time.Sleep(dialRetryDelay)
	}

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	if err := enc.Encode(wireMsg{Type: msgJoin, Rank: rank, World: worldSize}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to announce rank %d: %w", rank, err)
	}

	_ = conn.SetReadDeadline(deadline)
	var m wireMsg
	if err := dec.Decode(&m); err != nil {
		_ = conn.Close()
		if isTimeout(err) {
			return nil, &JoinTimeoutError{Addr: addr, Rank: rank, Timeout: timeout}
		}
		return nil, fmt.Errorf("failed to join group at %s: %w", addr, err)
	}
	switch m.Type {
	case msgWelcome:
	case msgError:
		_ = conn.Close()
		return nil, fmt.Errorf("group join rejected: %s", m.Error)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected %s message during join", m.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	return &tcpHandle{
		rank:      rank,
		world:     worldSize,
		conn:      conn,
		enc:       enc,
		dec:       dec,
		opTimeout: DefaultOpTimeout,
	}, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// tcpHandle talks to the hub over a single connection. Collectives are
// strictly ordered per member, so each request waits for its own reply
// before the next one is issued.
type tcpHandle struct {
	rank  int
	world int

	conn      net.Conn
	enc       *json.Encoder
	dec       *json.Decoder
	seq       uint64
	opTimeout time.Duration
}

func (h *tcpHandle) Rank() int { return h.rank }

func (h *tcpHandle) Size() int { return h.world }

func (h *tcpHandle) ReduceSum(ctx context.Context, vals []float64) ([]float64, error) {
	res, err := h.call(ctx, opReduceSum, vals)
	if err != nil {
		return nil, err
	}
	return res.Vals, nil
}

func (h *tcpHandle) Gather(ctx context.Context, vals []float64) ([][]float64, error) {
	res, err := h.call(ctx, opGather, vals)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (h *tcpHandle) Barrier(ctx context.Context) error {
	_, err := h.call(ctx, opBarrier, nil)
	return err
}

func (h *tcpHandle) Close() error {
	// Tell the hub this is a deliberate departure, not a lost member.
	_ = h.conn.SetDeadline(time.Now().Add(time.Second))
	_ = h.enc.Encode(wireMsg{Type: msgLeave, Rank: h.rank})
	return h.conn.Close()
}

func (h *tcpHandle) call(ctx context.Context, kind opKind, vals []float64) (*wireMsg, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s aborted: %w", kind, err)
	}
	h.seq++
	deadline := time.Now().Add(h.opTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = h.conn.SetDeadline(deadline)

	if err := h.enc.Encode(wireMsg{Type: msgOp, Rank: h.rank, Seq: h.seq, Kind: string(kind), Vals: vals}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", kind, err)
	}
	var m wireMsg
	if err := h.dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to receive %s result: %w", kind, err)
	}
	if m.Type == msgError {
		return nil, fmt.Errorf("collective failed: %s", m.Error)
	}
	if m.Type != msgResult || m.Seq != h.seq {
		return nil, fmt.Errorf("unexpected %s message at seq %d", m.Type, h.seq)
	}
	return &m, nil
}
