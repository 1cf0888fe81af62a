package group

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by collectives on a handle that has left the group
var ErrClosed = errors.New("group handle closed")

// Default timeouts for assembling the group and completing a collective
const (
	DefaultJoinTimeout = 30 * time.Second
	DefaultOpTimeout   = 60 * time.Second
)

// Handle is a member's view of an assembled process group. Collectives
// are synchronization points. Every member must invoke the same
// collective in the same order; the hub rejects diverging sequences.
type Handle interface {
	// Rank returns this member's index in [0, Size).
	Rank() int

	// Size returns the total number of members.
	Size() int

	// ReduceSum element-wise sums vals across all members and returns
	// the summed vector to every member. All members must pass vectors
	// of the same length.
	ReduceSum(ctx context.Context, vals []float64) ([]float64, error)

	// Gather collects each member's vector on the leader rank. The
	// leader receives the vectors indexed by rank; other members
	// receive nil. Vector lengths may differ between ranks.
	Gather(ctx context.Context, vals []float64) ([][]float64, error)

	// Barrier blocks until every member has reached it.
	Barrier(ctx context.Context) error

	// Close leaves the group. Collectives in flight on other members
	// will fail.
	Close() error
}

// Leader is the rank that hosts the rendezvous and receives gathers
const Leader = 0

type opKind string

const (
	opReduceSum opKind = "reduce_sum"
	opGather    opKind = "gather"
	opBarrier   opKind = "barrier"
)

// JoinTimeoutError is returned when the rendezvous does not assemble
// the full group within the allotted time.
type JoinTimeoutError struct {
	Addr    string
	Rank    int
	Timeout time.Duration
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("rank %d timed out after %v waiting to join group at %s", e.Rank, e.Timeout, e.Addr)
}

// OrderError is returned when members invoke diverging collectives for
// the same sequence number.
type OrderError struct {
	Seq  uint64
	Want string
	Got  string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("collective order mismatch at seq %d: %s vs %s", e.Seq, e.Want, e.Got)
}
