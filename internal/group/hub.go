package group

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	msgJoin    = "join"
	msgWelcome = "welcome"
	msgOp      = "op"
	msgResult  = "result"
	msgLeave   = "leave"
	msgError   = "error"
)

// closeGrace is how long Close waits for members to announce their own
// departure before tearing the connections down.
const closeGrace = 5 * time.Second

// wireMsg is the single frame type exchanged over the rendezvous
// connection, newline-delimited JSON in both directions
type wireMsg struct {
	Type  string      `json:"type"`
	Rank  int         `json:"rank"`
	Seq   uint64      `json:"seq,omitempty"`
	Kind  string      `json:"kind,omitempty"`
	Vals  []float64   `json:"vals,omitempty"`
	Rows  [][]float64 `json:"rows,omitempty"`
	World int         `json:"world,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Hub hosts the rendezvous point and relays collectives between group
// members. The leader rank starts it and then joins through it like
// every other member.
type Hub struct {
	ln    net.Listener
	world int

	joined mapset.Set[int]
	conns  *xsync.MapOf[int, *hubConn]
	ops    *xsync.MapOf[uint64, *pendingOp]

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	failOnce  sync.Once
	closeOnce sync.Once
}

type hubConn struct {
	rank int
	conn net.Conn
	enc  *json.Encoder
	mu   sync.Mutex
}

func (c *hubConn) send(msg wireMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(msg)
}

type pendingOp struct {
	mu    sync.Mutex
	kind  opKind
	width int
	sum   []float64
	rows  [][]float64
	seen  map[int]bool
	n     int
}

// StartHub listens on addr and begins accepting members of a group of
// the given size. Use Addr to learn the bound address when addr has
// port zero.
func StartHub(addr string, worldSize int) (*Hub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h := &Hub{
		ln:     ln,
		world:  worldSize,
		joined: mapset.NewSet[int](),
		conns:  xsync.NewMapOf[int, *hubConn](),
		ops:    xsync.NewMapOf[uint64, *pendingOp](),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.acceptLoop()
	return h, nil
}

// Addr returns the address the hub is listening on
func (h *Hub) Addr() string {
	return h.ln.Addr().String()
}

// Close shuts the hub down. When the group formed, members that are
// still draining their last results get a moment to leave on their own
// before the connections are torn down. Members blocked on a collective
// will see their connections fail.
func (h *Hub) Close() error {
	select {
	case <-h.ready:
		deadline := time.Now().Add(closeGrace)
		for h.conns.Size() > 0 && time.Now().Before(deadline) {
			select {
			case <-h.done:
				return nil
			case <-time.After(10 * time.Millisecond):
			}
		}
	default:
	}
	h.shutdown()
	return nil
}

func (h *Hub) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		go h.serveConn(conn)
	}
}

func (h *Hub) serveConn(conn net.Conn) {
	dec := json.NewDecoder(conn)

	var m wireMsg
	if err := dec.Decode(&m); err != nil {
		_ = conn.Close()
		return
	}
	hc := &hubConn{rank: m.Rank, conn: conn, enc: json.NewEncoder(conn)}
	if m.Type != msgJoin || m.World != h.world || m.Rank < 0 || m.Rank >= h.world {
		_ = hc.send(wireMsg{Type: msgError, Error: fmt.Sprintf("invalid join for world of %d", h.world)})
		_ = conn.Close()
		return
	}
	if !h.joined.Add(m.Rank) {
		_ = hc.send(wireMsg{Type: msgError, Error: fmt.Sprintf("rank %d already joined", m.Rank)})
		_ = conn.Close()
		return
	}
	h.conns.Store(m.Rank, hc)
	slog.Debug("rank joined group", "rank", m.Rank, "joined", h.joined.Cardinality(), "world", h.world)
	if h.joined.Cardinality() == h.world {
		h.readyOnce.Do(func() { close(h.ready) })
	}

	select {
	case <-h.ready:
	case <-h.done:
		return
	}
	if err := hc.send(wireMsg{Type: msgWelcome, Rank: m.Rank, World: h.world}); err != nil {
		h.fail(fmt.Errorf("failed to welcome rank %d: %w", m.Rank, err))
		return
	}

	for {
		var op wireMsg
		if err := dec.Decode(&op); err != nil {
			select {
			case <-h.done:
			default:
				h.fail(fmt.Errorf("lost connection to rank %d: %w", hc.rank, err))
			}
			return
		}
		switch op.Type {
		case msgOp:
			if !h.handleOp(hc, op) {
				return
			}
		case msgLeave:
			// Leaving between collectives is the normal end of a
			// member's schedule. Leaving mid-collective strands the rest.
			if h.ops.Size() > 0 {
				h.fail(fmt.Errorf("rank %d left with a collective pending", hc.rank))
				return
			}
			h.conns.Delete(hc.rank)
			slog.Debug("rank left group", "rank", hc.rank)
			_ = conn.Close()
			return
		default:
			h.fail(fmt.Errorf("unexpected %s message from rank %d", op.Type, hc.rank))
			return
		}
	}
}

// handleOp folds one member's contribution into the pending collective
// and broadcasts the result once all members have contributed. Returns
// false when the hub has failed.
func (h *Hub) handleOp(hc *hubConn, m wireMsg) bool {
	op, _ := h.ops.LoadOrCompute(m.Seq, func() *pendingOp {
		return &pendingOp{
			kind:  opKind(m.Kind),
			width: len(m.Vals),
			rows:  make([][]float64, h.world),
			seen:  make(map[int]bool),
		}
	})

	op.mu.Lock()
	if op.kind != opKind(m.Kind) {
		op.mu.Unlock()
		h.fail(&OrderError{Seq: m.Seq, Want: string(op.kind), Got: m.Kind})
		return false
	}
	if op.seen[m.Rank] {
		op.mu.Unlock()
		h.fail(fmt.Errorf("rank %d contributed twice to seq %d", m.Rank, m.Seq))
		return false
	}
	op.seen[m.Rank] = true
	switch op.kind {
	case opReduceSum:
		if len(m.Vals) != op.width {
			op.mu.Unlock()
			h.fail(fmt.Errorf("reduce width mismatch at seq %d: %d vs %d", m.Seq, op.width, len(m.Vals)))
			return false
		}
		if op.sum == nil {
			op.sum = make([]float64, op.width)
		}
		for i, v := range m.Vals {
			op.sum[i] += v
		}
	case opGather:
		op.rows[m.Rank] = m.Vals
	case opBarrier:
	default:
		op.mu.Unlock()
		h.fail(fmt.Errorf("unknown collective %q at seq %d", m.Kind, m.Seq))
		return false
	}
	op.n++
	complete := op.n == h.world
	op.mu.Unlock()

	if !complete {
		return true
	}
	h.ops.Delete(m.Seq)
	var sendErr error
	h.conns.Range(func(rank int, c *hubConn) bool {
		res := wireMsg{Type: msgResult, Rank: rank, Seq: m.Seq}
		switch op.kind {
		case opReduceSum:
			res.Vals = op.sum
		case opGather:
			if rank == Leader {
				res.Rows = op.rows
			}
		}
		if err := c.send(res); err != nil {
			sendErr = fmt.Errorf("failed to deliver seq %d to rank %d: %w", m.Seq, rank, err)
			return false
		}
		return true
	})
	if sendErr != nil {
		h.fail(sendErr)
		return false
	}
	return true
}

// fail broadcasts the error to every member and shuts the hub down
func (h *Hub) fail(err error) {
	h.failOnce.Do(func() {
		slog.Warn("group hub failing", "error", err)
		msg := wireMsg{Type: msgError, Error: err.Error()}
		h.conns.Range(func(_ int, c *hubConn) bool {
			_ = c.send(msg)
			return true
		})
		h.shutdown()
	})
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.ln.Close()
		h.conns.Range(func(_ int, c *hubConn) bool {
			_ = c.conn.Close()
			return true
		})
	})
}
