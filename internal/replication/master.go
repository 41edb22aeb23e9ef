// Package replication implements the master-side acceptor, broadcast
// fan-out, and WAIT quorum poll, plus the replica-side handshake and
// apply loop (spec.md §4.6).
//
// Grounded on original_source/apps/redis-clone/src/commands/{psync,
// replconf,wait}.rs for the exact handshake reply strings and on
// spec.md §4.6 for the WAIT polling cadence and GETACK broadcast
// frame, which the Rust source leaves unimplemented for anything past
// the initial PSYNC reply.
package replication

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/kvrelay/kvrelay/internal/command"
	"github.com/kvrelay/kvrelay/internal/netconn"
	"github.com/kvrelay/kvrelay/internal/resp"
	"github.com/kvrelay/kvrelay/internal/worker"
)

// backlogWatermark bounds how many propagation frames may sit unsent
// in a replica's queue before that replica is considered fatally
// behind and disconnected. The InfiniteChannel itself never drops
// messages, so this is what gives spec.md §5's "lost messages due to
// slow consumers are fatal to that subscriber only" its teeth.
const backlogWatermark = 10000

// getackFrame is the literal broadcast frame WAIT sends to poll
// replica acknowledgement (spec.md §4.6).
var getackFrame = []byte("*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n")

type replicaHandle struct {
	id             string
	offsetAtAttach int64
	lastAckOffset  int64 // atomic
	queue          *channels.InfiniteChannel
	w              *worker.Worker
}

func (r *replicaHandle) caughtUpTo(target int64) bool {
	return atomic.LoadInt64(&r.lastAckOffset)+r.offsetAtAttach >= target
}

// Master holds a master's replication state: its replication id, the
// running propagation offset, and the set of attached replicas.
type Master struct {
	replID string
	offset int64 // atomic

	mu       sync.Mutex
	replicas map[string]*replicaHandle

	halt worker.Worker
}

// NewMaster builds a Master with the given (already generated)
// replication id.
func NewMaster(replID string) *Master {
	return &Master{replID: replID, replicas: make(map[string]*replicaHandle)}
}

// ReplID returns the master's replication id.
func (m *Master) ReplID() string { return m.replID }

// Offset returns the current master_offset.
func (m *Master) Offset() int64 { return atomic.LoadInt64(&m.offset) }

// ReplicaCount reports how many replicas are currently attached.
func (m *Master) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

// Propagate publishes frame — the raw encoded request bytes for a
// propagatable command — to every attached replica and advances
// master_offset by its length (spec.md §4.5).
func (m *Master) Propagate(frame []byte) {
	atomic.AddInt64(&m.offset, int64(len(frame)))
	m.broadcastRaw(frame)
}

func (m *Master) broadcastRaw(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.replicas {
		if r.queue.Len() > backlogWatermark {
			r.w.Halt()
			continue
		}
		r.queue.In() <- frame
	}
}

// Attach promotes conn to a replica connection: it replies
// FULLRESYNC, ships snapshot as the bulk transfer body, registers the
// replica, and spawns its propagation and ACK-reading tasks
// (spec.md §4.6 steps 1-5).
func (m *Master) Attach(conn *netconn.Connection, snapshot []byte, log *logging.Logger) {
	offsetAtAttach := m.Offset()

	conn.Write(resp.SimpleString("FULLRESYNC " + m.replID + " 0"))
	conn.WriteBytes([]byte(fmt.Sprintf("$%d\r\n", len(snapshot))))
	conn.WriteBytes(snapshot)
	conn.Flush()

	rh := &replicaHandle{
		id:             conn.ID(),
		offsetAtAttach: offsetAtAttach,
		queue:          channels.NewInfiniteChannel(),
		w:              &worker.Worker{},
	}

	m.mu.Lock()
	m.replicas[rh.id] = rh
	m.mu.Unlock()

	// Halting the replica (e.g. past backlogWatermark) closes its
	// socket, which also unblocks the ACK reader.
	rh.w.Go(func() {
		<-rh.w.HaltCh()
		conn.Close()
	})

	read, write := conn.Split()
	rh.w.Go(func() { m.runPropagation(rh, write, log) })
	rh.w.Go(func() { m.runAckReader(rh, read, log) })
}

func (m *Master) runPropagation(rh *replicaHandle, write *netconn.WriteHalf, log *logging.Logger) {
	defer m.detach(rh.id)
	for {
		select {
		case <-rh.w.HaltCh():
			return
		case frame, ok := <-rh.queue.Out():
			if !ok {
				return
			}
			b, _ := frame.([]byte)
			if err := write.WriteBytes(b); err != nil {
				if log != nil {
					log.Warningf("replication: propagation write to %s failed: %v", rh.id, err)
				}
				return
			}
			if err := write.Flush(); err != nil {
				return
			}
		}
	}
}

func (m *Master) runAckReader(rh *replicaHandle, read *netconn.ReadHalf, log *logging.Logger) {
	defer rh.w.Halt()
	defer m.detach(rh.id)
	for {
		v, _, err := read.Read()
		if err != nil {
			if log != nil {
				log.Debugf("replication: replica %s disconnected: %v", rh.id, err)
			}
			return
		}
		c, ok := command.Parse(v)
		if !ok || c.Kind != command.KindReplconf {
			continue
		}
		if c.ReplconfSub == "ack" && len(c.ReplconfArgs) == 1 {
			if n, err := strconv.ParseInt(c.ReplconfArgs[0], 10, 64); err == nil {
				atomic.StoreInt64(&rh.lastAckOffset, n)
			}
		}
	}
}

func (m *Master) detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replicas, id)
}

// Wait implements the WAIT command (spec.md §4.6): broadcast GETACK,
// sleep 75ms, count replicas caught up to the offset observed at call
// time, repeat until numReplicas are caught up, timeoutMs/75
// iterations elapse, or the master is halted.
func (m *Master) Wait(numReplicas int, timeoutMs int64) int {
	target := m.Offset()
	if count := m.caughtUpCount(target); m.ReplicaCount() == 0 || count >= numReplicas {
		return count
	}

	attempts := int(timeoutMs / 75)
	for i := 0; i < attempts; i++ {
		m.broadcastRaw(getackFrame)
		select {
		case <-m.halt.HaltCh():
			return m.caughtUpCount(target)
		case <-time.After(75 * time.Millisecond):
		}
		if count := m.caughtUpCount(target); count >= numReplicas {
			return count
		}
	}
	return m.caughtUpCount(target)
}

// Halt stops any WAIT poll currently in progress and marks the master
// as shutting down.
func (m *Master) Halt() { m.halt.Halt() }

func (m *Master) caughtUpCount(target int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.replicas {
		if r.caughtUpTo(target) {
			count++
		}
	}
	return count
}
