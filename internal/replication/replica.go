package replication

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/kvrelay/kvrelay/internal/command"
	"github.com/kvrelay/kvrelay/internal/netconn"
	"github.com/kvrelay/kvrelay/internal/rdb"
	"github.com/kvrelay/kvrelay/internal/resp"
	"github.com/kvrelay/kvrelay/internal/store"
	"github.com/kvrelay/kvrelay/internal/worker"
)

// ReplicaClient runs the replica side of the protocol against a
// configured master: the handshake of spec.md §4.6 followed by an
// unbounded apply loop.
type ReplicaClient struct {
	MasterAddr string
	ListenPort string
	DB         *store.Store
	Log        *logging.Logger

	appliedOffset int64
	w             worker.Worker
}

// AppliedOffset returns the replica's current applied_offset.
func (c *ReplicaClient) AppliedOffset() int64 { return atomic.LoadInt64(&c.appliedOffset) }

// Stop halts the apply loop, unblocking it from its pending read.
func (c *ReplicaClient) Stop() { c.w.Halt() }

// Run dials the master, performs the handshake, and then runs the
// apply loop until the connection drops or Stop is called. There is
// no reconnection policy (spec.md §9, open question (b)): a dropped
// connection simply ends Run, and the caller decides whether to
// retry.
func (c *ReplicaClient) Run() error {
	raw, err := net.Dial("tcp", c.MasterAddr)
	if err != nil {
		return fmt.Errorf("replication: dial master: %w", err)
	}
	nc := netconn.New(raw)
	defer nc.Close()

	// applyLoop's read blocks on the socket and can't select on
	// HaltCh directly; this sibling goroutine closes the connection
	// on halt to unblock it, same pattern as the per-connection read
	// loop in cmd/kvrelay.
	c.w.Go(func() {
		<-c.w.HaltCh()
		nc.Close()
	})
	defer c.w.Halt()

	if err := c.handshake(nc); err != nil {
		return fmt.Errorf("replication: handshake: %w", err)
	}
	return c.applyLoop(nc)
}

func (c *ReplicaClient) expectSimple(nc *netconn.Connection, req resp.Value, expected string) error {
	if _, err := nc.Write(req); err != nil {
		return err
	}
	reply, _, err := nc.Read()
	if err != nil {
		return err
	}
	if reply.Kind != resp.KindSimpleString || reply.Str != expected {
		return fmt.Errorf("expected +%s, got %+v", expected, reply)
	}
	return nil
}

func (c *ReplicaClient) handshake(nc *netconn.Connection) error {
	if err := c.expectSimple(nc, resp.Array(resp.BulkString([]byte("PING"))), "PONG"); err != nil {
		return err
	}
	listeningPort := resp.Array(
		resp.BulkString([]byte("REPLCONF")),
		resp.BulkString([]byte("listening-port")),
		resp.BulkString([]byte(c.ListenPort)),
	)
	if err := c.expectSimple(nc, listeningPort, "OK"); err != nil {
		return err
	}
	capa := resp.Array(
		resp.BulkString([]byte("REPLCONF")),
		resp.BulkString([]byte("capa")),
		resp.BulkString([]byte("psync2")),
	)
	if err := c.expectSimple(nc, capa, "OK"); err != nil {
		return err
	}

	psync := resp.Array(
		resp.BulkString([]byte("PSYNC")),
		resp.BulkString([]byte("?")),
		resp.BulkString([]byte("-1")),
	)
	if _, err := nc.Write(psync); err != nil {
		return err
	}
	reply, _, err := nc.Read()
	if err != nil {
		return err
	}
	if reply.Kind != resp.KindSimpleString || !strings.HasPrefix(reply.Str, "FULLRESYNC") {
		return fmt.Errorf("expected FULLRESYNC, got %+v", reply)
	}

	snapshot, _, err := nc.Read()
	if err != nil {
		return err
	}
	if snapshot.Kind == resp.KindBulkString && len(snapshot.Bulk) > 0 {
		if err := rdb.Load(bytes.NewReader(snapshot.Bulk), c.DB); err != nil && c.Log != nil {
			c.Log.Warningf("replication: snapshot load failed, continuing empty: %v", err)
		}
	}
	return nil
}

// applyLoop reads frames continuously, applying propagated commands
// to the local store and answering REPLCONF GETACK with the
// applied_offset observed before this frame's bytes are counted
// (spec.md §4.6's replica-side apply loop).
func (c *ReplicaClient) applyLoop(nc *netconn.Connection) error {
	for {
		v, n, err := nc.Read()
		if err != nil {
			if c.Log != nil {
				c.Log.Warningf("replication: apply loop ended: %v", err)
			}
			return err
		}

		cmd, ok := command.Parse(v)
		if !ok {
			atomic.AddInt64(&c.appliedOffset, int64(n))
			continue
		}

		if cmd.Kind == command.KindReplconf && cmd.ReplconfSub == "getack" {
			ack := resp.Array(
				resp.BulkString([]byte("REPLCONF")),
				resp.BulkString([]byte("ACK")),
				resp.BulkString([]byte(strconv.FormatInt(c.AppliedOffset(), 10))),
			)
			if err := nc.WriteBytes(resp.Encode(ack)); err != nil {
				return err
			}
			if err := nc.Flush(); err != nil {
				return err
			}
			atomic.AddInt64(&c.appliedOffset, int64(n))
			continue
		}

		command.Execute(cmd, c.DB, nil)
		atomic.AddInt64(&c.appliedOffset, int64(n))
	}
}
