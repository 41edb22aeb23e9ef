// Command kvrelay runs the key-value server: it loads configuration,
// optionally loads a snapshot, starts the TCP accept loop, and — if
// configured as a replica — runs the replica handshake and apply loop
// (spec.md §2, §6).
//
// Modeled on talek/replica/main.go's overall shape: parse flags, init
// logging, build the long-running service, then block.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	gologging "gopkg.in/op/go-logging.v1"

	"github.com/kvrelay/kvrelay/internal/command"
	"github.com/kvrelay/kvrelay/internal/config"
	"github.com/kvrelay/kvrelay/internal/logging"
	"github.com/kvrelay/kvrelay/internal/metrics"
	"github.com/kvrelay/kvrelay/internal/netconn"
	"github.com/kvrelay/kvrelay/internal/rdb"
	"github.com/kvrelay/kvrelay/internal/replication"
	"github.com/kvrelay/kvrelay/internal/resp"
	"github.com/kvrelay/kvrelay/internal/store"
	"github.com/kvrelay/kvrelay/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.GetLogger("kvrelay")

	var met *metrics.Metrics
	if cfg.MetricsAddr != "" {
		met = metrics.New()
		go func() {
			if err := met.Serve(cfg.MetricsAddr); err != nil {
				log.Warningf("metrics listener exited: %v", err)
			}
		}()
	}

	db := store.New()
	loadSnapshot(cfg, db, log)

	info := &serverInfo{cfg: cfg}
	var master *replication.Master
	if cfg.IsReplica() {
		go runReplicaClient(cfg, db, log)
	} else {
		master = replication.NewMaster(cfg.MasterReplID)
		info.master = master
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		log.Criticalf("listen %s: %v", cfg.Addr(), err)
		os.Exit(1)
	}
	log.Noticef("listening on %s (role=%s)", cfg.Addr(), roleName(cfg))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Warningf("accept: %v", err)
			continue
		}
		met.ConnectionAccepted()
		go handleConnection(conn, db, info, master, met, log)
	}
}

func roleName(cfg *config.Config) string {
	if cfg.IsReplica() {
		return "slave"
	}
	return "master"
}

func loadSnapshot(cfg *config.Config, db *store.Store, log *gologging.Logger) {
	path := filepath.Join(cfg.Dir, cfg.DBFilename)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("snapshot open %s: %v", path, err)
		}
		return
	}
	defer f.Close()

	if err := rdb.Load(f, db); err != nil {
		log.Warningf("snapshot load %s: %v (continuing with an empty dataset)", path, err)
	}
}

func runReplicaClient(cfg *config.Config, db *store.Store, log *gologging.Logger) {
	client := &replication.ReplicaClient{
		MasterAddr: cfg.MasterAddr(),
		ListenPort: cfg.Port,
		DB:         db,
		Log:        log,
	}
	if err := client.Run(); err != nil {
		log.Errorf("replication client exited: %v", err)
	}
}

func handleConnection(conn net.Conn, db *store.Store, info *serverInfo, master *replication.Master, met *metrics.Metrics, log *gologging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("connection handler panic: %v", r)
		}
	}()

	nc := netconn.New(conn)

	// The blocking nc.Read() below can't select on a halt channel
	// directly, so a sibling worker goroutine watches for one and
	// closes the socket to unblock it. PSYNC handoff transfers the
	// connection to Attach's propagation/ack tasks instead, so that
	// exit path stops the watcher via handoff rather than Halt,
	// leaving the socket open.
	w := &worker.Worker{}
	handoff := make(chan struct{})
	w.Go(func() {
		select {
		case <-w.HaltCh():
			nc.Close()
		case <-handoff:
		}
	})
	handedOff := false
	defer func() {
		if !handedOff {
			w.Halt()
		}
	}()

	for {
		v, _, err := nc.Read()
		if err != nil {
			nc.Close()
			return
		}

		cmd, ok := command.Parse(v)
		if !ok {
			nc.Write(resp.SimpleError("ERR unknown command"))
			continue
		}
		met.CommandExecuted(cmd.Kind.String())

		switch cmd.Kind {
		case command.KindPsync:
			if master == nil {
				nc.Write(resp.SimpleError("ERR PSYNC is only supported on a master"))
				continue
			}
			// The connection is now owned by Attach's propagation/ack
			// tasks; do not close it here, and leave the normal
			// request loop for good (spec.md §4.6 step 5).
			close(handoff)
			handedOff = true
			master.Attach(nc, rdb.EmptySnapshot(), log)
			met.SetReplicaCount(master.ReplicaCount())
			return
		case command.KindCommand:
			// Tolerated client-handshake entry; spec.md §4.5 calls for
			// no reply at all.
		case command.KindWait:
			count := 0
			if master != nil {
				count = master.Wait(cmd.NumReplicas, cmd.TimeoutMs)
			}
			nc.Write(resp.Integer(int64(count)))
		default:
			reply := command.Execute(cmd, db, info)
			nc.Write(reply)
			if master != nil && cmd.IsPropagated() {
				master.Propagate(resp.Encode(v))
				met.SetMasterOffset(master.Offset())
			}
		}
	}
}

// serverInfo is this binary's command.ServerInfo implementation,
// kept here rather than in internal/command so that package never
// has to import config or replication.
type serverInfo struct {
	cfg    *config.Config
	master *replication.Master
}

func (s *serverInfo) ReplicationSection() string {
	offset := s.cfg.MasterReplOffset
	if s.master != nil {
		offset = s.master.Offset()
	}
	return fmt.Sprintf(
		"#Replication\r\nrole:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		roleName(s.cfg), s.cfg.MasterReplID, offset,
	)
}

func (s *serverInfo) ConfigParam(name string) (string, bool) {
	switch name {
	case "dir":
		return s.cfg.Dir, true
	case "dbfilename":
		return s.cfg.DBFilename, true
	default:
		return "", false
	}
}
