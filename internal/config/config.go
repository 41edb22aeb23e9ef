// Package config parses the server's startup flags and optional TOML
// overlay file into an immutable Config (spec.md §6, SPEC_FULL.md
// §6). Flag parsing follows talek/replica/main.go's flat
// flag.StringVar block; the TOML overlay is the teacher's own
// mailproxy.toml-style config file, read with
// github.com/BurntSushi/toml.
package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kvrelay/kvrelay/internal/randid"
)

// ReplicaOf identifies the upstream master this process replicates
// from, or is the zero value when running as a master.
type ReplicaOf struct {
	Host string
	Port string
}

// Config is the process-wide, immutable-after-boot configuration
// (spec.md §3).
type Config struct {
	Port       string
	ReplicaOf  ReplicaOf // zero value means role "master"
	Dir        string
	DBFilename string

	MasterReplID     string
	MasterReplOffset int64

	LogLevel    string
	MetricsAddr string // empty disables the metrics HTTP listener
}

// IsReplica reports whether this process is configured as a replica.
func (c *Config) IsReplica() bool { return c.ReplicaOf.Host != "" }

// fileOverlay mirrors the subset of Config a TOML file may override.
// CLI flags always take precedence when explicitly set; see Load.
type fileOverlay struct {
	Port        string `toml:"port"`
	ReplicaOf   string `toml:"replicaof"`
	Dir         string `toml:"dir"`
	DBFilename  string `toml:"dbfilename"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Load parses args (typically os.Args[1:]) into a Config. A fresh
// master replication ID is generated every call, per spec.md §3.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kvrelay", flag.ContinueOnError)
	port := fs.String("port", "6379", "TCP listen port")
	replicaof := fs.String("replicaof", "", `upstream master as "<host> <port>"`)
	dir := fs.String("dir", ".", "snapshot directory")
	dbfilename := fs.String("dbfilename", "dump.rdb", "snapshot file name")
	cfgFile := fs.String("config", "", "optional TOML config file overlay")
	logLevel := fs.String("log-level", "INFO", "DEBUG, INFO, NOTICE, WARNING, ERROR, or CRITICAL")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics at this host:port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             *port,
		Dir:              *dir,
		DBFilename:       *dbfilename,
		LogLevel:         *logLevel,
		MetricsAddr:      *metricsAddr,
		MasterReplID:     randid.String(40),
		MasterReplOffset: 0,
	}

	if *cfgFile != "" {
		var overlay fileOverlay
		if _, err := toml.DecodeFile(*cfgFile, &overlay); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", *cfgFile, err)
		}
		applyOverlay(cfg, overlay, fs)
	}

	if *replicaof != "" {
		ro, err := parseReplicaOf(*replicaof)
		if err != nil {
			return nil, err
		}
		cfg.ReplicaOf = ro
	}

	return cfg, nil
}

// applyOverlay fills in any field the caller left at its flag default
// (i.e. did not pass explicitly) from the TOML file, so that an
// explicit CLI flag always wins over the file.
func applyOverlay(cfg *Config, overlay fileOverlay, fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["port"] && overlay.Port != "" {
		cfg.Port = overlay.Port
	}
	if !set["dir"] && overlay.Dir != "" {
		cfg.Dir = overlay.Dir
	}
	if !set["dbfilename"] && overlay.DBFilename != "" {
		cfg.DBFilename = overlay.DBFilename
	}
	if !set["log-level"] && overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if !set["metrics-addr"] && overlay.MetricsAddr != "" {
		cfg.MetricsAddr = overlay.MetricsAddr
	}
	if !set["replicaof"] && overlay.ReplicaOf != "" {
		if ro, err := parseReplicaOf(overlay.ReplicaOf); err == nil {
			cfg.ReplicaOf = ro
		}
	}
}

// parseReplicaOf parses "<host> <port>", resolving "localhost" to
// 127.0.0.1 per spec.md §6.
func parseReplicaOf(s string) (ReplicaOf, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return ReplicaOf{}, fmt.Errorf("config: replicaof must be \"<host> <port>\", got %q", s)
	}
	host := parts[0]
	if host == "localhost" {
		host = "127.0.0.1"
	}
	if _, err := strconv.ParseUint(parts[1], 10, 16); err != nil {
		return ReplicaOf{}, fmt.Errorf("config: invalid replicaof port %q: %w", parts[1], err)
	}
	return ReplicaOf{Host: host, Port: parts[1]}, nil
}

// Addr returns the listen address for the local server.
func (c *Config) Addr() string { return net.JoinHostPort("127.0.0.1", c.Port) }

// MasterAddr returns the dialable address of the configured upstream
// master. Only meaningful when IsReplica is true.
func (c *Config) MasterAddr() string { return net.JoinHostPort(c.ReplicaOf.Host, c.ReplicaOf.Port) }
