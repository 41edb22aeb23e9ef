// Package command maps parsed RESP arrays to typed commands and
// executes them against a store.Store, per spec.md §4.5 / SPEC_FULL.md
// §4. Dispatch uses a closed tagged-variant sum type with one type
// switch rather than an interface/trait-object per command, per
// spec.md §9's explicit design note (the command set is closed and
// small) and the original Rust source's Command enum in
// original_source/apps/redis-clone/src/commands/mod.rs.
package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/kvrelay/kvrelay/internal/resp"
	"github.com/kvrelay/kvrelay/internal/store"
)

// Kind identifies which Command variant is populated.
type Kind uint8

const (
	KindPing Kind = iota
	KindEcho
	KindGet
	KindSet
	KindDel
	KindExists
	KindKeys
	KindType
	KindInfo
	KindConfigGet
	KindXadd
	KindXrange
	KindXread
	KindReplconf
	KindPsync
	KindWait
	KindCommand
)

var kindNames = map[Kind]string{
	KindPing:      "ping",
	KindEcho:      "echo",
	KindGet:       "get",
	KindSet:       "set",
	KindDel:       "del",
	KindExists:    "exists",
	KindKeys:      "keys",
	KindType:      "type",
	KindInfo:      "info",
	KindConfigGet: "config",
	KindXadd:      "xadd",
	KindXrange:    "xrange",
	KindXread:     "xread",
	KindReplconf:  "replconf",
	KindPsync:     "psync",
	KindWait:      "wait",
	KindCommand:   "command",
}

// String returns the lowercase command name, for logging and metric
// labels.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Command is the parsed, executable form of one client request. Only
// the fields relevant to Kind are populated.
type Command struct {
	Kind Kind

	// PING / ECHO
	Message []byte
	HasMsg  bool

	// GET / TYPE
	Key string

	// SET
	Value []byte
	TTL   *time.Duration

	// DEL / EXISTS / KEYS
	Keys    []string
	Pattern string

	// INFO
	Section string

	// CONFIG GET
	Param string

	// XADD / XRANGE / XREAD
	Stream   string
	IDToken  string
	Field    []byte
	FieldVal []byte
	Start    string
	End      string
	Count    *int
	XStreams []string
	XIDs     []string

	// REPLCONF
	ReplconfSub  string
	ReplconfArgs []string

	// PSYNC
	ReplID string
	Offset int64

	// WAIT
	NumReplicas int
	TimeoutMs   int64
}

// errUnknownCommandText is the reply text for a request whose verb is not
// recognised.
const errUnknownCommandText = "ERR unknown command"

// Parse turns a decoded RESP array into a Command. v must be a
// KindArray of at least one BulkString element (the command name);
// ok is false for anything else, meaning the caller should reply with
// an unknown-command error.
func Parse(v resp.Value) (Command, bool) {
	if v.Kind != resp.KindArray || len(v.Array) == 0 {
		return Command{}, false
	}
	name, ok := v.Array[0].AsString()
	if !ok {
		return Command{}, false
	}
	args := v.Array[1:]
	strArgs := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.AsString()
		if !ok {
			return Command{}, false
		}
		strArgs = append(strArgs, s)
	}

	switch strings.ToLower(name) {
	case "ping":
		c := Command{Kind: KindPing}
		if len(strArgs) > 0 {
			c.Message, c.HasMsg = []byte(strArgs[0]), true
		}
		return c, true
	case "echo":
		if len(strArgs) != 1 {
			return Command{}, false
		}
		return Command{Kind: KindEcho, Message: []byte(strArgs[0])}, true
	case "get":
		if len(strArgs) != 1 {
			return Command{}, false
		}
		return Command{Kind: KindGet, Key: strArgs[0]}, true
	case "set":
		return parseSet(strArgs)
	case "del":
		if len(strArgs) == 0 {
			return Command{}, false
		}
		return Command{Kind: KindDel, Keys: strArgs}, true
	case "exists":
		if len(strArgs) == 0 {
			return Command{}, false
		}
		return Command{Kind: KindExists, Keys: strArgs}, true
	case "keys":
		if len(strArgs) != 1 {
			return Command{}, false
		}
		return Command{Kind: KindKeys, Pattern: strArgs[0]}, true
	case "type":
		if len(strArgs) != 1 {
			return Command{}, false
		}
		return Command{Kind: KindType, Key: strArgs[0]}, true
	case "info":
		c := Command{Kind: KindInfo}
		if len(strArgs) > 0 {
			c.Section = strArgs[0]
		}
		return c, true
	case "config":
		return parseConfigGet(strArgs)
	case "xadd":
		return parseXadd(strArgs)
	case "xrange":
		return parseXrange(strArgs)
	case "xread":
		return parseXread(strArgs)
	case "replconf":
		return parseReplconf(strArgs)
	case "psync":
		return parsePsync(strArgs)
	case "wait":
		return parseWait(strArgs)
	case "command":
		return Command{Kind: KindCommand}, true
	default:
		return Command{}, false
	}
}

func parseSet(args []string) (Command, bool) {
	if len(args) < 2 {
		return Command{}, false
	}
	c := Command{Kind: KindSet, Key: args[0], Value: []byte(args[1])}

	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		switch strings.ToUpper(rest[i]) {
		case "EX":
			if c.TTL != nil || i+1 >= len(rest) {
				return Command{}, false
			}
			secs, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil {
				return Command{}, false
			}
			d := time.Duration(secs) * time.Second
			c.TTL = &d
			i++
		case "PX":
			if c.TTL != nil || i+1 >= len(rest) {
				return Command{}, false
			}
			ms, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil {
				return Command{}, false
			}
			d := time.Duration(ms) * time.Millisecond
			c.TTL = &d
			i++
		default:
			return Command{}, false
		}
	}
	return c, true
}

func parseConfigGet(args []string) (Command, bool) {
	if len(args) != 2 || strings.ToLower(args[0]) != "get" {
		return Command{}, false
	}
	return Command{Kind: KindConfigGet, Param: strings.ToLower(args[1])}, true
}

func parseXadd(args []string) (Command, bool) {
	if len(args) != 4 {
		return Command{}, false
	}
	return Command{
		Kind:     KindXadd,
		Stream:   args[0],
		IDToken:  args[1],
		Field:    []byte(args[2]),
		FieldVal: []byte(args[3]),
	}, true
}

func parseXrange(args []string) (Command, bool) {
	if len(args) != 3 {
		return Command{}, false
	}
	return Command{Kind: KindXrange, Stream: args[0], Start: args[1], End: args[2]}, true
}

// parseXread implements "[options] STREAMS key... id...", ignoring
// anything before the STREAMS token (spec.md §4.5).
func parseXread(args []string) (Command, bool) {
	idx := -1
	for i, a := range args {
		if strings.ToUpper(a) == "STREAMS" {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Command{}, false
	}
	rest := args[idx+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return Command{}, false
	}
	half := len(rest) / 2
	return Command{Kind: KindXread, XStreams: rest[:half], XIDs: rest[half:]}, true
}

func parseReplconf(args []string) (Command, bool) {
	if len(args) == 0 {
		return Command{}, false
	}
	return Command{Kind: KindReplconf, ReplconfSub: strings.ToLower(args[0]), ReplconfArgs: args[1:]}, true
}

func parsePsync(args []string) (Command, bool) {
	if len(args) != 2 {
		return Command{}, false
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil && args[1] != "-1" {
		return Command{}, false
	}
	return Command{Kind: KindPsync, ReplID: args[0], Offset: offset}, true
}

func parseWait(args []string) (Command, bool) {
	if len(args) != 2 {
		return Command{}, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return Command{}, false
	}
	ms, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return Command{}, false
	}
	return Command{Kind: KindWait, NumReplicas: n, TimeoutMs: ms}, true
}

// IsPropagated reports whether c is one of the mutating commands
// that a master forwards to its replicas verbatim (SET and DEL,
// per SPEC_FULL.md §4.5 — the original spec.md names SET alone and the
// DEL addition is documented there as following the same rule).
func (c Command) IsPropagated() bool {
	return c.Kind == KindSet || c.Kind == KindDel
}

// Execute runs c against db and returns the reply to send back to
// the caller. Replication-specific variants (PSYNC, WAIT, REPLCONF
// GETACK) are handled by the connection/replication layer, which
// inspects Kind before calling Execute for those cases; Execute still
// handles the REPLCONF subcommands that reply plain "OK".
func Execute(c Command, db *store.Store, info ServerInfo) resp.Value {
	switch c.Kind {
	case KindPing:
		if c.HasMsg {
			return resp.BulkString(c.Message)
		}
		return resp.SimpleString("PONG")
	case KindEcho:
		return resp.BulkString(c.Message)
	case KindGet:
		v, ok := db.Get(c.Key)
		if !ok {
			return resp.Null
		}
		return resp.BulkString(v)
	case KindSet:
		db.Set(c.Key, c.Value, c.TTL)
		return resp.SimpleString("OK")
	case KindDel:
		return resp.Integer(int64(db.Del(c.Keys...)))
	case KindExists:
		return resp.Integer(int64(db.Exists(c.Keys...)))
	case KindKeys:
		if c.Pattern != "*" {
			return resp.SimpleError("ERR unsupported pattern, only '*' is implemented")
		}
		keys := db.Keys()
		vals := make([]resp.Value, len(keys))
		for i, k := range keys {
			vals[i] = resp.BulkString([]byte(k))
		}
		return resp.Array(vals...)
	case KindType:
		return resp.SimpleString(db.ValueType(c.Key))
	case KindInfo:
		return resp.BulkString([]byte(info.ReplicationSection()))
	case KindConfigGet:
		val, ok := info.ConfigParam(c.Param)
		if !ok {
			return resp.SimpleError("ERR unknown config parameter '" + c.Param + "'")
		}
		return resp.Array(resp.BulkString([]byte(c.Param)), resp.BulkString([]byte(val)))
	case KindXadd:
		if c.IDToken == "0-0" {
			return resp.SimpleError("ERR The ID specified in XADD must be greater than 0-0")
		}
		id, err := db.Xadd(c.Stream, c.IDToken, c.Field, c.FieldVal)
		if err != nil {
			return xaddError(err)
		}
		return resp.SimpleString(id.String())
	case KindXrange:
		ids, entries, err := db.Xrange(c.Stream, c.Start, c.End, c.Count)
		if err != nil {
			return resp.SimpleError("ERR " + err.Error())
		}
		return encodeStreamEntries(ids, entries)
	case KindXread:
		return executeXread(c, db)
	case KindReplconf:
		return resp.SimpleString("OK")
	case KindCommand:
		return resp.Array()
	default:
		return resp.SimpleError(errUnknownCommandText)
	}
}

func xaddError(err error) resp.Value {
	if err == store.ErrIDNotIncreasing {
		return resp.SimpleError("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	}
	return resp.SimpleError("ERR " + err.Error())
}

func encodeStreamEntries(ids []store.StreamID, entries []store.StreamEntry) resp.Value {
	out := make([]resp.Value, len(ids))
	for i := range ids {
		out[i] = resp.Array(
			resp.BulkString([]byte(ids[i].String())),
			resp.Array(
				resp.BulkString(entries[i].Field),
				resp.BulkString(entries[i].Value),
			),
		)
	}
	return resp.Array(out...)
}

func executeXread(c Command, db *store.Store) resp.Value {
	var perStream []resp.Value
	for i, key := range c.XStreams {
		id, entry, ok := db.Xread(key, c.XIDs[i])
		if !ok {
			continue
		}
		perStream = append(perStream, resp.Array(
			resp.BulkString([]byte(key)),
			resp.Array(resp.Array(
				resp.BulkString([]byte(id.String())),
				resp.Array(
					resp.BulkString(entry.Field),
					resp.BulkString(entry.Value),
				),
			)),
		))
	}
	if perStream == nil {
		return resp.Null
	}
	return resp.Array(perStream...)
}

// ServerInfo is the narrow view of server-wide state the command
// layer needs for INFO and CONFIG GET, implemented by the top-level
// server so this package never imports config/replication directly.
type ServerInfo interface {
	ReplicationSection() string
	ConfigParam(name string) (string, bool)
}
