package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvrelay/kvrelay/internal/resp"
	"github.com/kvrelay/kvrelay/internal/store"
)

type fakeInfo struct {
	repl   string
	params map[string]string
}

func (f fakeInfo) ReplicationSection() string { return f.repl }
func (f fakeInfo) ConfigParam(name string) (string, bool) {
	v, ok := f.params[name]
	return v, ok
}

func arrayOf(parts ...string) resp.Value {
	vals := make([]resp.Value, len(parts))
	for i, p := range parts {
		vals[i] = resp.BulkString([]byte(p))
	}
	return resp.Array(vals...)
}

func TestParseEcho(t *testing.T) {
	c, ok := Parse(arrayOf("ECHO", "hello"))
	require.True(t, ok)
	assert.Equal(t, KindEcho, c.Kind)

	reply := Execute(c, store.New(), fakeInfo{})
	assert.Equal(t, resp.BulkString([]byte("hello")), reply)
}

func TestParseSetWithPX(t *testing.T) {
	c, ok := Parse(arrayOf("SET", "k", "v", "PX", "100"))
	require.True(t, ok)
	require.NotNil(t, c.TTL)
	assert.Equal(t, 100*time.Millisecond, *c.TTL)
}

func TestParseSetConflictingTTL(t *testing.T) {
	_, ok := Parse(arrayOf("SET", "k", "v", "EX", "1", "PX", "2"))
	assert.False(t, ok)
}

func TestSetGetRoundTrip(t *testing.T) {
	db := store.New()
	setCmd, ok := Parse(arrayOf("SET", "k", "v"))
	require.True(t, ok)
	assert.Equal(t, resp.SimpleString("OK"), Execute(setCmd, db, fakeInfo{}))

	getCmd, ok := Parse(arrayOf("GET", "k"))
	require.True(t, ok)
	assert.Equal(t, resp.BulkString([]byte("v")), Execute(getCmd, db, fakeInfo{}))
}

func TestKeysRejectsNonWildcardPattern(t *testing.T) {
	db := store.New()
	c, ok := Parse(arrayOf("KEYS", "a*"))
	require.True(t, ok)
	reply := Execute(c, db, fakeInfo{})
	assert.Equal(t, resp.KindSimpleError, reply.Kind)
}

func TestDelAndExists(t *testing.T) {
	db := store.New()
	Execute(mustParse(t, "SET", "a", "1"), db, fakeInfo{})

	delCmd := mustParse(t, "DEL", "a", "b")
	assert.Equal(t, resp.Integer(1), Execute(delCmd, db, fakeInfo{}))
	assert.True(t, delCmd.IsPropagated())

	existsCmd := mustParse(t, "EXISTS", "a")
	assert.Equal(t, resp.Integer(0), Execute(existsCmd, db, fakeInfo{}))
	assert.False(t, existsCmd.IsPropagated())
}

func TestXaddRejectsNonIncreasingID(t *testing.T) {
	db := store.New()
	Execute(mustParse(t, "XADD", "s", "5-0", "f", "v"), db, fakeInfo{})
	reply := Execute(mustParse(t, "XADD", "s", "5-0", "f", "v"), db, fakeInfo{})
	require.Equal(t, resp.KindSimpleError, reply.Kind)
	assert.Contains(t, reply.Str, "equal or smaller")
}

func TestXaddRejectsZeroIDOnEmptyStream(t *testing.T) {
	db := store.New()
	reply := Execute(mustParse(t, "XADD", "s", "0-0", "f", "v"), db, fakeInfo{})
	require.Equal(t, resp.KindSimpleError, reply.Kind)
	assert.Contains(t, reply.Str, "greater than 0-0")
}

func TestConfigGetUnknownParam(t *testing.T) {
	c := mustParse(t, "CONFIG", "GET", "maxmemory")
	reply := Execute(c, store.New(), fakeInfo{params: map[string]string{"dir": "/tmp"}})
	assert.Equal(t, resp.KindSimpleError, reply.Kind)
}

func TestConfigGetKnownParam(t *testing.T) {
	c := mustParse(t, "CONFIG", "GET", "dir")
	reply := Execute(c, store.New(), fakeInfo{params: map[string]string{"dir": "/tmp"}})
	assert.Equal(t, arrayOf("dir", "/tmp"), reply)
}

func TestXreadPositionalPairing(t *testing.T) {
	db := store.New()
	Execute(mustParse(t, "XADD", "s", "5-0", "f", "v"), db, fakeInfo{})

	c, ok := Parse(arrayOf("XREAD", "STREAMS", "s", "4-0"))
	require.True(t, ok)
	require.Equal(t, KindXread, c.Kind)

	reply := Execute(c, db, fakeInfo{})
	require.Equal(t, resp.KindArray, reply.Kind)
	require.Len(t, reply.Array, 1)
}

func TestXreadIgnoresOptionsBeforeStreams(t *testing.T) {
	c, ok := Parse(arrayOf("XREAD", "COUNT", "2", "STREAMS", "s1", "s2", "0-0", "1-0"))
	require.True(t, ok)
	assert.Equal(t, []string{"s1", "s2"}, c.XStreams)
	assert.Equal(t, []string{"0-0", "1-0"}, c.XIDs)
}

func TestUnknownCommandFailsParse(t *testing.T) {
	_, ok := Parse(arrayOf("NOTACOMMAND"))
	assert.False(t, ok)
}

func mustParse(t *testing.T, parts ...string) Command {
	t.Helper()
	c, ok := Parse(arrayOf(parts...))
	require.True(t, ok)
	return c
}
