package rdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvrelay/kvrelay/internal/store"
)

// buildSnapshot assembles a minimal RDB byte stream by hand, mirroring
// the structure of the annotated hex dump in
// original_source/apps/redis-clone/src/rdb.rs.
func buildSnapshot(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	buf.WriteString("REDIS")
	buf.WriteString("0011")

	// Auxiliary field: "redis-ver" -> "7.2.5"
	buf.WriteByte(opAux)
	writeShortString(&buf, "redis-ver")
	writeShortString(&buf, "7.2.5")

	// Database selector 0.
	buf.WriteByte(opSelectDB)
	buf.Write([]byte{0, 0, 0, 0})

	// Resize hint: two 6-bit lengths.
	buf.WriteByte(opResizeDB)
	buf.WriteByte(2)
	buf.WriteByte(1)

	// Plain KV pair: mango -> juice
	buf.WriteByte(0x00)
	writeShortString(&buf, "mango")
	writeShortString(&buf, "juice")

	// Expired KV pair (1ms absolute expiry, already in the past): pear -> gone
	buf.WriteByte(opExpiryMs)
	buf.Write([]byte{1, 0, 0, 0, 0, 0, 0, 0}) // ms=1, little-endian
	buf.WriteByte(0x00)                       // value type
	writeShortString(&buf, "pear")
	writeShortString(&buf, "gone")

	// End of file + 8-byte checksum (unchecked).
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	return buf.Bytes()
}

func writeShortString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s))) // top bits 00 => 6-bit length
	buf.WriteString(s)
}

func TestLoadSnapshot(t *testing.T) {
	db := store.New()
	err := Load(bytes.NewReader(buildSnapshot(t)), db)
	require.NoError(t, err)

	v, ok := db.Get("mango")
	require.True(t, ok)
	assert.Equal(t, "juice", string(v))

	_, ok = db.Get("pear")
	assert.False(t, ok, "expired key from snapshot must not be visible")
}

func TestLoadRejectsBadHeader(t *testing.T) {
	db := store.New()
	err := Load(bytes.NewReader([]byte("NOTRDB0011")), db)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}
