package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetTTL(t *testing.T) {
	s := New()
	ttl := 100 * time.Millisecond
	s.Set("k", []byte("v"), &ttl)

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	time.Sleep(150 * time.Millisecond)
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestSetOverwritesUnconditionally(t *testing.T) {
	s := New()
	s.Set("k", []byte("v1"), nil)
	s.Set("k", []byte("v2"), nil)

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestKeysOmitsExpired(t *testing.T) {
	s := New()
	ttl := time.Millisecond
	s.Set("gone", []byte("v"), &ttl)
	s.Set("stays", []byte("v"), nil)

	time.Sleep(20 * time.Millisecond)
	assert.ElementsMatch(t, []string{"stays"}, s.Keys())
}

func TestValueType(t *testing.T) {
	s := New()
	s.Set("str", []byte("v"), nil)
	_, err := s.Xadd("str_stream", "*", []byte("f"), []byte("v"))
	require.NoError(t, err)

	assert.Equal(t, "string", s.ValueType("str"))
	assert.Equal(t, "stream", s.ValueType("str_stream"))
	assert.Equal(t, "none", s.ValueType("missing"))
}

func TestDelAndExists(t *testing.T) {
	s := New()
	s.Set("a", []byte("1"), nil)
	s.Set("b", []byte("2"), nil)

	assert.Equal(t, 2, s.Exists("a", "b", "c"))
	assert.Equal(t, 2, s.Del("a", "b", "c"))
	assert.Equal(t, 0, s.Exists("a", "b"))
	assert.Equal(t, 0, s.Del("a"))
}

func TestXaddMonotonicity(t *testing.T) {
	s := New()
	id, err := s.Xadd("s", "5-0", []byte("f"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, "5-0", id.String())

	_, err = s.Xadd("s", "5-0", []byte("f"), []byte("v"))
	assert.ErrorIs(t, err, ErrIDNotIncreasing)

	id2, err := s.Xadd("s", "5-*", []byte("f"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, "5-1", id2.String())

	id3, err := s.Xadd("s", "*", []byte("f"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id3.Ms)
	assert.Equal(t, uint64(2), id3.Seq)
}

func TestXaddAutoGenOnEmptyStream(t *testing.T) {
	s := New()
	id, err := s.Xadd("s", "*", []byte("f"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id.Seq)
	assert.Greater(t, id.Ms, uint64(0))
}

func TestXaddSeqWildcardOnNewStreamMsZero(t *testing.T) {
	s := New()
	id, err := s.Xadd("s", "0-*", []byte("f"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, "0-1", id.String())
}

func TestXrangeInclusiveBounds(t *testing.T) {
	s := New()
	_, err := s.Xadd("s", "1-1", []byte("f"), []byte("a"))
	require.NoError(t, err)
	_, err = s.Xadd("s", "2-1", []byte("f"), []byte("b"))
	require.NoError(t, err)
	_, err = s.Xadd("s", "3-1", []byte("f"), []byte("c"))
	require.NoError(t, err)

	ids, entries, err := s.Xrange("s", "-", "+", nil)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, []byte("a"), entries[0].Value)

	ids, _, err = s.Xrange("s", "2-1", "2-1", nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "2-1", ids[0].String())

	limit := 2
	ids, _, err = s.Xrange("s", "-", "+", &limit)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestXreadInclusive(t *testing.T) {
	s := New()
	id1, err := s.Xadd("s", "5-0", []byte("f"), []byte("first"))
	require.NoError(t, err)
	_, err = s.Xadd("s", "6-0", []byte("f"), []byte("second"))
	require.NoError(t, err)

	gotID, entry, ok := s.Xread("s", id1.String())
	require.True(t, ok)
	assert.Equal(t, id1, gotID)
	assert.Equal(t, []byte("first"), entry.Value)
}

func TestSnapshotIngestDropsPastExpiry(t *testing.T) {
	s := New()
	past := time.Now().Add(-time.Hour)
	s.SetAbsolute("old", []byte("gone"), &past)
	s.SetAbsolute("fresh", []byte("here"), nil)

	_, ok := s.Get("old")
	assert.False(t, ok)
	v, ok := s.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, []byte("here"), v)
}
