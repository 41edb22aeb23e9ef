package netconn

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvrelay/kvrelay/internal/resp"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := New(serverSide)
	client := New(clientSide)

	go server.Write(resp.BulkString([]byte("hello")))

	v, n, err := client.Read()
	require.NoError(t, err)
	assert.Equal(t, resp.BulkString([]byte("hello")), v)
	assert.Equal(t, resp.Size(v), n)
}

func TestSplitAllowsIndependentHalves(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := New(serverSide)
	client := New(clientSide)

	read, write := server.Split()
	go write.Write(resp.SimpleString("OK"))

	v, _, err := client.Read()
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("OK"), v)

	go client.Write(resp.SimpleString("PONG"))
	v2, _, err := read.Read()
	require.NoError(t, err)
	assert.Equal(t, resp.SimpleString("PONG"), v2)
}

func TestReadSurfacesResetOnClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()
	serverConn := <-accepted

	client := New(clientConn)
	serverConn.Close()

	_, _, err = client.Read()
	assert.ErrorIs(t, err, ErrResetByPeer)
}

func TestTwoConnectionsHaveDistinctIDs(t *testing.T) {
	s1, c1 := net.Pipe()
	s2, c2 := net.Pipe()
	defer s1.Close()
	defer c1.Close()
	defer s2.Close()
	defer c2.Close()

	a := New(s1)
	b := New(s2)
	assert.NotEqual(t, a.ID(), b.ID())
}
