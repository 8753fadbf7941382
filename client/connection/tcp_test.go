package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/srvmon/client/description"
)

// listen starts a TCP server on localhost running handle for each
// connection. The listener is closed when the test ends.
func listen(t *testing.T, handle func(net.Conn)) (description.Address, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})

	return description.Address(ln.Addr().String()), ln
}

func echo(conn net.Conn) {
	io.Copy(conn, conn)
}

var testConfig = Config{
	ConnectTimeout: 2 * time.Second,
	SocketTimeout:  2 * time.Second,
}

func TestTCPPing(t *testing.T) {
	addr, _ := listen(t, echo)
	c := NewTCP(addr, testConfig)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	for i := 0; i < 3; i++ {
		assert.NoError(t, c.Ping(ctx))
	}

	// closing is fine more than once and the next ping reconnects
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Ping(ctx))
	assert.Equal(t, addr, c.Address())
}

func TestTCPPingMismatch(t *testing.T) {
	addr, _ := listen(t, func(conn net.Conn) {
		buf := make([]byte, 8)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write([]byte("12345678"))
	})

	c := NewTCP(addr, testConfig)
	defer c.Close()

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEchoMismatch)

	var perr *ProbeError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ping", perr.Op)
	assert.Equal(t, addr, perr.Address)
}

func TestTCPPingRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := description.Address(ln.Addr().String())
	ln.Close()

	c := NewTCP(addr, testConfig)
	err = c.Ping(context.Background())
	require.Error(t, err)

	var perr *ProbeError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "dial", perr.Op)
}

func TestTCPPingCancel(t *testing.T) {
	addr, _ := listen(t, func(conn net.Conn) {
		// read and never answer
		io.Copy(io.Discard, conn)
	})

	c := NewTCP(addr, Config{ConnectTimeout: time.Second, SocketTimeout: time.Minute})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := c.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTCPPingSocketTimeout(t *testing.T) {
	addr, _ := listen(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	c := NewTCP(addr, Config{ConnectTimeout: time.Second, SocketTimeout: 100 * time.Millisecond})
	defer c.Close()

	err := c.Ping(context.Background())
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestNewConnection(t *testing.T) {
	c, err := New(KindTCP, "a:1", testConfig)
	require.NoError(t, err)
	assert.IsType(t, &TCP{}, c)

	c, err = New(KindNTP, "a:123", testConfig)
	require.NoError(t, err)
	assert.IsType(t, &NTP{}, c)

	_, err = New("smoke-signal", "a:1", testConfig)
	assert.Error(t, err)
}
