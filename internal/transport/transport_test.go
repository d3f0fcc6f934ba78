//go:build !windows

package transport_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-talk/internal/transport"
)

func TestListenConfigureAndHandle(t *testing.T) {
	ln, err := transport.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	h, err := transport.Handle(ln)
	require.NoError(t, err)
	assert.NotZero(t, h)

	reuse, err := getsockopt(ln, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.NotZero(t, reuse)

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	require.NoError(t, transport.Configure(server, transport.DefaultOptions()))
	peer, err := transport.PeerAddr(server)
	require.NoError(t, err)
	assert.Equal(t, client.LocalAddr().String(), peer.String())

	sh, err := transport.Handle(server)
	require.NoError(t, err)
	assert.NotEqual(t, h, sh)
}

func TestHandleWithoutSocket(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := transport.Handle(a)
	assert.ErrorIs(t, err, transport.ErrNoHandle)
	assert.Error(t, transport.Configure(a, transport.DefaultOptions()))
}

func TestIsConnectionFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"reset", &net.OpError{Op: "read", Err: unix.ECONNRESET}, true},
		{"aborted", unix.ECONNABORTED, true},
		{"pipe", unix.EPIPE, true},
		{"other", errors.New("mystery"), false},
		{"einval", unix.EINVAL, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transport.IsConnectionFatal(tc.err))
		})
	}
}

func getsockopt(ln *net.TCPListener, level, opt int) (int, error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return 0, err
	}
	var v int
	var serr error
	if err := raw.Control(func(fd uintptr) { v, serr = unix.GetsockoptInt(int(fd), level, opt) }); err != nil {
		return 0, err
	}
	return v, serr
}
