// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent listener and connection helpers.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// ErrNoHandle is returned for connections without an OS socket.
var ErrNoHandle = errors.New("transport: connection has no OS handle")

// Options are applied to every accepted or dialed connection.
type Options struct {
	NoDelay   bool
	KeepAlive time.Duration
}

// DefaultOptions mirrors what the listening socket is configured with.
func DefaultOptions() Options {
	return Options{NoDelay: true, KeepAlive: 30 * time.Second}
}

// Listen opens a TCP listener with SO_REUSEADDR set before bind.
func Listen(ctx context.Context, addr string) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) { serr = setReuseAddr(fd) }); err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return ln.(*net.TCPListener), nil
}

// Configure applies opts to conn.
func Configure(conn net.Conn, opts Options) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("transport: configure %T: not a TCP connection", conn)
	}
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("transport: set nodelay: %w", err)
	}
	if opts.KeepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return fmt.Errorf("transport: set keepalive: %w", err)
		}
		if err := tc.SetKeepAlivePeriod(opts.KeepAlive); err != nil {
			return fmt.Errorf("transport: set keepalive period: %w", err)
		}
	}
	return nil
}

// PeerAddr resolves the remote address of conn.
func PeerAddr(conn net.Conn) (*net.TCPAddr, error) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok || addr == nil {
		return nil, fmt.Errorf("transport: peer address of %T unavailable", conn)
	}
	return addr, nil
}

// Handle extracts the OS socket handle of conn.
func Handle(conn any) (uintptr, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, ErrNoHandle
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("transport: syscall conn: %w", err)
	}
	var h uintptr
	if err := raw.Control(func(fd uintptr) { h = fd }); err != nil {
		return 0, fmt.Errorf("transport: control: %w", err)
	}
	if h == 0 {
		return 0, ErrNoHandle
	}
	return h, nil
}
