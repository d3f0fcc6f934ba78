//go:build !windows
// +build !windows

// internal/transport/transport_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setReuseAddr(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("transport: SO_REUSEADDR: %w", err)
	}
	return nil
}

var fatalErrnos = []error{
	unix.ECONNRESET,
	unix.ECONNABORTED,
	unix.EPIPE,
	unix.ENOTCONN,
	unix.ESHUTDOWN,
	unix.ETIMEDOUT,
	unix.EHOSTUNREACH,
	unix.ENETUNREACH,
}
