//go:build windows
// +build windows

// internal/transport/transport_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func setReuseAddr(fd uintptr) error {
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("transport: SO_REUSEADDR: %w", err)
	}
	return nil
}

var fatalErrnos = []error{
	windows.WSAECONNRESET,
	windows.WSAECONNABORTED,
	windows.WSAESHUTDOWN,
	windows.WSAENOTCONN,
	windows.WSAETIMEDOUT,
	windows.ERROR_NETNAME_DELETED,
	windows.ERROR_CONNECTION_ABORTED,
}
