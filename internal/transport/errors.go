// File: internal/transport/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Classification of socket errors.

package transport

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsConnectionFatal reports whether err ends the stream for one peer only:
// orderly close, peer reset or abort, local close, or timeout.
func IsConnectionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for _, e := range fatalErrnos {
		if errors.Is(err, e) {
			return true
		}
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
