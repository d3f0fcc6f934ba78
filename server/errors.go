// File: server/errors.go
// Author: momentics <momentics@gmail.com>

package server

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/pool"
)

var (
	ErrSessionExists   = fmt.Errorf("server: session %w", api.ErrAlreadyExists)
	ErrNicknameTaken   = fmt.Errorf("server: nickname %w", api.ErrAlreadyExists)
	ErrInvalidNickname = fmt.Errorf("server: nickname: %w", api.ErrInvalidArgument)
	ErrAlreadyLoggedIn = errors.New("server: session already logged in")
	ErrAlreadyStarted  = errors.New("server: already started")

	// Disconnect causes.
	ErrPeerClosed    = errors.New("peer closed connection")
	ErrZeroByteSend  = errors.New("zero-byte send completion")
	ErrFrameTooLarge = errors.New("frame larger than receive buffer")
	ErrHandlerPanic  = errors.New("packet handler panic")
	ErrShutdown      = errors.New("server shutting down")
)

// causeLabel maps a disconnect cause onto a small label set for metrics.
func causeLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrHandlerPanic):
		return "handler_panic"
	case errors.Is(err, ErrFrameTooLarge), isFramingError(err):
		return "framing"
	case errors.Is(err, ErrZeroByteSend):
		return "zero_send"
	case errors.Is(err, api.ErrResourceExhausted):
		return "pool_exhausted"
	case errors.Is(err, pool.ErrBufferTooLarge):
		return "oversize"
	default:
		return "io_error"
	}
}
