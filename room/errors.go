// File: room/errors.go
// Author: momentics <momentics@gmail.com>

package room

import (
	"fmt"

	"github.com/momentics/hioload-talk/api"
)

var (
	ErrRoomNotFound    = fmt.Errorf("room: %w", api.ErrNotFound)
	ErrRoomFull        = fmt.Errorf("room: full: %w", api.ErrResourceExhausted)
	ErrAlreadyInRoom   = fmt.Errorf("room: user already in a room: %w", api.ErrAlreadyExists)
	ErrInvalidName     = fmt.Errorf("room: invalid name: %w", api.ErrInvalidArgument)
	ErrInvalidCapacity = fmt.Errorf("room: invalid capacity: %w", api.ErrInvalidArgument)
)
