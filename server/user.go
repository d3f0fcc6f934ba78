// File: server/user.go
// Author: momentics <momentics@gmail.com>

package server

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-talk/room"
)

// User is the logged-in identity of one session. The session owns it; the
// user refers back only by session id.
type User struct {
	id        uint64
	nickname  string
	sessionID uuid.UUID
	loginAt   time.Time
	room      atomic.Uint64
}

func newUser(id uint64, nickname string, sessionID uuid.UUID) *User {
	return &User{id: id, nickname: nickname, sessionID: sessionID, loginAt: time.Now()}
}

func (u *User) ID() uint64           { return u.id }
func (u *User) Nickname() string     { return u.nickname }
func (u *User) SessionID() uuid.UUID { return u.sessionID }
func (u *User) LoginAt() time.Time   { return u.loginAt }

// Member implements room.Occupant.
func (u *User) Member() room.Member {
	return room.Member{UserID: u.id, Nickname: u.nickname, SessionID: u.sessionID}
}

// RoomID returns the current room, or 0.
func (u *User) RoomID() uint64 { return u.room.Load() }

// SetRoomID implements room.Occupant.
func (u *User) SetRoomID(id uint64) { u.room.Store(id) }
