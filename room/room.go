// File: room/room.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Room membership and broadcast.

package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-talk/pool"
)

// Member is a non-owning reference to a logged-in user.
type Member struct {
	UserID    uint64
	Nickname  string
	SessionID uuid.UUID
}

// Sender is the outbound side of a connection.
type Sender interface {
	Send(buf *pool.SendBuffer)
}

// Directory resolves session ids to live connections.
type Directory interface {
	Lookup(id uuid.UUID) (Sender, bool)
}

// Room is a capacity-bounded set of members.
type Room struct {
	id        uint64
	name      string
	hostID    uint64
	maxUsers  int
	createdAt time.Time

	mu      sync.RWMutex
	members map[uint64]Member
}

func newRoom(id uint64, name string, host Member, maxUsers int) *Room {
	return &Room{
		id:        id,
		name:      name,
		hostID:    host.UserID,
		maxUsers:  maxUsers,
		createdAt: time.Now(),
		members:   map[uint64]Member{host.UserID: host},
	}
}

func (r *Room) ID() uint64           { return r.id }
func (r *Room) Name() string         { return r.name }
func (r *Room) HostID() uint64       { return r.hostID }
func (r *Room) MaxUsers() int        { return r.maxUsers }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Count returns the current occupancy.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Has reports whether userID is a member.
func (r *Room) Has(userID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok
}

// Members returns the members ordered by user id.
func (r *Room) Members() []Member {
	r.mu.RLock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Broadcast sends buf to every member. It returns the number of live
// connections reached.
func (r *Room) Broadcast(buf *pool.SendBuffer, dir Directory) int {
	return r.broadcast(buf, dir, 0)
}

// BroadcastExcept sends buf to every member but userID.
func (r *Room) BroadcastExcept(buf *pool.SendBuffer, dir Directory, userID uint64) int {
	return r.broadcast(buf, dir, userID)
}

func (r *Room) broadcast(buf *pool.SendBuffer, dir Directory, skip uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for id, m := range r.members {
		if id == skip {
			continue
		}
		if s, ok := dir.Lookup(m.SessionID); ok {
			s.Send(buf)
			sent++
		}
	}
	return sent
}

func (r *Room) enter(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.UserID]; ok {
		return ErrAlreadyInRoom
	}
	if len(r.members) >= r.maxUsers {
		return ErrRoomFull
	}
	r.members[m.UserID] = m
	return nil
}

// leave removes userID and returns the remaining occupancy.
func (r *Room) leave(userID uint64) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[userID]; !ok {
		return len(r.members), false
	}
	delete(r.members, userID)
	return len(r.members), true
}
