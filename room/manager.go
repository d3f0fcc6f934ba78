// File: room/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry of rooms and the membership operations that span it.

package room

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/pool"
)

const (
	DefaultMaxUsers  = 5
	DefaultUserLimit = 100
	MaxNameLength    = 64
)

// Occupant is a logged-in user as seen by the room layer.
type Occupant interface {
	Member() Member
	RoomID() uint64
	SetRoomID(id uint64)
}

// Notices builds the membership notifications sent to the other members.
type Notices interface {
	JoinNotice(cache *pool.ChunkCache, m Member) (*pool.SendBuffer, error)
	LeaveNotice(cache *pool.ChunkCache, m Member) (*pool.SendBuffer, error)
}

// Manager owns all rooms.
type Manager struct {
	mu     sync.Mutex
	rooms  map[uint64]*Room
	nextID uint64

	dir          Directory
	notices      Notices
	defaultMax   int
	limit        int
	log          *slog.Logger
	onRoomsCount func(n int)
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDefaultMaxUsers sets the capacity used when a request names none.
func WithDefaultMaxUsers(n int) ManagerOption {
	return func(m *Manager) { m.defaultMax = n }
}

// WithUserLimit caps the capacity a room may request.
func WithUserLimit(n int) ManagerOption {
	return func(m *Manager) { m.limit = n }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithNotices sets the notice builder.
func WithNotices(n Notices) ManagerOption {
	return func(m *Manager) { m.notices = n }
}

// WithRoomsObserver is called with the room count after every change.
func WithRoomsObserver(fn func(n int)) ManagerOption {
	return func(m *Manager) { m.onRoomsCount = fn }
}

// NewManager creates an empty registry. Ids start at 1.
func NewManager(dir Directory, opts ...ManagerOption) *Manager {
	m := &Manager{
		rooms:      make(map[uint64]*Room),
		dir:        dir,
		defaultMax: DefaultMaxUsers,
		limit:      DefaultUserLimit,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "rooms")
	return m
}

// SetNotices installs the notice builder after construction.
func (m *Manager) SetNotices(n Notices) {
	m.mu.Lock()
	m.notices = n
	m.mu.Unlock()
}

// CreateRoom opens a room with host as its first member.
func (m *Manager) CreateRoom(host Occupant, name string, maxUsers int) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if maxUsers == 0 {
		maxUsers = m.defaultMax
	}
	if maxUsers < 1 || maxUsers > m.limit {
		return nil, fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidCapacity, maxUsers, m.limit)
	}
	if host.RoomID() != 0 {
		return nil, ErrAlreadyInRoom
	}

	member := host.Member()
	m.mu.Lock()
	m.nextID++
	r := newRoom(m.nextID, name, member, maxUsers)
	m.rooms[r.id] = r
	host.SetRoomID(r.id)
	n := len(m.rooms)
	m.mu.Unlock()

	m.observe(n)
	m.log.Info("room created", "room_id", r.id, "name", name, "max_users", maxUsers, "host", member.UserID)
	return r, nil
}

// EnterRoom adds u to room id and notifies the members already inside.
func (m *Manager) EnterRoom(cache *pool.ChunkCache, u Occupant, id uint64) (*Room, error) {
	if u.RoomID() != 0 {
		return nil, ErrAlreadyInRoom
	}
	member := u.Member()

	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if err := r.enter(member); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	u.SetRoomID(id)
	notices := m.notices
	m.mu.Unlock()

	m.log.Debug("room entered", "room_id", id, "user_id", member.UserID)
	if notices != nil {
		buf, err := notices.JoinNotice(cache, member)
		if err != nil {
			m.log.Warn("join notice dropped", "room_id", id, "error", err)
			return r, nil
		}
		r.BroadcastExcept(buf, m.dir, member.UserID)
		buf.Release()
	}
	return r, nil
}

// LeaveRoom removes u from its room. The room is removed in the same
// critical section once it is empty; otherwise the remaining members are
// notified. It returns the id of the room left, or 0.
func (m *Manager) LeaveRoom(cache *pool.ChunkCache, u Occupant) (uint64, error) {
	id := u.RoomID()
	if id == 0 {
		return 0, nil
	}
	member := u.Member()

	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		api.Invariant("user %d refers to missing room %d", member.UserID, id)
	}
	remaining, ok := r.leave(member.UserID)
	if !ok {
		m.mu.Unlock()
		api.Invariant("user %d not a member of room %d it refers to", member.UserID, id)
	}
	u.SetRoomID(0)
	if remaining == 0 {
		m.closeRoomLocked(id)
	}
	n := len(m.rooms)
	notices := m.notices
	m.mu.Unlock()

	if remaining == 0 {
		m.observe(n)
		m.log.Info("room closed", "room_id", id)
		return id, nil
	}
	m.log.Debug("room left", "room_id", id, "user_id", member.UserID, "remaining", remaining)
	if notices != nil {
		buf, err := notices.LeaveNotice(cache, member)
		if err != nil {
			m.log.Warn("leave notice dropped", "room_id", id, "error", err)
			return id, nil
		}
		r.Broadcast(buf, m.dir)
		buf.Release()
	}
	return id, nil
}

// closeRoomLocked drops id from the registry. Caller holds m.mu.
func (m *Manager) closeRoomLocked(id uint64) {
	if _, ok := m.rooms[id]; !ok {
		api.Invariant("close of unknown room %d", id)
	}
	delete(m.rooms, id)
}

// Room looks up a room by id.
func (m *Manager) Room(id uint64) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms returns all rooms ordered by id.
func (m *Manager) Rooms() []*Room {
	m.mu.Lock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of open rooms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Stats reports registry counters for debug probes.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := 0
	for _, r := range m.rooms {
		members += r.Count()
	}
	return map[string]int{
		"rooms":   len(m.rooms),
		"members": members,
		"next_id": int(m.nextID) + 1,
	}
}

func (m *Manager) observe(n int) {
	if m.onRoomsCount != nil {
		m.onRoomsCount(n)
	}
}
