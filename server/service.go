// File: server/service.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Service owns the session registry, the nickname registry, user id
// allocation and the room manager.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/internal/session"
	"github.com/momentics/hioload-talk/internal/transport"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/room"
)

// Service is the server-side hub every session reports to.
type Service struct {
	cfg       Config
	log       *slog.Logger
	port      *reactor.Port
	chunks    *pool.ChunkPool
	handler   PacketHandler
	obs       Observer
	roomOpts  []room.ManagerOption
	onConnect func(*Session)
	rooms     *room.Manager

	sessions *session.Store[*Session]

	nickMu    sync.Mutex
	nicknames map[string]uuid.UUID

	nextUserID atomic.Uint64

	// configure is applied to every accepted connection before it is
	// handed to a session.
	configure func(net.Conn) (*net.TCPAddr, error)
	// wrapConn, when set, decorates the conn after its handle is taken.
	wrapConn func(net.Conn) net.Conn

	mu       sync.Mutex
	listener *Listener
	closed   atomic.Bool
	started  time.Time
}

// NewService wires a service onto port and chunks.
func NewService(port *reactor.Port, chunks *pool.ChunkPool, opts ...Option) *Service {
	s := &Service{
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		port:      port,
		chunks:    chunks,
		obs:       noopObserver{},
		sessions:  session.NewStore[*Session](0),
		nicknames: make(map[string]uuid.UUID),
		started:   time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handler == nil {
		s.handler = PacketHandlerFunc(func(*reactor.Worker, *Session, protocol.MessageID, []byte) bool { return false })
	}
	if s.cfg.AcceptBacklog <= 0 {
		s.cfg.AcceptBacklog = DefaultAcceptBacklog
	}
	if s.cfg.RecvBufferUnit <= 0 {
		s.cfg.RecvBufferUnit = DefaultRecvBufferUnit
	}
	s.log = s.log.With("component", "service")
	if s.configure == nil {
		s.configure = func(c net.Conn) (*net.TCPAddr, error) {
			if err := transport.Configure(c, s.cfg.Socket); err != nil {
				return nil, err
			}
			return transport.PeerAddr(c)
		}
	}
	s.rooms = room.NewManager(s, append([]room.ManagerOption{room.WithLogger(s.log)}, s.roomOpts...)...)
	return s
}

func (s *Service) Port() *reactor.Port     { return s.port }
func (s *Service) Chunks() *pool.ChunkPool { return s.chunks }
func (s *Service) Rooms() *room.Manager    { return s.rooms }
func (s *Service) Config() Config          { return s.cfg }
func (s *Service) Logger() *slog.Logger    { return s.log }

// SetHandler installs the packet handler. It must be called before Start.
func (s *Service) SetHandler(h PacketHandler) { s.handler = h }

// Start opens the listener and pre-posts its accept pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}
	l := newListener(s, s.cfg.AcceptBacklog)
	if err := l.Start(ctx, s.cfg.Addr); err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenerStats reports accept counters, or nil before Start.
func (s *Service) ListenerStats() map[string]int64 {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Stats()
}

// Connect dials addr asynchronously and returns the pending session.
func (s *Service) Connect(addr string) (*Session, error) {
	if s.closed.Load() {
		return nil, reactor.ErrClosed
	}
	sess := s.CreateSession()
	if err := sess.postConnect(addr, s.cfg.DialTimeout); err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateSession allocates a session that is not yet connected.
func (s *Service) CreateSession() *Session {
	return newSession(s)
}

// AddSession registers a connected session.
func (s *Service) AddSession(sess *Session) error {
	if !s.sessions.Insert(sess.id, sess) {
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.id)
	}
	return nil
}

// ReleaseSession removes a session during teardown.
func (s *Service) ReleaseSession(sess *Session) {
	if !s.sessions.Delete(sess.id) {
		api.Invariant("release of unregistered session %s", sess.id)
	}
}

// Session returns a registered session.
func (s *Service) Session(id uuid.UUID) (*Session, bool) {
	return s.sessions.Get(id)
}

// SessionCount returns the number of registered sessions.
func (s *Service) SessionCount() int { return s.sessions.Len() }

// Lookup implements room.Directory. Only connected sessions resolve.
func (s *Service) Lookup(id uuid.UUID) (room.Sender, bool) {
	sess, ok := s.sessions.Get(id)
	if !ok || !sess.IsConnected() {
		return nil, false
	}
	return sess, true
}

// IsNicknameTaken reports whether nick is reserved.
func (s *Service) IsNicknameTaken(nick string) bool {
	s.nickMu.Lock()
	defer s.nickMu.Unlock()
	_, ok := s.nicknames[nick]
	return ok
}

// ReserveNickname atomically claims nick for owner.
func (s *Service) ReserveNickname(nick string, owner uuid.UUID) bool {
	s.nickMu.Lock()
	defer s.nickMu.Unlock()
	if _, ok := s.nicknames[nick]; ok {
		return false
	}
	s.nicknames[nick] = owner
	return true
}

// ReleaseNickname frees nick.
func (s *Service) ReleaseNickname(nick string) {
	s.nickMu.Lock()
	delete(s.nicknames, nick)
	s.nickMu.Unlock()
}

// Login creates the session's user under a unique nickname.
func (s *Service) Login(sess *Session, nick string) (*User, error) {
	nick = strings.TrimSpace(nick)
	if nick == "" || utf8.RuneCountInString(nick) > MaxNicknameLength {
		return nil, ErrInvalidNickname
	}
	if sess.User() != nil {
		return nil, ErrAlreadyLoggedIn
	}
	if !s.ReserveNickname(nick, sess.id) {
		return nil, ErrNicknameTaken
	}
	u := newUser(s.nextUserID.Add(1), nick, sess.id)
	if !sess.user.CompareAndSwap(nil, u) {
		s.ReleaseNickname(nick)
		return nil, ErrAlreadyLoggedIn
	}
	sess.log.Info("user logged in", "user_id", u.id, "nickname", nick)
	return u, nil
}

// releaseUser undoes Login during teardown.
func (s *Service) releaseUser(w *reactor.Worker, u *User) {
	if _, err := s.rooms.LeaveRoom(w.Chunks, u); err != nil {
		s.log.Warn("leave room on teardown failed", "user_id", u.id, "error", err)
	}
	s.ReleaseNickname(u.nickname)
	s.log.Debug("user logged out", "user_id", u.id, "nickname", u.nickname, "online", time.Since(u.LoginAt()))
}

// Stats returns a registry snapshot.
func (s *Service) Stats() api.ServiceStats {
	users := 0
	for _, sess := range s.sessions.Snapshot() {
		if sess.User() != nil {
			users++
		}
	}
	s.nickMu.Lock()
	nicks := len(s.nicknames)
	s.nickMu.Unlock()
	return api.ServiceStats{
		Sessions:  s.sessions.Len(),
		Users:     users,
		Rooms:     s.rooms.Len(),
		Nicknames: nicks,
	}
}

// Info describes the running service.
func (s *Service) Info(name, version string) api.ServiceInfo {
	return api.ServiceInfo{Name: name, Version: version, StartedAt: s.started}
}

// Shutdown stops accepting, disconnects every session and waits for their
// teardown until ctx ends. The port stays open so teardown can complete.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		if err := l.Close(); err != nil {
			s.log.Warn("listener close failed", "error", err)
		}
	}
	for _, sess := range s.sessions.Snapshot() {
		sess.Disconnect(ErrShutdown)
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for s.sessions.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("server: shutdown with %d sessions left: %w", s.sessions.Len(), ctx.Err())
		case <-tick.C:
		}
	}
	s.log.Info("service stopped")
	return nil
}
