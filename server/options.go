// File: server/options.go
// Package server defines functional options for the Service.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/momentics/hioload-talk/internal/transport"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/room"
)

const (
	DefaultAcceptBacklog  = 100
	DefaultRecvBufferUnit = 0x2000
	MaxNicknameLength     = 32
)

// Config sizes the listener and per-session buffers.
type Config struct {
	Addr           string
	AcceptBacklog  int
	RecvBufferUnit int
	Socket         transport.Options
	DialTimeout    time.Duration
}

// DefaultConfig returns a Config with every field populated.
func DefaultConfig() Config {
	return Config{
		Addr:           ":7777",
		AcceptBacklog:  DefaultAcceptBacklog,
		RecvBufferUnit: DefaultRecvBufferUnit,
		Socket:         transport.DefaultOptions(),
		DialTimeout:    5 * time.Second,
	}
}

// Observer receives service-level telemetry.
type Observer interface {
	SessionOpened()
	SessionClosed(cause string)
	BytesReceived(n int)
	BytesSent(n int)
	PacketHandled(id protocol.MessageID, ok bool)
}

type noopObserver struct{}

func (noopObserver) SessionOpened()                         {}
func (noopObserver) SessionClosed(string)                   {}
func (noopObserver) BytesReceived(int)                      {}
func (noopObserver) BytesSent(int)                          {}
func (noopObserver) PacketHandled(protocol.MessageID, bool) {}

// Option customizes service initialization.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithHandler sets the packet handler.
func WithHandler(h PacketHandler) Option {
	return func(s *Service) { s.handler = h }
}

// WithObserver attaches telemetry.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.obs = o }
}

// WithRoomOptions forwards options to the room manager.
func WithRoomOptions(opts ...room.ManagerOption) Option {
	return func(s *Service) { s.roomOpts = append(s.roomOpts, opts...) }
}

// WithConnectHook runs after a session becomes connected.
func WithConnectHook(fn func(*Session)) Option {
	return func(s *Service) { s.onConnect = fn }
}

// WithConnConfigurer replaces the socket setup applied to accepted and
// dialed connections. It returns the peer address, or an error that makes
// the listener discard the connection.
func WithConnConfigurer(fn func(net.Conn) (*net.TCPAddr, error)) Option {
	return func(s *Service) { s.configure = fn }
}
