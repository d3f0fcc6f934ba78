// File: server/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine: Created, Connected, Disconnecting, Closed.

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/internal/transport"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
)

// PacketHandler decodes and handles one framed message. body aliases the
// receive buffer and is only valid for the duration of the call. Returning
// false marks the message as malformed; the session stays connected unless
// the handler disconnects it.
type PacketHandler interface {
	HandlePacket(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool

func (f PacketHandlerFunc) HandlePacket(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool {
	return f(w, s, id, body)
}

// Session is one client connection. A receive and a send completion for the
// same session may run on two workers at once; the outbound queue is guarded
// by sendMu and the in-flight flag is atomic.
type Session struct {
	id  uuid.UUID
	svc *Service
	log *slog.Logger

	conn   net.Conn
	handle uintptr
	remote *net.TCPAddr
	dialed net.Conn

	state     atomic.Int32
	connected atomic.Bool

	connectOp *reactor.Operation
	recvOp    *reactor.Operation
	sendOp    *reactor.Operation
	discOp    *reactor.Operation

	recv *pool.RecvBuffer

	sendMu       sync.Mutex
	sendQueue    *queue.Queue
	sendInFlight atomic.Bool
	finalized    bool
	sending      []*pool.SendBuffer

	pending   atomic.Int32
	discDone  atomic.Bool
	closeOnce sync.Once
	cause     atomic.Pointer[error]

	user atomic.Pointer[User]
}

func newSession(svc *Service) *Session {
	id := uuid.New()
	return &Session{
		id:        id,
		svc:       svc,
		log:       svc.log.With("session_id", id.String()),
		connectOp: reactor.NewOperation(reactor.OpConnect, 0),
		recvOp:    reactor.NewOperation(reactor.OpRecv, 0),
		sendOp:    reactor.NewOperation(reactor.OpSend, 0),
		discOp:    reactor.NewOperation(reactor.OpDisconnect, 0),
		recv:      pool.NewRecvBuffer(svc.cfg.RecvBufferUnit),
		sendQueue: queue.New(),
	}
}

func (s *Session) ID() uuid.UUID            { return s.id }
func (s *Session) Handle() uintptr          { return s.handle }
func (s *Session) RemoteAddr() *net.TCPAddr { return s.remote }
func (s *Session) Service() *Service        { return s.svc }
func (s *Session) Logger() *slog.Logger     { return s.log }
func (s *Session) User() *User              { return s.user.Load() }
func (s *Session) IsConnected() bool        { return s.connected.Load() }
func (s *Session) State() api.SessionStatus { return api.SessionStatus(s.state.Load()) }

// Cause returns why the session was disconnected, or nil.
func (s *Session) Cause() error {
	if p := s.cause.Load(); p != nil {
		return *p
	}
	return nil
}

// attach binds an established connection to a session in Created state.
func (s *Session) attach(conn net.Conn, remote *net.TCPAddr) error {
	if s.State() != api.SessionCreated || s.conn != nil {
		api.Invariant("attach on session %s in state %s", s.id, s.State())
	}
	h, err := transport.Handle(conn)
	if err != nil {
		return err
	}
	if s.svc.wrapConn != nil {
		conn = s.svc.wrapConn(conn)
	}
	s.conn = conn
	s.handle = h
	s.remote = remote
	s.log = s.log.With("remote", remote.String())
	return nil
}

// processConnect moves an attached session to Connected and starts reading.
func (s *Session) processConnect(w *reactor.Worker) {
	if err := s.svc.AddSession(s); err != nil {
		api.Invariant("%v", err)
	}
	if err := s.svc.port.Register(s); err != nil {
		s.log.Error("register with completion port failed", "error", err)
		s.svc.ReleaseSession(s)
		_ = s.conn.Close()
		s.state.Store(int32(api.SessionClosed))
		return
	}
	s.state.Store(int32(api.SessionConnected))
	s.connected.Store(true)
	s.svc.obs.SessionOpened()
	s.log.Debug("session connected", "worker", w.ID)
	if s.svc.onConnect != nil {
		s.svc.onConnect(s)
	}
	s.registerRecv()
}

// postConnect dials addr on the completion port.
func (s *Session) postConnect(addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	s.pending.Add(1)
	err := s.svc.port.Post(s.connectOp, s, func() (int, error) {
		c, err := d.Dial("tcp", addr)
		if err != nil {
			return 0, err
		}
		s.dialed = c
		return 0, nil
	})
	if err != nil {
		s.pending.Add(-1)
		return err
	}
	return nil
}

// HandleCompletion implements reactor.IoObject.
func (s *Session) HandleCompletion(w *reactor.Worker, op *reactor.Operation, n int, err error) {
	defer func() {
		if s.pending.Add(-1) == 0 && s.discDone.Load() {
			s.finalize(w)
		}
	}()
	switch op.Kind {
	case reactor.OpConnect:
		s.processDial(w, err)
	case reactor.OpRecv:
		s.processRecv(w, n, err)
	case reactor.OpSend:
		s.processSend(n, err)
	case reactor.OpDisconnect:
		s.processDisconnect(err)
	default:
		api.Invariant("session received %s completion", op.Kind)
	}
}

func (s *Session) processDial(w *reactor.Worker, err error) {
	if err != nil {
		s.log.Warn("connect failed", "error", err)
		s.state.Store(int32(api.SessionClosed))
		return
	}
	conn := s.dialed
	s.dialed = nil
	remote, err := s.svc.configure(conn)
	if err == nil {
		err = s.attach(conn, remote)
	}
	if err != nil {
		s.log.Warn("connect setup failed", "error", err)
		_ = conn.Close()
		s.state.Store(int32(api.SessionClosed))
		return
	}
	s.processConnect(w)
}

// post counts the operation as outstanding for as long as it is in flight.
func (s *Session) post(op *reactor.Operation, io func() (int, error)) error {
	s.pending.Add(1)
	if err := s.svc.port.Post(op, s, io); err != nil {
		s.pending.Add(-1)
		return err
	}
	return nil
}

func (s *Session) registerRecv() {
	if !s.connected.Load() {
		return
	}
	buf := s.recv.WritePos()
	conn := s.conn
	if err := s.post(s.recvOp, func() (int, error) { return conn.Read(buf) }); err != nil {
		s.Disconnect(err)
	}
}

func (s *Session) processRecv(w *reactor.Worker, n int, err error) {
	if n > 0 {
		if werr := s.recv.OnWrite(n); werr != nil {
			s.Disconnect(werr)
			return
		}
		s.svc.obs.BytesReceived(n)
		if perr := s.processPackets(w); perr != nil {
			s.Disconnect(perr)
			return
		}
	}
	if err != nil {
		s.Disconnect(err)
		return
	}
	if n == 0 {
		s.Disconnect(ErrPeerClosed)
		return
	}
	s.registerRecv()
}

// processPackets hands every complete frame to the handler and compacts
// the buffer.
func (s *Session) processPackets(w *reactor.Worker) error {
	data := s.recv.ReadPos()
	processed := 0
	for s.connected.Load() {
		h, body, size, err := protocol.Next(data[processed:])
		if err != nil {
			return err
		}
		if size == 0 {
			if int(h.Size) > s.recv.Cap() {
				return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.Size, s.recv.Cap())
			}
			break
		}
		if err := s.dispatch(w, h.ID, body); err != nil {
			return err
		}
		processed += size
	}
	if err := s.recv.OnRead(processed); err != nil {
		return err
	}
	s.recv.Clean()
	return nil
}

// dispatch contains handler failures to this connection. Invariant
// violations are re-raised.
func (s *Session) dispatch(w *reactor.Worker, id protocol.MessageID, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if api.IsInvariant(r) {
				panic(r)
			}
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, id, r)
		}
	}()
	ok := s.svc.handler.HandlePacket(w, s, id, body)
	s.svc.obs.PacketHandled(id, ok)
	if !ok {
		s.log.Warn("malformed packet", "id", id.String(), "size", len(body))
	}
	return nil
}

// Send queues buf for transmission. The caller keeps its own reference.
func (s *Session) Send(buf *pool.SendBuffer) {
	if !s.connected.Load() {
		return
	}
	s.sendMu.Lock()
	if s.finalized {
		s.sendMu.Unlock()
		return
	}
	buf.Retain()
	s.sendQueue.Add(buf)
	start := s.sendInFlight.CompareAndSwap(false, true)
	s.sendMu.Unlock()

	if start {
		s.registerSend()
	}
}

// registerSend drains the whole queue into one scatter write. Only the
// holder of the in-flight flag calls it.
func (s *Session) registerSend() {
	s.sendMu.Lock()
	for s.sendQueue.Length() > 0 {
		s.sending = append(s.sending, s.sendQueue.Remove().(*pool.SendBuffer))
	}
	s.sendMu.Unlock()

	bufs := make(net.Buffers, len(s.sending))
	for i, b := range s.sending {
		bufs[i] = b.Buffer()
	}
	conn := s.conn
	err := s.post(s.sendOp, func() (int, error) {
		n, err := bufs.WriteTo(conn)
		return int(n), err
	})
	if err != nil {
		s.releaseSending()
		s.sendInFlight.Store(false)
		s.Disconnect(err)
	}
}

func (s *Session) releaseSending() {
	for i, b := range s.sending {
		b.Release()
		s.sending[i] = nil
	}
	s.sending = s.sending[:0]
}

func (s *Session) processSend(n int, err error) {
	s.releaseSending()
	if n > 0 {
		s.svc.obs.BytesSent(n)
	}
	if err != nil || n == 0 {
		s.sendInFlight.Store(false)
		if err == nil {
			err = ErrZeroByteSend
		}
		s.Disconnect(err)
		return
	}

	s.sendMu.Lock()
	more := s.sendQueue.Length() > 0 && !s.finalized
	if !more {
		s.sendInFlight.Store(false)
	}
	s.sendMu.Unlock()
	if more {
		s.registerSend()
	}
}

// Disconnect moves the session to Disconnecting. Only the first caller
// wins; later calls are no-ops.
func (s *Session) Disconnect(cause error) {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	s.state.Store(int32(api.SessionDisconnecting))
	s.cause.Store(&cause)
	s.logDisconnect(cause)

	// The OS may hand the closed descriptor to the next accept at once, so
	// the handle is released before the close.
	conn, port := s.conn, s.svc.port
	if err := s.post(s.discOp, func() (int, error) {
		port.Deregister(s)
		return 0, conn.Close()
	}); err != nil {
		port.Deregister(s)
		_ = conn.Close()
		s.discDone.Store(true)
		if s.pending.Load() == 0 {
			s.finalizeDetached()
		}
	}
}

func (s *Session) logDisconnect(cause error) {
	switch {
	case cause == nil, errors.Is(cause, ErrPeerClosed), errors.Is(cause, ErrShutdown):
		s.log.Debug("session disconnecting", "cause", cause)
	case transport.IsConnectionFatal(cause):
		s.log.Debug("session disconnecting", "cause", cause)
	case errors.Is(cause, ErrHandlerPanic), isFramingError(cause), errors.Is(cause, pool.ErrBufferTooLarge):
		s.log.Warn("session disconnecting", "cause", cause)
	default:
		s.log.Error("session disconnecting", "cause", cause)
	}
}

func (s *Session) processDisconnect(err error) {
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("close reported error", "error", err)
	}
	s.discDone.Store(true)
}

// finalize runs exactly once, after the disconnect completed and no
// operation is outstanding.
func (s *Session) finalize(w *reactor.Worker) {
	s.closeOnce.Do(func() {
		if u := s.user.Swap(nil); u != nil {
			s.svc.releaseUser(w, u)
		}

		s.sendMu.Lock()
		s.finalized = true
		for s.sendQueue.Length() > 0 {
			s.sendQueue.Remove().(*pool.SendBuffer).Release()
		}
		s.sendMu.Unlock()

		s.svc.port.Deregister(s)
		s.svc.ReleaseSession(s)
		s.recv.Reset()
		s.state.Store(int32(api.SessionClosed))

		cause := s.Cause()
		s.svc.obs.SessionClosed(causeLabel(cause))
		s.log.Debug("session closed", "cause", cause)
	})
}

// finalizeDetached tears down outside a worker, after the port closed.
func (s *Session) finalizeDetached() {
	cache := s.svc.chunks.NewCache()
	defer cache.Release()
	s.finalize(&reactor.Worker{ID: -1, Chunks: cache, Log: s.log})
}

func isFramingError(err error) bool {
	return errors.Is(err, protocol.ErrShortFrame) || errors.Is(err, ErrFrameTooLarge)
}
