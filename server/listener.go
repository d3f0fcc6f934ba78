// File: server/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listener keeps a fixed pool of accept operations posted on the port.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-talk/internal/transport"
	"github.com/momentics/hioload-talk/reactor"
)

// acceptSlot pairs one accept operation with the session that will receive
// the next connection.
type acceptSlot struct {
	op      *reactor.Operation
	session *Session
	conn    *net.TCPConn
}

// Listener is the reactor.IoObject for the listening socket.
type Listener struct {
	svc    *Service
	log    *slog.Logger
	ln     *net.TCPListener
	handle uintptr
	slots  []*acceptSlot
	closed atomic.Bool

	accepted  atomic.Int64
	discarded atomic.Int64
}

func newListener(svc *Service, backlog int) *Listener {
	l := &Listener{
		svc:   svc,
		log:   svc.log.With("component", "listener"),
		slots: make([]*acceptSlot, backlog),
	}
	for i := range l.slots {
		l.slots[i] = &acceptSlot{op: reactor.NewOperation(reactor.OpAccept, i)}
	}
	return l
}

// Handle implements reactor.IoObject.
func (l *Listener) Handle() uintptr { return l.handle }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Start binds addr, registers with the port and fills the accept pool.
func (l *Listener) Start(ctx context.Context, addr string) error {
	ln, err := transport.Listen(ctx, addr)
	if err != nil {
		return err
	}
	h, err := transport.Handle(ln)
	if err != nil {
		_ = ln.Close()
		return err
	}
	l.ln, l.handle = ln, h
	if err := l.svc.port.Register(l); err != nil {
		_ = ln.Close()
		return err
	}
	for _, slot := range l.slots {
		slot.session = l.svc.CreateSession()
		l.post(slot)
	}
	l.log.Info("listening", "addr", ln.Addr().String(), "accept_backlog", len(l.slots))
	return nil
}

// Close stops the listener; outstanding accepts complete with an error and
// are not re-posted.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.svc.port.Deregister(l)
	return l.ln.Close()
}

// Stats reports accept counters.
func (l *Listener) Stats() map[string]int64 {
	return map[string]int64{
		"accepted":  l.accepted.Load(),
		"discarded": l.discarded.Load(),
		"slots":     int64(len(l.slots)),
	}
}

func (l *Listener) post(slot *acceptSlot) {
	if l.closed.Load() {
		return
	}
	err := l.svc.port.Post(slot.op, l, func() (int, error) {
		c, err := l.ln.AcceptTCP()
		if err != nil {
			return 0, err
		}
		slot.conn = c
		return 0, nil
	})
	if err != nil && !errors.Is(err, reactor.ErrClosed) && !errors.Is(err, reactor.ErrNotRegistered) {
		l.log.Error("post accept failed", "slot", slot.op.Slot, "error", err)
	}
}

// HandleCompletion implements reactor.IoObject.
func (l *Listener) HandleCompletion(w *reactor.Worker, op *reactor.Operation, _ int, err error) {
	slot := l.slots[op.Slot]
	if err != nil {
		if l.closed.Load() || errors.Is(err, net.ErrClosed) {
			return
		}
		l.log.Warn("accept failed", "slot", op.Slot, "error", err)
		l.post(slot)
		return
	}

	conn := slot.conn
	slot.conn = nil
	sess := slot.session

	remote, err := l.svc.configure(conn)
	if err == nil {
		err = sess.attach(conn, remote)
	}
	if err != nil {
		// the half-formed session is dropped; the slot gets a fresh one
		_ = conn.Close()
		l.discarded.Add(1)
		l.log.Warn("accepted connection discarded", "slot", op.Slot, "error", err)
		slot.session = l.svc.CreateSession()
		l.post(slot)
		return
	}

	l.accepted.Add(1)
	slot.session = l.svc.CreateSession()
	l.post(slot)
	sess.processConnect(w)
}
