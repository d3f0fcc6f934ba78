// File: reactor/port.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion port: handle registry, asynchronous post, and blocking dispatch.

package reactor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/momentics/hioload-talk/api"
)

var (
	// ErrClosed is returned once the port has been closed.
	ErrClosed = fmt.Errorf("completion port: %w", api.ErrClosed)
	// ErrInvalidHandle rejects a zero handle.
	ErrInvalidHandle = errors.New("completion port: invalid handle")
	// ErrAlreadyRegistered rejects a second registration of the same handle.
	ErrAlreadyRegistered = fmt.Errorf("completion port: handle %w", api.ErrAlreadyExists)
	// ErrNotRegistered rejects a post from an object that never registered.
	ErrNotRegistered = fmt.Errorf("completion port: handle %w", api.ErrNotFound)
)

// DefaultQueueDepth bounds completions waiting for a worker.
const DefaultQueueDepth = 4096

// Observer is notified about every dispatched completion.
type Observer func(kind OpKind, n int, err error)

type completion struct {
	op  *Operation
	n   int
	err error
}

// Port is the completion queue shared by all workers.
type Port struct {
	mu      sync.Mutex
	handles map[uintptr]IoObject

	queue     chan completion
	done      chan struct{}
	closeOnce sync.Once
	observer  Observer
}

// PortOption customizes a Port.
type PortOption func(*Port)

// WithQueueDepth sets the completion buffer length.
func WithQueueDepth(n int) PortOption {
	return func(p *Port) {
		if n > 0 {
			p.queue = make(chan completion, n)
		}
	}
}

// WithObserver installs a completion hook, typically metrics.
func WithObserver(o Observer) PortOption {
	return func(p *Port) { p.observer = o }
}

// NewPort creates an open completion port.
func NewPort(opts ...PortOption) *Port {
	p := &Port{
		handles: make(map[uintptr]IoObject),
		queue:   make(chan completion, DefaultQueueDepth),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register associates obj's handle with the port.
func (p *Port) Register(obj IoObject) error {
	h := obj.Handle()
	if h == 0 {
		return ErrInvalidHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed() {
		return ErrClosed
	}
	if _, ok := p.handles[h]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, h)
	}
	p.handles[h] = obj
	return nil
}

// Deregister drops obj's association so the OS may reuse the handle.
func (p *Port) Deregister(obj IoObject) {
	h := obj.Handle()
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.handles[h]; ok && cur == obj {
		delete(p.handles, h)
	}
}

// Registered reports whether obj currently owns its handle on the port.
func (p *Port) Registered(obj IoObject) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.handles[obj.Handle()]
	return ok && cur == obj
}

// Len returns the number of registered handles.
func (p *Port) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Post claims op for owner and runs io asynchronously; its result is queued
// as a completion. Posting onto a busy slot is an invariant violation.
// Connect operations are exempt from the registration check, the handle
// does not exist until the connection is established.
func (p *Port) Post(op *Operation, owner IoObject, io func() (int, error)) error {
	if !op.busy.CompareAndSwap(false, true) {
		api.Invariant("%s operation slot %d posted while in flight", op.Kind, op.Slot)
	}
	if p.isClosed() {
		op.busy.Store(false)
		return ErrClosed
	}
	if op.Kind != OpConnect && !p.Registered(owner) {
		op.busy.Store(false)
		return ErrNotRegistered
	}
	op.owner = owner
	go func() {
		n, err := io()
		select {
		case p.queue <- completion{op: op, n: n, err: err}:
		case <-p.done:
		}
	}()
	return nil
}

// Dispatch waits up to timeout for one completion and delivers it to its
// owner. A negative timeout waits forever. It returns false, nil on timeout
// and false, ErrClosed once the port is closed.
func (p *Port) Dispatch(w *Worker, timeout time.Duration) (bool, error) {
	if timeout == 0 {
		select {
		case c := <-p.queue:
			p.deliver(w, c)
			return true, nil
		case <-p.done:
			return false, ErrClosed
		default:
			return false, nil
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case c := <-p.queue:
		p.deliver(w, c)
		return true, nil
	case <-expired:
		return false, nil
	case <-p.done:
		return false, ErrClosed
	}
}

// deliver releases the slot and its owner reference before running the
// handler, so the handler may re-post into the same slot. A handler panic
// is logged and the worker keeps dispatching; invariant violations are
// re-raised.
func (p *Port) deliver(w *Worker, c completion) {
	op := c.op
	owner := op.owner
	op.owner = nil
	op.busy.Store(false)
	if p.observer != nil {
		p.observer(op.Kind, c.n, c.err)
	}
	defer func() {
		if r := recover(); r != nil {
			if api.IsInvariant(r) {
				panic(r)
			}
			log := slog.Default()
			if w != nil && w.Log != nil {
				log = w.Log
			}
			log.Error("completion handler panic", "kind", op.Kind.String(), "slot", op.Slot, "panic", r)
		}
	}()
	owner.HandleCompletion(w, op, c.n, c.err)
}

// Close wakes every worker with ErrClosed. Completions still in flight are
// dropped.
func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Done is closed when the port closes.
func (p *Port) Done() <-chan struct{} { return p.done }

func (p *Port) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
