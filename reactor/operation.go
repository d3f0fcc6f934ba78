// File: reactor/operation.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operation slots and the I/O object contract.

package reactor

import (
	"log/slog"
	"sync/atomic"

	"github.com/momentics/hioload-talk/pool"
)

// OpKind tags an Operation.
type OpKind uint8

const (
	OpConnect OpKind = iota
	OpDisconnect
	OpAccept
	OpRecv
	OpSend
)

func (k OpKind) String() string {
	switch k {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpAccept:
		return "accept"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	default:
		return "unknown"
	}
}

// IoObject is anything that owns operation slots and receives completions.
type IoObject interface {
	// Handle is the OS socket handle the object registers with.
	Handle() uintptr
	// HandleCompletion runs on the worker that dequeued the completion.
	HandleCompletion(w *Worker, op *Operation, n int, err error)
}

// Operation is a long-lived slot for one outstanding asynchronous operation.
// While busy it holds a strong reference to its owner.
type Operation struct {
	Kind OpKind
	Slot int

	busy  atomic.Bool
	owner IoObject
}

// NewOperation creates an idle slot.
func NewOperation(kind OpKind, slot int) *Operation {
	return &Operation{Kind: kind, Slot: slot}
}

// Busy reports whether an operation is outstanding on the slot.
func (op *Operation) Busy() bool { return op.busy.Load() }

// Worker is the per-goroutine context handed to every completion handler.
type Worker struct {
	ID     int
	Chunks *pool.ChunkCache
	Log    *slog.Logger
}

// NewWorker builds a worker context with its own chunk cache.
func NewWorker(id int, chunks *pool.ChunkPool, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		ID:     id,
		Chunks: chunks.NewCache(),
		Log:    log.With("worker", id),
	}
}

// Close returns the worker's current chunk to the pool.
func (w *Worker) Close() {
	w.Chunks.Release()
}
