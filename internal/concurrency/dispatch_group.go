// File: internal/concurrency/dispatch_group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DispatchGroup runs a fixed set of completion workers.

package concurrency

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/reactor"
)

// DefaultIdleTimeout bounds one Dispatch wait so workers notice cancellation.
const DefaultIdleTimeout = 500 * time.Millisecond

// GroupConfig sizes a DispatchGroup.
type GroupConfig struct {
	Workers     int
	Pin         bool
	IdleTimeout time.Duration
}

// DispatchGroup owns the worker goroutines of one Port.
type DispatchGroup struct {
	cfg    GroupConfig
	port   *reactor.Port
	chunks *pool.ChunkPool
	log    *slog.Logger

	wg         sync.WaitGroup
	started    atomic.Bool
	dispatched atomic.Int64
	idle       atomic.Int64
}

// NewDispatchGroup prepares, but does not start, the workers.
func NewDispatchGroup(cfg GroupConfig, port *reactor.Port, chunks *pool.ChunkPool, log *slog.Logger) *DispatchGroup {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &DispatchGroup{
		cfg:    cfg,
		port:   port,
		chunks: chunks,
		log:    log.With("component", "dispatch"),
	}
}

// Start launches the workers. They stop when ctx is done or the port closes.
func (g *DispatchGroup) Start(ctx context.Context) {
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < g.cfg.Workers; i++ {
		g.wg.Add(1)
		go g.run(ctx, i)
	}
	g.log.Info("dispatch workers started", "workers", g.cfg.Workers, "pinned", g.cfg.Pin)
}

// Wait blocks until every worker has exited.
func (g *DispatchGroup) Wait() {
	g.wg.Wait()
}

// Workers returns the configured worker count.
func (g *DispatchGroup) Workers() int { return g.cfg.Workers }

// Stats returns dispatch counters.
func (g *DispatchGroup) Stats() map[string]int64 {
	return map[string]int64{
		"workers":    int64(g.cfg.Workers),
		"dispatched": g.dispatched.Load(),
		"idle":       g.idle.Load(),
	}
}

func (g *DispatchGroup) run(ctx context.Context, id int) {
	defer g.wg.Done()
	w := reactor.NewWorker(id, g.chunks, g.log)
	defer w.Close()

	if g.cfg.Pin {
		if err := PinCurrentThread(id); err != nil {
			w.Log.Warn("cpu pinning failed", "cpu", id, "error", err)
		}
		defer UnpinCurrentThread()
	} else {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for ctx.Err() == nil {
		ok, err := g.port.Dispatch(w, g.cfg.IdleTimeout)
		if err != nil {
			if !errors.Is(err, reactor.ErrClosed) {
				w.Log.Error("dispatch failed", "error", err)
			}
			return
		}
		if ok {
			g.dispatched.Add(1)
		} else {
			g.idle.Add(1)
		}
	}
}
