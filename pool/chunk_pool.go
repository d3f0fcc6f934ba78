// File: pool/chunk_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Global chunk pool and per-worker chunk cache.

package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-talk/api"
)

// DefaultChunkSize fits the largest frame a uint16 length prefix can declare.
const DefaultChunkSize = 0x10000

var (
	// ErrPoolExhausted is returned when MaxChunks are all in circulation.
	ErrPoolExhausted = fmt.Errorf("send chunk pool: %w", api.ErrResourceExhausted)
	// ErrBufferTooLarge rejects a buffer that no chunk can hold.
	ErrBufferTooLarge = fmt.Errorf("send chunk pool: buffer larger than chunk: %w", api.ErrInvalidArgument)
)

// Stats reports chunk conservation counters.
type Stats struct {
	ChunkSize int    `json:"chunk_size"`
	Created   int    `json:"created"`
	Pooled    int    `json:"pooled"`
	InUse     int    `json:"in_use"`
	Reused    uint64 `json:"reused"`
}

// ChunkPool is the process-wide free list of SendBufferChunks.
type ChunkPool struct {
	chunkSize int
	maxChunks int

	mu      sync.Mutex
	free    []*SendBufferChunk
	created int

	reused atomic.Uint64
}

// NewChunkPool creates a pool of chunkSize arenas. maxChunks <= 0 leaves the
// pool unbounded.
func NewChunkPool(chunkSize, maxChunks int) *ChunkPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkPool{chunkSize: chunkSize, maxChunks: maxChunks}
}

// ChunkSize returns the arena size of every chunk.
func (p *ChunkPool) ChunkSize() int { return p.chunkSize }

// NewCache returns an empty worker-local cache bound to p.
func (p *ChunkPool) NewCache() *ChunkCache {
	return &ChunkCache{pool: p}
}

// Open carves a buffer of size bytes through cache.
func (p *ChunkPool) Open(cache *ChunkCache, size int) (*SendBuffer, error) {
	if cache.pool != p {
		api.Invariant("chunk cache belongs to a different pool")
	}
	return cache.Open(size)
}

// Stats returns a consistent snapshot.
func (p *ChunkPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ChunkSize: p.chunkSize,
		Created:   p.created,
		Pooled:    len(p.free),
		InUse:     p.created - len(p.free),
		Reused:    p.reused.Load(),
	}
}

func (p *ChunkPool) get() (*SendBufferChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused.Add(1)
		return c, nil
	}
	if p.maxChunks > 0 && p.created >= p.maxChunks {
		return nil, ErrPoolExhausted
	}
	p.created++
	return newSendBufferChunk(p, p.chunkSize), nil
}

func (p *ChunkPool) put(c *SendBufferChunk) {
	c.reset()
	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
}

// ChunkCache holds the current chunk of one dispatcher worker. It must not be
// shared between goroutines.
type ChunkCache struct {
	pool *ChunkPool
	cur  *SendBufferChunk
}

// Open returns a buffer of size bytes, rotating to a fresh chunk when the
// current one cannot fit it.
func (c *ChunkCache) Open(size int) (*SendBuffer, error) {
	if size > c.pool.chunkSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBufferTooLarge, size, c.pool.chunkSize)
	}
	if c.cur != nil {
		if sb := c.cur.Open(size); sb != nil {
			return sb, nil
		}
		c.Release()
	}
	chunk, err := c.pool.get()
	if err != nil {
		return nil, err
	}
	chunk.retain()
	c.cur = chunk
	sb := chunk.Open(size)
	if sb == nil {
		return nil, errors.New("send chunk pool: fresh chunk cannot fit buffer")
	}
	return sb, nil
}

// Release drops the cache's share of its current chunk.
func (c *ChunkCache) Release() {
	if c.cur == nil {
		return
	}
	cur := c.cur
	c.cur = nil
	cur.release()
}
