// File: pool/send_buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reference-counted outbound buffers carved from pooled chunks.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-talk/api"
)

// SendBufferChunk is a fixed-size arena handing out consecutive SendBuffers.
// used and open are touched only by the worker whose cache holds the chunk;
// refs is shared with every goroutine that releases a buffer.
type SendBufferChunk struct {
	pool *ChunkPool
	data []byte
	used int
	open bool
	refs atomic.Int32
}

func newSendBufferChunk(p *ChunkPool, size int) *SendBufferChunk {
	return &SendBufferChunk{pool: p, data: make([]byte, size)}
}

// Capacity returns the arena size.
func (c *SendBufferChunk) Capacity() int { return len(c.data) }

// FreeSize returns the bytes left after the used high-water mark.
func (c *SendBufferChunk) FreeSize() int { return len(c.data) - c.used }

// reset prepares a retired chunk for reuse.
func (c *SendBufferChunk) reset() {
	c.used = 0
	c.open = false
}

// Open reserves size bytes at the high-water mark. It returns nil when the
// chunk lacks room. Opening twice, or asking for more than the capacity,
// violates the allocator contract.
func (c *SendBufferChunk) Open(size int) *SendBuffer {
	if size > c.Capacity() {
		api.Invariant("send buffer of %d bytes exceeds chunk capacity %d", size, c.Capacity())
	}
	if c.open {
		api.Invariant("send buffer chunk is already open")
	}
	if size > c.FreeSize() {
		return nil
	}
	c.open = true
	c.retain()
	sb := &SendBuffer{
		chunk: c,
		buf:   c.data[c.used : c.used+size],
		alloc: size,
	}
	sb.refs.Store(1)
	return sb
}

func (c *SendBufferChunk) retain() { c.refs.Add(1) }

func (c *SendBufferChunk) release() {
	switch n := c.refs.Add(-1); {
	case n == 0:
		c.pool.put(c)
	case n < 0:
		api.Invariant("send buffer chunk released more often than retained")
	}
}

// SendBuffer is one outbound message. It starts with a single reference held
// by its creator; every queue that stores it takes one more.
type SendBuffer struct {
	chunk  *SendBufferChunk
	buf    []byte
	alloc  int
	closed bool
	refs   atomic.Int32
}

// Buffer exposes the writable region before Close and the payload after it.
func (b *SendBuffer) Buffer() []byte { return b.buf }

// AllocSize is the reserved size.
func (b *SendBuffer) AllocSize() int { return b.alloc }

// Len is the committed payload length.
func (b *SendBuffer) Len() int { return len(b.buf) }

// Close commits writeSize bytes and advances the chunk's high-water mark so
// the next buffer can be opened.
func (b *SendBuffer) Close(writeSize int) {
	if b.closed {
		api.Invariant("send buffer closed twice")
	}
	if writeSize < 0 || writeSize > b.alloc {
		api.Invariant("send buffer write %d exceeds allocation %d", writeSize, b.alloc)
	}
	b.closed = true
	b.buf = b.buf[:writeSize]
	b.chunk.used += writeSize
	b.chunk.open = false
}

// Retain adds a reference.
func (b *SendBuffer) Retain() {
	if b.refs.Add(1) <= 1 {
		api.Invariant("retain on a released send buffer")
	}
}

// Release drops a reference; the last one returns the chunk share.
func (b *SendBuffer) Release() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		b.chunk.release()
	case n < 0:
		api.Invariant("send buffer released more often than retained")
	}
}
