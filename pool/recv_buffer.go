// File: pool/recv_buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity inbound buffer with read/write cursors and lazy compaction.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-talk/api"
)

// RecvBufferUnits is the number of units a RecvBuffer holds.
const RecvBufferUnits = 10

// RecvBuffer keeps read <= write <= capacity. It is not safe for concurrent
// use; a session owns exactly one and touches it only from its receive path.
type RecvBuffer struct {
	unit  int
	data  []byte
	read  int
	write int
}

// NewRecvBuffer allocates a buffer of unit*RecvBufferUnits bytes.
func NewRecvBuffer(unit int) *RecvBuffer {
	if unit <= 0 {
		api.Invariant("recv buffer unit must be positive, got %d", unit)
	}
	return &RecvBuffer{
		unit: unit,
		data: make([]byte, unit*RecvBufferUnits),
	}
}

// Unit returns the compaction threshold.
func (b *RecvBuffer) Unit() int { return b.unit }

// Cap returns the total capacity.
func (b *RecvBuffer) Cap() int { return len(b.data) }

// DataSize is the number of buffered, unread bytes.
func (b *RecvBuffer) DataSize() int { return b.write - b.read }

// FreeSize is the number of bytes that can still be written.
func (b *RecvBuffer) FreeSize() int { return len(b.data) - b.write }

// ReadPos returns the unread region.
func (b *RecvBuffer) ReadPos() []byte { return b.data[b.read:b.write] }

// WritePos returns the writable tail.
func (b *RecvBuffer) WritePos() []byte { return b.data[b.write:] }

// OnRead consumes n bytes of buffered data.
func (b *RecvBuffer) OnRead(n int) error {
	if n < 0 || n > b.DataSize() {
		return api.Wrap(api.ErrCodeInvalidArgument, "recv buffer read overrun",
			fmt.Errorf("consume %d of %d buffered", n, b.DataSize()))
	}
	b.read += n
	return nil
}

// OnWrite commits n bytes written into WritePos.
func (b *RecvBuffer) OnWrite(n int) error {
	if n < 0 || n > b.FreeSize() {
		return api.NewError(api.ErrCodeInvalidArgument, "recv buffer write overrun").
			WithContext("commit", n).
			WithContext("free", b.FreeSize())
	}
	b.write += n
	return nil
}

// Clean rewinds the cursors when the buffer is drained, and moves unread
// bytes to the front only once free space drops below one unit.
func (b *RecvBuffer) Clean() {
	size := b.DataSize()
	if size == 0 {
		b.read, b.write = 0, 0
		return
	}
	if b.FreeSize() < b.unit {
		copy(b.data, b.data[b.read:b.write])
		b.read, b.write = 0, size
	}
}

// Reset drops all buffered data.
func (b *RecvBuffer) Reset() {
	b.read, b.write = 0, 0
}
