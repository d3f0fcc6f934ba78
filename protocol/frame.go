// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Length-prefixed frame codec.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 4
	// MaxFrameSize is the largest size a header can declare.
	MaxFrameSize = math.MaxUint16
	// MaxBodySize is the largest body a frame can carry.
	MaxBodySize = MaxFrameSize - HeaderSize
)

var (
	// ErrShortFrame is a declared size smaller than the header itself.
	ErrShortFrame = errors.New("protocol: frame size below header size")
	// ErrBodyTooLarge is a body that cannot be described by a uint16 size.
	ErrBodyTooLarge = fmt.Errorf("protocol: body exceeds %d bytes", MaxBodySize)
)

// Header is the decoded frame prefix.
type Header struct {
	Size uint16
	ID   MessageID
}

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Size: binary.LittleEndian.Uint16(b[0:2]),
		ID:   MessageID(binary.LittleEndian.Uint16(b[2:4])),
	}, true
}

// PutHeader encodes a header for a frame of size bytes into b.
func PutHeader(b []byte, id MessageID, size int) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(size))
	binary.LittleEndian.PutUint16(b[2:4], uint16(id))
}

// Next returns the first complete frame in b. n is the number of bytes the
// frame occupies, or zero when more data is required.
func Next(b []byte) (h Header, body []byte, n int, err error) {
	h, ok := ParseHeader(b)
	if !ok {
		return Header{}, nil, 0, nil
	}
	if h.Size < HeaderSize {
		return h, nil, 0, fmt.Errorf("%w: %d", ErrShortFrame, h.Size)
	}
	if len(b) < int(h.Size) {
		return h, nil, 0, nil
	}
	return h, b[HeaderSize:h.Size], int(h.Size), nil
}

// AppendFrame appends a framed message to dst.
func AppendFrame(dst []byte, id MessageID, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return dst, ErrBodyTooLarge
	}
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], id, HeaderSize+len(body))
	dst = append(dst, hdr[:]...)
	return append(dst, body...), nil
}
