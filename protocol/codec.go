// File: protocol/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// JSON body codec and pooled frame encoding.

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/momentics/hioload-talk/pool"
)

// Decode unmarshals a body into v.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("protocol: decode body: %w", err)
	}
	return nil
}

// Encode marshals v into a framed byte slice.
func Encode(id MessageID, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", id, err)
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(body)), id, body)
}

// MakeSendBuffer frames v into a buffer carved from the worker's chunk
// cache. The caller owns the single reference of the returned buffer.
func MakeSendBuffer(cache *pool.ChunkCache, id MessageID, v any) (*pool.SendBuffer, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", id, err)
	}
	if len(body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	size := HeaderSize + len(body)
	sb, err := cache.Open(size)
	if err != nil {
		return nil, err
	}
	buf := sb.Buffer()
	PutHeader(buf, id, size)
	copy(buf[HeaderSize:], body)
	sb.Close(size)
	return sb, nil
}
