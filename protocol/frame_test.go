package protocol_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
)

func TestNextIncompleteAndShort(t *testing.T) {
	frame, err := protocol.AppendFrame(nil, protocol.CChat, []byte(`{"message":"hi"}`))
	require.NoError(t, err)

	for cut := 0; cut < len(frame); cut++ {
		_, _, n, err := protocol.Next(frame[:cut])
		require.NoError(t, err)
		assert.Zero(t, n, "prefix of %d bytes must be incomplete", cut)
	}

	h, body, n, err := protocol.Next(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, protocol.CChat, h.ID)
	assert.Equal(t, `{"message":"hi"}`, string(body))

	_, _, _, err = protocol.Next([]byte{3, 0, 0, 0})
	assert.ErrorIs(t, err, protocol.ErrShortFrame)
}

func TestHeaderIsLittleEndianAndCountsItself(t *testing.T) {
	frame, err := protocol.AppendFrame(nil, protocol.SLogin, []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 0, 3, 0, 'a', 'b'}, frame)

	_, err = protocol.AppendFrame(nil, protocol.SLogin, make([]byte, protocol.MaxBodySize+1))
	assert.ErrorIs(t, err, protocol.ErrBodyTooLarge)
}

// Feeding a stream in arbitrary pieces yields the same frames as feeding it whole.
func TestFramingSurvivesArbitraryChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var stream []byte
	var want [][]byte
	for i := 0; i < 200; i++ {
		body := make([]byte, rng.Intn(300))
		rng.Read(body)
		want = append(want, body)
		var err error
		stream, err = protocol.AppendFrame(stream, protocol.MessageID(i%16), body)
		require.NoError(t, err)
	}

	buf := pool.NewRecvBuffer(64)
	var got [][]byte
	for off := 0; off < len(stream); {
		step := 1 + rng.Intn(97)
		if step > len(stream)-off {
			step = len(stream) - off
		}
		if step > buf.FreeSize() {
			step = buf.FreeSize()
		}
		copy(buf.WritePos(), stream[off:off+step])
		require.NoError(t, buf.OnWrite(step))
		off += step

		data := buf.ReadPos()
		processed := 0
		for {
			_, body, n, err := protocol.Next(data[processed:])
			require.NoError(t, err)
			if n == 0 {
				break
			}
			got = append(got, bytes.Clone(body))
			processed += n
		}
		require.NoError(t, buf.OnRead(processed))
		buf.Clean()
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i], "frame %d", i)
	}
}

func TestMakeSendBuffer(t *testing.T) {
	p := pool.NewChunkPool(pool.DefaultChunkSize, 0)
	c := p.NewCache()
	defer c.Release()

	sb, err := protocol.MakeSendBuffer(c, protocol.SLogin, protocol.LoginResponse{ResultCode: protocol.LoginSuccess, UserID: 1})
	require.NoError(t, err)
	defer sb.Release()

	h, body, n, err := protocol.Next(sb.Buffer())
	require.NoError(t, err)
	assert.Equal(t, sb.Len(), n)
	assert.Equal(t, protocol.SLogin, h.ID)

	var resp protocol.LoginResponse
	require.NoError(t, protocol.Decode(body, &resp))
	assert.Equal(t, protocol.LoginSuccess, resp.ResultCode)
	assert.EqualValues(t, 1, resp.UserID)
}
