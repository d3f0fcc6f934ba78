package server

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
)

func TestSessionEchoesFramesSplitArbitrarily(t *testing.T) {
	h := newHarness(t, echo)
	c := h.dial(t)

	rng := rand.New(rand.NewSource(1))
	var stream []byte
	var want [][]byte
	for i := 0; i < 100; i++ {
		body := []byte(fmt.Sprintf("message-%03d-%s", i, string(make([]byte, rng.Intn(2000)))))
		want = append(want, body)
		var err error
		stream, err = protocol.AppendFrame(stream, protocol.CChat, body)
		require.NoError(t, err)
	}

	go func() {
		for off := 0; off < len(stream); {
			n := 1 + rng.Intn(700)
			if off+n > len(stream) {
				n = len(stream) - off
			}
			if _, err := c.Write(stream[off : off+n]); err != nil {
				return
			}
			off += n
		}
	}()

	for i := range want {
		id, body, err := readFrame(c)
		require.NoError(t, err)
		assert.Equal(t, protocol.CChat, id)
		require.Equal(t, want[i], body, "frame %d", i)
	}
	assert.EqualValues(t, 100, h.obs.packets.Load())
}

func TestSessionConcurrentSendsKeepPerSenderOrder(t *testing.T) {
	const senders = 8
	const perSender = 200

	start := PacketHandlerFunc(func(_ *reactor.Worker, s *Session, _ protocol.MessageID, _ []byte) bool {
		for g := 0; g < senders; g++ {
			go func(g int) {
				cache := s.Service().Chunks().NewCache()
				defer cache.Release()
				for i := 0; i < perSender; i++ {
					sb := rawBuffer(cache, protocol.SChat, []byte(fmt.Sprintf("%d:%d", g, i)))
					s.Send(sb)
					sb.Release()
				}
			}(g)
		}
		return true
	})
	h := newHarness(t, start)
	c := h.dial(t)
	writeFrame(t, c, protocol.CChat, nil)

	next := make([]int, senders)
	for n := 0; n < senders*perSender; n++ {
		_, body, err := readFrame(c)
		require.NoError(t, err)
		var g, i int
		_, err = fmt.Sscanf(string(body), "%d:%d", &g, &i)
		require.NoError(t, err)
		require.Equal(t, next[g], i, "sender %d out of order", g)
		next[g]++
	}

	require.NoError(t, c.Close())
	h.waitSessions(t, 0)
	// only the workers' current chunks may still be out
	assert.LessOrEqual(t, h.chunks.Stats().InUse, h.group.Workers())
}

// writeTracker records how many writes overlap on one connection.
type writeTracker struct {
	net.Conn
	active *atomic.Int32
	peak   *atomic.Int32
	writes *atomic.Int32
}

func (c writeTracker) Write(p []byte) (int, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		old := c.peak.Load()
		if n <= old || c.peak.CompareAndSwap(old, n) {
			break
		}
	}
	c.writes.Add(1)
	runtime.Gosched()
	return c.Conn.Write(p)
}

func TestSessionKeepsOneSendInFlight(t *testing.T) {
	const senders = 8
	const perSender = 100

	var active, peak, writes atomic.Int32
	wrap := func(c net.Conn) net.Conn {
		return writeTracker{Conn: c, active: &active, peak: &peak, writes: &writes}
	}
	start := PacketHandlerFunc(func(_ *reactor.Worker, s *Session, _ protocol.MessageID, _ []byte) bool {
		for g := 0; g < senders; g++ {
			go func() {
				cache := s.Service().Chunks().NewCache()
				defer cache.Release()
				for i := 0; i < perSender; i++ {
					sb := rawBuffer(cache, protocol.SChat, []byte("x"))
					s.Send(sb)
					sb.Release()
				}
			}()
		}
		return true
	})
	h := newHarness(t, start, func(s *Service) { s.wrapConn = wrap })
	c := h.dial(t)
	writeFrame(t, c, protocol.CChat, nil)

	for n := 0; n < senders*perSender; n++ {
		_, _, err := readFrame(c)
		require.NoError(t, err)
	}
	assert.Positive(t, writes.Load())
	assert.EqualValues(t, 1, peak.Load(), "two sends overlapped on one connection")
}

// A closed socket's descriptor is handed to the next accept right away,
// often while the old session still has completions queued.
func TestSessionChurnReusesHandles(t *testing.T) {
	const rounds = 200
	h := newHarness(t, echo)
	addr := h.svc.Addr().String()

	for i := 0; i < rounds; i++ {
		c, err := net.DialTimeout("tcp", addr, 2*time.Second)
		require.NoError(t, err)
		writeFrame(t, c, protocol.CChat, []byte("ping"))
		_, body, err := readFrame(c)
		require.NoError(t, err, "round %d", i)
		require.Equal(t, "ping", string(body))
		require.NoError(t, c.Close())
	}

	h.waitSessions(t, 0)
	assert.EqualValues(t, rounds, h.obs.opened.Load(), "every accepted connection must reach connected")
	require.Eventually(t, func() bool { return h.obs.closed.Load() == rounds }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.port.Len(), "only the listener stays registered")
}

func TestSessionPeerCloseTearsDown(t *testing.T) {
	h := newHarness(t, echo)
	c := h.dial(t)
	h.waitSessions(t, 1)

	require.NoError(t, c.Close())
	h.waitSessions(t, 0)
	require.Eventually(t, func() bool { return h.obs.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "peer_closed", h.obs.lastCause())
	assert.Equal(t, 1, h.port.Len(), "only the listener stays registered")
}

func TestSessionDisconnectIsIdempotent(t *testing.T) {
	sessions := make(chan *Session, 1)
	h := newHarness(t, echo, WithConnectHook(func(s *Session) { sessions <- s }))
	c := h.dial(t)

	var s *Session
	select {
	case s = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("no session connected")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Disconnect(fmt.Errorf("caller %d", i))
		}(i)
	}
	wg.Wait()

	h.waitSessions(t, 0)
	assert.Equal(t, api.SessionClosed, s.State())
	assert.EqualValues(t, 1, h.obs.closed.Load())

	_, _, err := readFrame(c)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionFramingErrorDisconnects(t *testing.T) {
	h := newHarness(t, echo)
	c := h.dial(t)
	_, err := c.Write([]byte{2, 0, 1, 0})
	require.NoError(t, err)

	_, _, err = readFrame(c)
	assert.Error(t, err)
	h.waitSessions(t, 0)
	assert.Equal(t, "framing", h.obs.lastCause())
}

func TestSessionHandlerPanicDisconnectsOnlyThatSession(t *testing.T) {
	h := newHarness(t, PacketHandlerFunc(func(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool {
		if string(body) == "boom" {
			panic("handler exploded")
		}
		return echo(w, s, id, body)
	}))
	bad := h.dial(t)
	good := h.dial(t)
	h.waitSessions(t, 2)

	writeFrame(t, bad, protocol.CChat, []byte("boom"))
	_, _, err := readFrame(bad)
	assert.Error(t, err)
	h.waitSessions(t, 1)
	assert.Equal(t, "handler_panic", h.obs.lastCause())

	writeFrame(t, good, protocol.CChat, []byte("still here"))
	_, body, err := readFrame(good)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(body))
}

func TestSessionMalformedPacketKeepsConnection(t *testing.T) {
	h := newHarness(t, PacketHandlerFunc(func(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool {
		if id != protocol.CChat {
			return false
		}
		return echo(w, s, id, body)
	}))
	c := h.dial(t)
	writeFrame(t, c, protocol.MessageID(999), []byte("?"))
	writeFrame(t, c, protocol.CChat, []byte("ok"))
	_, body, err := readFrame(c)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 1, h.obs.bad.Load())
}

func TestServiceConnectOutbound(t *testing.T) {
	h := newHarness(t, echo)
	s, err := h.svc.Connect(h.svc.Addr().String())
	require.NoError(t, err)

	// the dialed session and its accepted peer
	h.waitSessions(t, 2)
	require.Eventually(t, s.IsConnected, time.Second, 5*time.Millisecond)
	assert.NotNil(t, s.RemoteAddr())

	s.Disconnect(nil)
	h.waitSessions(t, 0)
}

func TestServiceConnectFailureClosesSession(t *testing.T) {
	h := newHarness(t, echo)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, err := h.svc.Connect(addr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == api.SessionClosed }, 3*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.svc.SessionCount())
}
