package server

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-talk/internal/concurrency"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingObserver struct {
	opened  atomic.Int32
	closed  atomic.Int32
	packets atomic.Int32
	bad     atomic.Int32
	mu      sync.Mutex
	causes  []string
}

func (o *countingObserver) SessionOpened() { o.opened.Add(1) }
func (o *countingObserver) SessionClosed(cause string) {
	o.closed.Add(1)
	o.mu.Lock()
	o.causes = append(o.causes, cause)
	o.mu.Unlock()
}
func (o *countingObserver) BytesReceived(int) {}
func (o *countingObserver) BytesSent(int)     {}
func (o *countingObserver) PacketHandled(_ protocol.MessageID, ok bool) {
	if ok {
		o.packets.Add(1)
	} else {
		o.bad.Add(1)
	}
}

func (o *countingObserver) lastCause() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.causes) == 0 {
		return ""
	}
	return o.causes[len(o.causes)-1]
}

type harness struct {
	svc    *Service
	port   *reactor.Port
	chunks *pool.ChunkPool
	group  *concurrency.DispatchGroup
	obs    *countingObserver
}

func newHarness(t *testing.T, h PacketHandler, opts ...Option) *harness {
	t.Helper()
	port := reactor.NewPort()
	chunks := pool.NewChunkPool(pool.DefaultChunkSize, 0)
	obs := &countingObserver{}

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.AcceptBacklog = 4
	opts = append([]Option{WithConfig(cfg), WithHandler(h), WithLogger(testLogger()), WithObserver(obs)}, opts...)
	svc := NewService(port, chunks, opts...)

	group := concurrency.NewDispatchGroup(concurrency.GroupConfig{Workers: 4, IdleTimeout: 10 * time.Millisecond},
		port, chunks, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	group.Start(ctx)
	require.NoError(t, svc.Start(ctx))

	hs := &harness{svc: svc, port: port, chunks: chunks, group: group, obs: obs}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = svc.Shutdown(sctx)
		_ = port.Close()
		cancel()
		group.Wait()
	})
	return hs
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", h.svc.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.svc.SessionCount() == n }, 3*time.Second, 5*time.Millisecond)
}

// rawBuffer frames body without any JSON encoding.
func rawBuffer(c *pool.ChunkCache, id protocol.MessageID, body []byte) *pool.SendBuffer {
	size := protocol.HeaderSize + len(body)
	sb, err := c.Open(size)
	if err != nil {
		panic(err)
	}
	protocol.PutHeader(sb.Buffer(), id, size)
	copy(sb.Buffer()[protocol.HeaderSize:], body)
	sb.Close(size)
	return sb
}

func writeFrame(t *testing.T, c net.Conn, id protocol.MessageID, body []byte) {
	t.Helper()
	frame, err := protocol.AppendFrame(nil, id, body)
	require.NoError(t, err)
	_, err = c.Write(frame)
	require.NoError(t, err)
}

func readFrame(c net.Conn) (protocol.MessageID, []byte, error) {
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var hdr [protocol.HeaderSize]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint16(hdr[0:2])
	id := protocol.MessageID(binary.LittleEndian.Uint16(hdr[2:4]))
	body := make([]byte, int(size)-protocol.HeaderSize)
	if _, err := io.ReadFull(c, body); err != nil {
		return 0, nil, err
	}
	return id, body, nil
}

// echo sends every packet straight back.
var echo = PacketHandlerFunc(func(w *reactor.Worker, s *Session, id protocol.MessageID, body []byte) bool {
	sb := rawBuffer(w.Chunks, id, body)
	s.Send(sb)
	sb.Release()
	return true
})
