package control

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMetricsObserveServerEvents(t *testing.T) {
	m := NewMetrics()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("peer_closed")
	m.BytesReceived(10)
	m.BytesSent(4)
	m.PacketHandled(protocol.CLogin, true)
	m.PacketHandled(protocol.CLogin, false)
	m.Completion(reactor.OpRecv, 10, nil)
	m.Completion(reactor.OpSend, 0, errors.New("reset"))
	m.SetRooms(3)

	_, body := get(t, NewAdminRouter(m.Registry(), nil, nil), "/metrics")
	for _, line := range []string{
		`hioload_talk_sessions_active 1`,
		`hioload_talk_sessions_opened_total 2`,
		`hioload_talk_disconnects_total{cause="peer_closed"} 1`,
		`hioload_talk_received_bytes_total 10`,
		`hioload_talk_sent_bytes_total 4`,
		`hioload_talk_packets_total{packet="C_LOGIN",status="error"} 1`,
		`hioload_talk_packets_total{packet="C_LOGIN",status="ok"} 1`,
		`hioload_talk_completions_total{kind="send",status="error"} 1`,
		`hioload_talk_rooms_open 3`,
	} {
		assert.Contains(t, body, line+"\n")
	}
}

func TestAdminRouter(t *testing.T) {
	m := NewMetrics()
	chunks := pool.NewChunkPool(pool.DefaultChunkSize, 0)
	m.WatchChunkPool(chunks)
	m.SessionOpened()

	probes := NewDebugProbes()
	probes.RegisterProbe("pool", func() any { return chunks.Stats() })
	RegisterPlatformProbes(probes)

	var healthErr error
	h := NewAdminRouter(m.Registry(), probes, func() error { return healthErr })

	code, body := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "hioload_talk_sessions_active 1")
	assert.Contains(t, body, "hioload_talk_chunk_pool_created")

	code, body = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	healthErr = errors.New("listener closed")
	code, body = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "listener closed")

	code, body = get(t, h, "/debug/state")
	require.Equal(t, http.StatusOK, code)
	var state map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Contains(t, state, "pool")
	assert.Contains(t, state, "platform.cpus")

	code, body = get(t, h, "/debug/state/pool")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, `"chunk_size":65536`), body)

	code, _ = get(t, h, "/debug/state/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDebugProbesNamesSorted(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return 1 })
	assert.Equal(t, []string{"a", "b"}, dp.Names())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, dp.DumpState())
}
