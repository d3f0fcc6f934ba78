// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for sessions, completions, packets, rooms and the
// send buffer pool.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/protocol"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/server"
)

// Namespace prefixes every metric name.
const Namespace = "hioload_talk"

// Metrics implements server.Observer and feeds a reactor.Observer.
type Metrics struct {
	reg *prometheus.Registry

	sessions      prometheus.Gauge
	sessionsTotal prometheus.Counter
	disconnects   *prometheus.CounterVec
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	packets       *prometheus.CounterVec
	completions   *prometheus.CounterVec
	rooms         prometheus.Gauge
}

var _ server.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Connected sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions that reached the connected state.",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "disconnects_total",
			Help:      "Closed sessions by disconnect cause.",
		}, []string{"cause"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes read from client sockets.",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes written to client sockets.",
		}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_total",
			Help:      "Handled packets by message id and outcome.",
		}, []string{"packet", "status"}),
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "completions_total",
			Help:      "Dispatched I/O completions by kind and outcome.",
		}, []string{"kind", "status"}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rooms_open",
			Help:      "Open chat rooms.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SessionOpened() {
	m.sessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionClosed(cause string) {
	m.sessions.Dec()
	m.disconnects.WithLabelValues(cause).Inc()
}

func (m *Metrics) BytesReceived(n int) { m.bytesIn.Add(float64(n)) }
func (m *Metrics) BytesSent(n int)     { m.bytesOut.Add(float64(n)) }

func (m *Metrics) PacketHandled(id protocol.MessageID, ok bool) {
	m.packets.WithLabelValues(id.String(), status(ok)).Inc()
}

// Completion matches reactor.Observer.
func (m *Metrics) Completion(kind reactor.OpKind, _ int, err error) {
	m.completions.WithLabelValues(kind.String(), status(err == nil)).Inc()
}

// SetRooms matches the room manager's count observer.
func (m *Metrics) SetRooms(n int) { m.rooms.Set(float64(n)) }

// WatchChunkPool exports p's counters, sampled at scrape time.
func (m *Metrics) WatchChunkPool(p *pool.ChunkPool) {
	factory := promauto.With(m.reg)
	gauge := func(name, help string, fn func(pool.Stats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "chunk_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(p.Stats()) })
	}
	gauge("created", "Chunks allocated since start.", func(s pool.Stats) float64 { return float64(s.Created) })
	gauge("pooled", "Chunks waiting in the free list.", func(s pool.Stats) float64 { return float64(s.Pooled) })
	gauge("in_use", "Chunks held by caches or live send buffers.", func(s pool.Stats) float64 { return float64(s.InUse) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "chunk_pool",
		Name:      "reused_total",
		Help:      "Chunks served from the free list.",
	}, func() float64 { return float64(p.Stats().Reused) })
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
