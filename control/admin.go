// control/admin.go
// Author: momentics <momentics@gmail.com>
//
// Admin HTTP surface: /metrics, /healthz and /debug/state.

package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports nil while the server accepts connections.
type HealthFunc func() error

// NewAdminRouter mounts the admin endpoints. Any argument may be nil.
func NewAdminRouter(reg *prometheus.Registry, probes *DebugProbes, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/debug", func(r chi.Router) {
		r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
			if probes == nil {
				writeJSON(w, http.StatusOK, map[string]any{})
				return
			}
			writeJSON(w, http.StatusOK, probes.DumpState())
		})
		r.Get("/state/{probe}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "probe")
			if probes != nil {
				if v, ok := probes.DumpState()[name]; ok {
					writeJSON(w, http.StatusOK, v)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown probe " + name})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// AdminServer serves the admin router on its own listener.
type AdminServer struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// StartAdmin binds addr and serves h in the background.
func StartAdmin(addr string, h http.Handler, log *slog.Logger) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	a := &AdminServer{
		srv: &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: log.With("component", "admin"),
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin server stopped", "error", err)
		}
	}()
	a.log.Info("admin server listening", "addr", ln.Addr().String())
	return a, nil
}

// Addr returns the bound address.
func (a *AdminServer) Addr() net.Addr { return a.ln.Addr() }

// Shutdown stops the server gracefully.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
