// control/probes.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"time"

	"github.com/momentics/hioload-talk/internal/concurrency"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/server"
)

// RegisterServerProbes exposes the service registries, the room manager,
// the chunk pool, the completion port and the dispatch workers.
func RegisterServerProbes(dp *DebugProbes, svc *server.Service, port *reactor.Port, chunks *pool.ChunkPool, group *concurrency.DispatchGroup) {
	dp.RegisterProbe("service", func() any { return svc.Stats() })
	dp.RegisterProbe("listener", func() any { return svc.ListenerStats() })
	dp.RegisterProbe("rooms", func() any {
		type roomState struct {
			ID        uint64    `json:"id"`
			Name      string    `json:"name"`
			Host      uint64    `json:"host"`
			Count     int       `json:"count"`
			MaxUsers  int       `json:"max_users"`
			CreatedAt time.Time `json:"created_at"`
		}
		out := []roomState{}
		for _, r := range svc.Rooms().Rooms() {
			out = append(out, roomState{
				ID:        r.ID(),
				Name:      r.Name(),
				Host:      r.HostID(),
				Count:     r.Count(),
				MaxUsers:  r.MaxUsers(),
				CreatedAt: r.CreatedAt(),
			})
		}
		return out
	})
	dp.RegisterProbe("pool", func() any { return chunks.Stats() })
	dp.RegisterProbe("port.registered", func() any { return port.Len() })
	if group != nil {
		dp.RegisterProbe("dispatch", func() any { return group.Stats() })
	}
}
