package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/chat"
	"github.com/momentics/hioload-talk/control"
	"github.com/momentics/hioload-talk/internal/concurrency"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/room"
	"github.com/momentics/hioload-talk/server"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	addr       string
	workers    int
	adminAddr  string
	logLevel   string
	pin        bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			load := func() (control.Config, error) { return loadConfig(cmd, opts) }
			cfg, err := load()
			if err != nil {
				return err
			}
			level := new(slog.LevelVar)
			lvl, _ := control.ParseLogLevel(cfg.Log.Level)
			level.Set(lvl)
			log := newLogger(os.Stderr, cfg.Log.Format, level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, level, log, load, nil)
		},
	}

	bindServeFlags(cmd, &opts)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&opts.addr, "addr", "", "listen address (overrides config)")
	f.IntVar(&opts.workers, "workers", 0, "dispatch workers, 0 = one per CPU")
	f.StringVar(&opts.adminAddr, "admin-addr", "", "admin HTTP address, \"off\" disables it")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&opts.pin, "pin", false, "pin dispatch workers to CPUs")
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, opts serveOptions) (control.Config, error) {
	cfg, err := control.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if f.Changed("workers") {
		cfg.Dispatch.Workers = opts.workers
	}
	if f.Changed("admin-addr") {
		cfg.Admin.Addr = opts.adminAddr
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("pin") {
		cfg.Dispatch.Pin = opts.pin
	}
	if cfg.Admin.Addr == "off" {
		cfg.Admin.Addr = ""
	}
	return cfg, cfg.Validate()
}

type endpoints struct {
	chat  net.Addr
	admin net.Addr
}

// runServer blocks until ctx is done, then drains sessions and stops the
// workers. reload is invoked on SIGHUP; ready, when set, receives the bound
// addresses once the server accepts connections.
func runServer(ctx context.Context, cfg control.Config, level *slog.LevelVar, log *slog.Logger,
	reload func() (control.Config, error), ready func(endpoints)) error {
	metrics := control.NewMetrics()
	port := reactor.NewPort(
		reactor.WithQueueDepth(cfg.Dispatch.QueueDepth),
		reactor.WithObserver(metrics.Completion),
	)
	chunks := pool.NewChunkPool(cfg.Pool.ChunkSize, cfg.Pool.MaxChunks)
	metrics.WatchChunkPool(chunks)

	svc := server.NewService(port, chunks,
		server.WithConfig(cfg.ServerConfig()),
		server.WithLogger(log),
		server.WithObserver(metrics),
		server.WithRoomOptions(append(cfg.RoomOptions(), room.WithRoomsObserver(metrics.SetRooms))...),
	)
	chat.Install(svc)

	// Workers stop when the port closes, after session teardown.
	group := concurrency.NewDispatchGroup(cfg.GroupConfig(), port, chunks, log)
	group.Start(context.Background())
	defer group.Wait()
	defer port.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	var stopping atomic.Bool

	store := control.NewConfigStore(cfg)
	store.OnReload(func(old, cur control.Config) {
		lvl, _ := control.ParseLogLevel(cur.Log.Level)
		level.Set(lvl)
		if old.Server != cur.Server || old.Dispatch != cur.Dispatch || old.Pool != cur.Pool {
			log.Warn("listener, dispatch and pool settings apply on restart only")
		}
		log.Info("config reloaded", "log_level", cur.Log.Level)
	})

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	control.RegisterServerProbes(probes, svc, port, chunks, group)
	probes.RegisterProbe("build", func() any {
		return struct {
			api.ServiceInfo
			Commit string `json:"commit"`
			Date   string `json:"date"`
		}{svc.Info("hioload-talk", version), commit, date}
	})

	ep := endpoints{chat: svc.Addr()}
	var admin *control.AdminServer
	if cfg.Admin.Addr != "" {
		health := func() error {
			if stopping.Load() {
				return errors.New("shutting down")
			}
			return nil
		}
		var err error
		admin, err = control.StartAdmin(cfg.Admin.Addr, control.NewAdminRouter(metrics.Registry(), probes, health), log)
		if err != nil {
			_ = svc.Shutdown(ctx)
			return fmt.Errorf("start admin server: %w", err)
		}
		ep.admin = admin.Addr()
	}
	log.Info("hioload-talk listening", "addr", ep.chat.String(), "workers", group.Workers(), "version", version)
	if ready != nil {
		ready(ep)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-hup:
			if reload == nil {
				continue
			}
			next, err := reload()
			if err == nil {
				err = store.Reload(next)
			}
			if err != nil {
				log.Error("config reload failed", "error", err)
			}
		}
	}

	stopping.Store(true)
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := svc.Shutdown(sctx)
	if admin != nil {
		if aerr := admin.Shutdown(sctx); aerr != nil {
			log.Warn("admin shutdown failed", "error", aerr)
		}
	}
	return err
}
