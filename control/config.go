// control/config.go
// Author: momentics <momentics@gmail.com>
//
// File-backed configuration with environment overrides.

package control

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-talk/internal/concurrency"
	"github.com/momentics/hioload-talk/internal/transport"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/reactor"
	"github.com/momentics/hioload-talk/room"
	"github.com/momentics/hioload-talk/server"
)

// Environment variables read by ApplyEnv.
const (
	EnvAddr      = "HIOLOAD_TALK_ADDR"
	EnvWorkers   = "HIOLOAD_TALK_WORKERS"
	EnvAdminAddr = "HIOLOAD_TALK_ADMIN_ADDR"
	EnvLogLevel  = "HIOLOAD_TALK_LOG_LEVEL"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("control: invalid config")

// Config is the full server configuration.
type Config struct {
	Server struct {
		Addr           string        `yaml:"addr"`
		AcceptBacklog  int           `yaml:"accept_backlog"`
		RecvBufferUnit int           `yaml:"recv_buffer_unit"`
		NoDelay        bool          `yaml:"no_delay"`
		KeepAlive      time.Duration `yaml:"keep_alive"`
	} `yaml:"server"`
	Dispatch struct {
		Workers     int           `yaml:"workers"`
		Pin         bool          `yaml:"pin"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
		QueueDepth  int           `yaml:"queue_depth"`
	} `yaml:"dispatch"`
	Pool struct {
		ChunkSize int `yaml:"chunk_size"`
		MaxChunks int `yaml:"max_chunks"`
	} `yaml:"pool"`
	Rooms struct {
		DefaultMaxUsers int `yaml:"default_max_users"`
		UserLimit       int `yaml:"user_limit"`
	} `yaml:"rooms"`
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig returns a Config with every field populated.
func DefaultConfig() Config {
	var c Config
	sc := server.DefaultConfig()
	c.Server.Addr = sc.Addr
	c.Server.AcceptBacklog = sc.AcceptBacklog
	c.Server.RecvBufferUnit = sc.RecvBufferUnit
	c.Server.NoDelay = sc.Socket.NoDelay
	c.Server.KeepAlive = sc.Socket.KeepAlive
	c.Dispatch.IdleTimeout = concurrency.DefaultIdleTimeout
	c.Dispatch.QueueDepth = reactor.DefaultQueueDepth
	c.Pool.ChunkSize = pool.DefaultChunkSize
	c.Rooms.DefaultMaxUsers = room.DefaultMaxUsers
	c.Rooms.UserLimit = room.DefaultUserLimit
	c.Admin.Addr = "127.0.0.1:9090"
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Dispatch.Workers = n
	}
	if v := getenv(EnvAdminAddr); v != "" {
		c.Admin.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.AcceptBacklog < 1 {
		errs = append(errs, fmt.Errorf("server.accept_backlog %d < 1", c.Server.AcceptBacklog))
	}
	if c.Server.RecvBufferUnit < 1 {
		errs = append(errs, fmt.Errorf("server.recv_buffer_unit %d < 1", c.Server.RecvBufferUnit))
	}
	if c.Dispatch.Workers < 0 {
		errs = append(errs, fmt.Errorf("dispatch.workers %d < 0", c.Dispatch.Workers))
	}
	if c.Dispatch.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("dispatch.queue_depth %d < 1", c.Dispatch.QueueDepth))
	}
	if c.Pool.ChunkSize < 0x100 {
		errs = append(errs, fmt.Errorf("pool.chunk_size %d < 256", c.Pool.ChunkSize))
	}
	if c.Pool.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("pool.max_chunks %d < 0", c.Pool.MaxChunks))
	}
	if c.Rooms.UserLimit < 1 || c.Rooms.DefaultMaxUsers < 1 || c.Rooms.DefaultMaxUsers > c.Rooms.UserLimit {
		errs = append(errs, fmt.Errorf("rooms: default_max_users %d must be in [1,%d]", c.Rooms.DefaultMaxUsers, c.Rooms.UserLimit))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is neither text nor json", f))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ServerConfig projects the listener and session settings.
func (c Config) ServerConfig() server.Config {
	sc := server.DefaultConfig()
	sc.Addr = c.Server.Addr
	sc.AcceptBacklog = c.Server.AcceptBacklog
	sc.RecvBufferUnit = c.Server.RecvBufferUnit
	sc.Socket = transport.Options{NoDelay: c.Server.NoDelay, KeepAlive: c.Server.KeepAlive}
	return sc
}

// GroupConfig projects the dispatch worker settings.
func (c Config) GroupConfig() concurrency.GroupConfig {
	return concurrency.GroupConfig{
		Workers:     c.Dispatch.Workers,
		Pin:         c.Dispatch.Pin,
		IdleTimeout: c.Dispatch.IdleTimeout,
	}
}

// RoomOptions projects the room capacity settings.
func (c Config) RoomOptions() []room.ManagerOption {
	return []room.ManagerOption{
		room.WithDefaultMaxUsers(c.Rooms.DefaultMaxUsers),
		room.WithUserLimit(c.Rooms.UserLimit),
	}
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}
