package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Rooms.DefaultMaxUsers)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 127.0.0.1:9000
  accept_backlog: 16
dispatch:
  workers: 3
  idle_timeout: 250ms
rooms:
  default_max_users: 8
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 16, cfg.Server.AcceptBacklog)
	assert.Equal(t, 3, cfg.Dispatch.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.IdleTimeout)
	assert.Equal(t, 8, cfg.Rooms.DefaultMaxUsers)
	assert.Equal(t, DefaultConfig().Server.RecvBufferUnit, cfg.Server.RecvBufferUnit, "unset fields keep defaults")

	sc := cfg.ServerConfig()
	assert.Equal(t, "127.0.0.1:9000", sc.Addr)
	assert.Equal(t, 16, sc.AcceptBacklog)
	assert.Equal(t, 3, cfg.GroupConfig().Workers)
	assert.Len(t, cfg.RoomOptions(), 2)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddr:      "0.0.0.0:1234",
		EnvWorkers:   "6",
		EnvAdminAddr: "127.0.0.1:0",
		EnvLogLevel:  "warn",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "0.0.0.0:1234", cfg.Server.Addr)
	assert.Equal(t, 6, cfg.Dispatch.Workers)
	assert.Equal(t, "127.0.0.1:0", cfg.Admin.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)

	env[EnvWorkers] = "many"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero backlog", func(c *Config) { c.Server.AcceptBacklog = 0 }},
		{"negative workers", func(c *Config) { c.Dispatch.Workers = -1 }},
		{"tiny chunks", func(c *Config) { c.Pool.ChunkSize = 16 }},
		{"default above limit", func(c *Config) { c.Rooms.DefaultMaxUsers = c.Rooms.UserLimit + 1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigStoreReload(t *testing.T) {
	store := NewConfigStore(DefaultConfig())
	var seen []string
	store.OnReload(func(old, cur Config) { seen = append(seen, old.Log.Level+"->"+cur.Log.Level) })

	next := DefaultConfig()
	next.Log.Level = "debug"
	require.NoError(t, store.Reload(next))
	assert.Equal(t, []string{"info->debug"}, seen)
	assert.Equal(t, "debug", store.Snapshot().Log.Level)

	bad := DefaultConfig()
	bad.Server.Addr = ""
	assert.Error(t, store.Reload(bad))
	assert.Equal(t, "debug", store.Snapshot().Log.Level)
	assert.Len(t, seen, 1)
}
