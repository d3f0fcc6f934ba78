// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe holder of the active Config with reload listeners.

package control

import "sync"

// ConfigStore keeps the current Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(old, cur Config)
}

// NewConfigStore starts with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Snapshot returns a copy of the current Config.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.cfg
}

// OnReload registers fn for later Reload calls.
func (cs *ConfigStore) OnReload(fn func(old, cur Config)) {
	cs.mu.Lock()
	cs.listeners = append(cs.listeners, fn)
	cs.mu.Unlock()
}

// Reload validates cfg, makes it current and runs the listeners
// synchronously in registration order.
func (cs *ConfigStore) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.cfg
	cs.cfg = cfg
	listeners := append([]func(old, cur Config){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}
