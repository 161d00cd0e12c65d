package config

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Manager holds a RuntimeConfig that can be hot-swapped by re-running Load
// against the same path, e.g. on SIGHUP. Readers call Current and never
// block on a reload in progress; Reload only replaces the pointer once the
// new config has parsed successfully, so a broken edit never displaces a
// working config.
type Manager struct {
	path    string
	log     zerolog.Logger
	current atomic.Pointer[RuntimeConfig]

	// OnReload, if set, runs after a successful Reload with the new config.
	OnReload func(*RuntimeConfig)
}

// NewManager loads path once and returns a Manager wrapping the result.
func NewManager(path string, log zerolog.Logger) (*Manager, error) {
	cfg, err := Load(path, log)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, log: log}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the most recently loaded RuntimeConfig.
func (m *Manager) Current() *RuntimeConfig {
	return m.current.Load()
}

// Reload re-parses the manager's config file and, on success, swaps it in
// and invokes OnReload. A parse error leaves the current config untouched.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path, m.log)
	if err != nil {
		m.log.Error().Err(err).Str("path", m.path).Msg("config reload failed, keeping previous config")
		return err
	}
	m.current.Store(cfg)
	m.log.Info().Str("path", m.path).Msg("config reloaded")
	if m.OnReload != nil {
		m.OnReload(cfg)
	}
	return nil
}
