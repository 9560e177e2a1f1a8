package config

import (
	"context"
	"crypto/sha256"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type watchableProvider interface {
	WatchPath() string
}

// Update describes one successful reload. A live process can apply very
// little of a config change — the pump's descriptors, addresses, MTU
// and tunnel wiring are fixed at startup — so each update separates the
// fields that took effect from the ones that did not.
type Update struct {
	Old    *Config
	Config *Config
	// RestartOnly lists the changed fields the running process cannot
	// re-apply; empty means the reload took full effect. The logging
	// section is excluded — the logging runtime does its own
	// reloadable-vs-frozen split.
	RestartOnly []string
}

// Manager keeps an atomic snapshot of the latest valid config and polls
// the backing file by content digest, so an edit is detected even when
// size and mtime are unchanged. Invalid reloads never replace the
// snapshot.
//
// Manager only watches providers that also implement WatchPath()
// (e.g. FileConfigProvider).
type Manager struct {
	provider ConfigProvider

	pollInterval time.Duration
	watchPath    string

	digestMu   sync.Mutex
	lastDigest [sha256.Size]byte

	v atomic.Value // *Config

	subsMu sync.Mutex
	subs   []func(Update)
}

type ManagerOptions struct {
	PollInterval time.Duration
}

func NewManager(provider ConfigProvider, opts ManagerOptions) *Manager {
	m := &Manager{provider: provider}
	m.pollInterval = opts.PollInterval
	if m.pollInterval <= 0 {
		m.pollInterval = 1 * time.Second
	}
	if wp, ok := provider.(watchableProvider); ok {
		m.watchPath = wp.WatchPath()
	}
	return m
}

func (m *Manager) Current() *Config {
	cfg, _ := m.v.Load().(*Config)
	return cfg
}

func (m *Manager) Subscribe(fn func(Update)) {
	if fn == nil {
		return
	}
	m.subsMu.Lock()
	m.subs = append(m.subs, fn)
	m.subsMu.Unlock()
}

func (m *Manager) LoadInitial(ctx context.Context) (*Config, error) {
	cfg, err := m.provider.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.SetCurrent(cfg)
	return cfg, nil
}

// SetCurrent seeds or replaces the current snapshot without calling the
// provider; intended for startup wiring where the config is already
// loaded (and possibly overlaid with CLI arguments).
func (m *Manager) SetCurrent(cfg *Config) {
	if cfg == nil {
		return
	}
	m.v.Store(cfg)
	if sum, err := m.readDigest(); err == nil {
		m.digestMu.Lock()
		m.lastDigest = sum
		m.digestMu.Unlock()
	}
}

// ReloadNow forces a reload. On success the snapshot is swapped and
// subscribers receive the update with its restart-only field list; an
// invalid config is rejected and the previous snapshot stays current.
func (m *Manager) ReloadNow(ctx context.Context) error {
	cfg, err := m.provider.Load(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	old, _ := m.v.Load().(*Config)
	m.v.Store(cfg)

	u := Update{Old: old, Config: cfg, RestartOnly: restartOnlyFields(old, cfg)}

	m.subsMu.Lock()
	subs := slices.Clone(m.subs)
	m.subsMu.Unlock()
	for _, fn := range subs {
		fn(u)
	}
	return nil
}

func (m *Manager) Start(ctx context.Context) {
	if m.watchPath == "" {
		return
	}
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	t := time.NewTicker(m.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !m.takeChangedDigest() {
				continue
			}
			// Best-effort; the previous snapshot stays current on
			// error, and the digest above keeps a broken file from
			// being re-parsed every tick until it changes again.
			_ = m.ReloadNow(ctx)
		}
	}
}

// takeChangedDigest re-hashes the watched file and reports whether its
// contents moved since the last observation, recording the new digest
// either way.
func (m *Manager) takeChangedDigest() bool {
	sum, err := m.readDigest()
	if err != nil {
		return false
	}

	m.digestMu.Lock()
	defer m.digestMu.Unlock()
	if sum == m.lastDigest {
		return false
	}
	m.lastDigest = sum
	return true
}

func (m *Manager) readDigest() ([sha256.Size]byte, error) {
	data, err := os.ReadFile(m.watchPath)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// restartOnlyFields compares the fields a running process cannot
// re-apply: the pump's descriptor wiring, interface configuration and
// the tunnel setup.
func restartOnlyFields(old, cur *Config) []string {
	if old == nil {
		return nil
	}
	var out []string
	changed := func(name string, differs bool) {
		if differs {
			out = append(out, name)
		}
	}
	changed("tap_name", old.TapName != cur.TapName)
	changed("read_socket", old.ReadSocket != cur.ReadSocket)
	changed("write_socket", old.WriteSocket != cur.WriteSocket)
	changed("ipv4_address", old.IPv4Address != cur.IPv4Address)
	changed("ipv4_netmask", old.IPv4Netmask != cur.IPv4Netmask)
	changed("ipv4_gateway", old.IPv4Gateway != cur.IPv4Gateway)
	changed("mtu", old.MTU != cur.MTU)
	changed("admin_addr", old.AdminAddr != cur.AdminAddr)
	changed("reload", old.Reload != cur.Reload)
	changed("tunnel", !tunnelEqual(old.Tunnel, cur.Tunnel))
	return out
}

func tunnelEqual(a, b TunnelConfig) bool {
	return a.ListenAddr == b.ListenAddr &&
		a.ServerAddr == b.ServerAddr &&
		a.AuthToken == b.AuthToken &&
		a.DialTimeout == b.DialTimeout &&
		slices.Equal(a.Channels, b.Channels)
}
