package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tappump/internal/frame"
)

type ReloadConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

type AdminLogBufferConfig struct {
	Enabled bool
	Size    int
}

type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string
	// Format is one of: json, text.
	Format string
	// Output is one of: stderr, stdout, discard; or a file path.
	Output string
	// AddSource enables source file/line reporting (slightly higher overhead).
	AddSource bool
	// AdminBuffer controls an in-memory log line ring buffer used by the admin server.
	AdminBuffer AdminLogBufferConfig
}

// ChannelConfig describes one extra channel carried over the tunnel: a
// local endpoint coupled to a named multiplexed stream by a pair of
// forwarders.
type ChannelConfig struct {
	Name string
	// Proto is one of: stream (local tcp/unix stream endpoint) or
	// datagram (local unix datagram endpoint). Datagram channels are
	// always framed on the stream side to preserve packet boundaries.
	Proto string
	// LocalAddr is the local endpoint: host:port, unix:/path or
	// unixgram:/path.
	LocalAddr string
	// BindAddr is the local unixgram address bound for replies.
	// Datagram channels only.
	BindAddr string
	// ReadHeader strips a 2-byte length prefix from data arriving on
	// the tunnel stream. Stream channels only.
	ReadHeader bool
	// WriteHeader prepends a 2-byte length prefix to data sent onto
	// the tunnel stream. Stream channels only.
	WriteHeader bool
	// ReadSize is the preferred chunk size for unframed reads.
	ReadSize int
}

// TunnelConfig configures the extra-channel carrier. Exactly one role is
// active: ListenAddr accepts the host-side counterpart, ServerAddr dials
// out to it.
type TunnelConfig struct {
	ListenAddr  string
	ServerAddr  string
	AuthToken   string
	DialTimeout time.Duration
	Channels    []ChannelConfig
}

type Config struct {
	// TapName is the TAP interface to create or attach. Empty lets the
	// kernel assign one.
	TapName string
	// ReadSocket is the bound AF_UNIX datagram path the peer sends frames into.
	ReadSocket string
	// WriteSocket is the AF_UNIX datagram path frames are sent to.
	WriteSocket string

	IPv4Address string
	IPv4Netmask string
	IPv4Gateway string
	MTU         int

	// AdminAddr enables the admin HTTP server when non-empty.
	AdminAddr string

	Logging LoggingConfig
	Reload  ReloadConfig
	Tunnel  TunnelConfig
}

// Validate enforces the constraints the pump relies on. The advisory MTU
// ceiling is not enforced here; callers may warn instead.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ReadSocket) == "" {
		return fmt.Errorf("config: read_socket is required")
	}
	if strings.TrimSpace(c.WriteSocket) == "" {
		return fmt.Errorf("config: write_socket is required")
	}
	if err := frame.ValidateMTU(c.MTU); err != nil {
		return err
	}
	if c.Tunnel.ListenAddr != "" && c.Tunnel.ServerAddr != "" {
		return fmt.Errorf("config: tunnel listen_addr and server_addr are mutually exclusive")
	}
	seen := map[string]bool{}
	for i, ch := range c.Tunnel.Channels {
		if ch.Name == "" {
			return fmt.Errorf("config: tunnel channel %d: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("config: duplicate tunnel channel %q", ch.Name)
		}
		seen[ch.Name] = true
		if ch.LocalAddr == "" {
			return fmt.Errorf("config: tunnel channel %q: local_addr is required", ch.Name)
		}
		switch ch.Proto {
		case "stream", "datagram":
		default:
			return fmt.Errorf("config: tunnel channel %q: unknown proto %q", ch.Name, ch.Proto)
		}
		if ch.ReadSize < 1 || ch.ReadSize > 65535 {
			return fmt.Errorf("config: tunnel channel %q: invalid read_size %d", ch.Name, ch.ReadSize)
		}
	}
	return nil
}

type ConfigProvider interface {
	Load(ctx context.Context) (*Config, error)
}

type FileConfigProvider struct {
	Path string
}

func NewFileConfigProvider(path string) *FileConfigProvider {
	return &FileConfigProvider{Path: path}
}

func (p *FileConfigProvider) WatchPath() string {
	return p.Path
}

type fileConfig struct {
	TapName     string `yaml:"tap_name" toml:"tap_name"`
	ReadSocket  string `yaml:"read_socket" toml:"read_socket"`
	WriteSocket string `yaml:"write_socket" toml:"write_socket"`

	IPv4Address string `yaml:"ipv4_address" toml:"ipv4_address"`
	IPv4Netmask string `yaml:"ipv4_netmask" toml:"ipv4_netmask"`
	IPv4Gateway string `yaml:"ipv4_gateway" toml:"ipv4_gateway"`
	MTU         *int   `yaml:"mtu" toml:"mtu"`

	AdminAddr *string `yaml:"admin_addr" toml:"admin_addr"`

	Logging *struct {
		Level       string `yaml:"level" toml:"level"`
		Format      string `yaml:"format" toml:"format"`
		Output      string `yaml:"output" toml:"output"`
		AddSource   bool   `yaml:"add_source" toml:"add_source"`
		AdminBuffer *struct {
			Enabled bool `yaml:"enabled" toml:"enabled"`
			Size    int  `yaml:"size" toml:"size"`
		} `yaml:"admin_buffer" toml:"admin_buffer"`
	} `yaml:"logging" toml:"logging"`

	Reload *struct {
		Enabled        bool `yaml:"enabled" toml:"enabled"`
		PollIntervalMs int  `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	} `yaml:"reload" toml:"reload"`

	Tunnel *struct {
		ListenAddr    string `yaml:"listen_addr" toml:"listen_addr"`
		ServerAddr    string `yaml:"server_addr" toml:"server_addr"`
		AuthToken     string `yaml:"auth_token" toml:"auth_token"`
		DialTimeoutMs int    `yaml:"dial_timeout_ms" toml:"dial_timeout_ms"`
		Channels      []struct {
			Name        string `yaml:"name" toml:"name"`
			Proto       string `yaml:"proto" toml:"proto"`
			LocalAddr   string `yaml:"local_addr" toml:"local_addr"`
			BindAddr    string `yaml:"bind_addr" toml:"bind_addr"`
			ReadHeader  bool   `yaml:"read_header" toml:"read_header"`
			WriteHeader bool   `yaml:"write_header" toml:"write_header"`
			ReadSize    int    `yaml:"read_size" toml:"read_size"`
		} `yaml:"channels" toml:"channels"`
	} `yaml:"tunnel" toml:"tunnel"`
}

// Default returns the configuration used when no file is present: frame
// sizing at the advisory MTU ceiling and logging to stderr.
func Default() *Config {
	return &Config{
		MTU: frame.MaxMTU,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
			AdminBuffer: AdminLogBufferConfig{
				Enabled: false,
				Size:    1000,
			},
		},
	}
}

func (p *FileConfigProvider) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := unmarshalConfigFile(p.Path, data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.Path, err)
	}

	cfg := Default()
	cfg.TapName = strings.TrimSpace(fc.TapName)
	cfg.ReadSocket = strings.TrimSpace(fc.ReadSocket)
	cfg.WriteSocket = strings.TrimSpace(fc.WriteSocket)
	cfg.IPv4Address = strings.TrimSpace(fc.IPv4Address)
	cfg.IPv4Netmask = strings.TrimSpace(fc.IPv4Netmask)
	cfg.IPv4Gateway = strings.TrimSpace(fc.IPv4Gateway)
	if fc.MTU != nil {
		cfg.MTU = *fc.MTU
	}
	if fc.AdminAddr != nil {
		cfg.AdminAddr = strings.TrimSpace(*fc.AdminAddr)
	}

	if l := fc.Logging; l != nil {
		if v := strings.TrimSpace(l.Level); v != "" {
			cfg.Logging.Level = v
		}
		if v := strings.TrimSpace(l.Format); v != "" {
			cfg.Logging.Format = v
		}
		if v := strings.TrimSpace(l.Output); v != "" {
			cfg.Logging.Output = v
		}
		cfg.Logging.AddSource = l.AddSource
		if ab := l.AdminBuffer; ab != nil {
			cfg.Logging.AdminBuffer.Enabled = ab.Enabled
			if ab.Size > 0 {
				cfg.Logging.AdminBuffer.Size = ab.Size
			}
		}
	}

	if r := fc.Reload; r != nil {
		cfg.Reload.Enabled = r.Enabled
		cfg.Reload.PollInterval = time.Duration(r.PollIntervalMs) * time.Millisecond
	}

	if t := fc.Tunnel; t != nil {
		cfg.Tunnel.ListenAddr = strings.TrimSpace(t.ListenAddr)
		cfg.Tunnel.ServerAddr = strings.TrimSpace(t.ServerAddr)
		cfg.Tunnel.AuthToken = t.AuthToken
		cfg.Tunnel.DialTimeout = time.Duration(t.DialTimeoutMs) * time.Millisecond
		for _, ch := range t.Channels {
			cc := ChannelConfig{
				Name:        strings.TrimSpace(ch.Name),
				Proto:       strings.TrimSpace(strings.ToLower(ch.Proto)),
				LocalAddr:   strings.TrimSpace(ch.LocalAddr),
				BindAddr:    strings.TrimSpace(ch.BindAddr),
				ReadHeader:  ch.ReadHeader,
				WriteHeader: ch.WriteHeader,
				ReadSize:    ch.ReadSize,
			}
			if cc.Proto == "" {
				cc.Proto = "stream"
			}
			if cc.ReadSize == 0 {
				cc.ReadSize = 1500
			}
			if cc.Proto == "datagram" {
				// Boundaries over the stream require framing both ways.
				cc.ReadHeader = true
				cc.WriteHeader = true
			}
			cfg.Tunnel.Channels = append(cfg.Tunnel.Channels, cc)
		}
	}

	return cfg, nil
}

func unmarshalConfigFile(path string, data []byte, dst any) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(dst)
	case ".toml":
		md, err := toml.Decode(string(data), dst)
		if err != nil {
			return err
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return fmt.Errorf("unknown fields: %v", undec)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config extension %q (expected .toml or .yaml/.yml)", ext)
	}
}
