package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath is the environment variable used to override the config file path.
const EnvConfigPath = "TAPPUMP_CONFIG"

type ConfigPathSource string

const (
	ConfigPathSourceFlag ConfigPathSource = "flag"
	ConfigPathSourceEnv  ConfigPathSource = "env"
	ConfigPathSourceCWD  ConfigPathSource = "cwd"
	ConfigPathSourceNone ConfigPathSource = "none"
)

type ResolvedConfigPath struct {
	Path   string
	Source ConfigPathSource
}

// ResolveConfigPath resolves the effective configuration file path.
//
// Precedence:
//  1. explicitFlagPath (from -config)
//  2. TAPPUMP_CONFIG environment variable
//  3. Auto-discovery in the current working directory (tappump.toml > tappump.yaml > tappump.yml)
//
// A config file is optional: when nothing resolves, Source is
// ConfigPathSourceNone and the caller runs on defaults plus CLI args.
func ResolveConfigPath(explicitFlagPath string) (ResolvedConfigPath, error) {
	if p := strings.TrimSpace(explicitFlagPath); p != "" {
		p, err := normalizeExplicitPath(p)
		if err != nil {
			return ResolvedConfigPath{}, err
		}
		return ResolvedConfigPath{Path: p, Source: ConfigPathSourceFlag}, nil
	}

	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		p, err := normalizeExplicitPath(p)
		if err != nil {
			return ResolvedConfigPath{}, err
		}
		return ResolvedConfigPath{Path: p, Source: ConfigPathSourceEnv}, nil
	}

	if p, err := DiscoverConfigPath("."); err == nil {
		return ResolvedConfigPath{Path: p, Source: ConfigPathSourceCWD}, nil
	}

	return ResolvedConfigPath{Source: ConfigPathSourceNone}, nil
}

func normalizeExplicitPath(p string) (string, error) {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("config: empty config path")
	}

	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("config: %s does not exist", p)
		}
		return "", fmt.Errorf("config: stat %s: %w", p, err)
	}
	if fi.IsDir() {
		discovered, derr := DiscoverConfigPath(p)
		if derr != nil {
			return "", derr
		}
		return discovered, nil
	}
	return p, nil
}
