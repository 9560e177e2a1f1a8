package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds the configuration file in dir using the
// default naming convention and precedence.
//
// Precedence:
//  1. tappump.toml
//  2. tappump.yaml
//  3. tappump.yml
//
// JSON config files are intentionally not supported because JSON has no
// comments and pump configs are expected to be annotated.
func DiscoverConfigPath(dir string) (string, error) {
	candidates := CandidateConfigPaths(dir)
	for _, p := range candidates {
		if isRegularFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s; looked for %v", dir, candidates)
}

func CandidateConfigPaths(dir string) []string {
	return []string{
		filepath.Join(dir, "tappump.toml"),
		filepath.Join(dir, "tappump.yaml"),
		filepath.Join(dir, "tappump.yml"),
	}
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}
