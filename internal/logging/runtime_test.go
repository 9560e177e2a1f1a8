package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tappump/internal/config"
)

func TestNewRuntime_FileOutputAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pump.log")
	r, err := NewRuntime(config.LoggingConfig{Level: "warn", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Close()

	r.Logger().Info("hidden")
	r.Logger().Warn("visible")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line emitted at warn level: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %s", out)
	}
	if !strings.Contains(out, "app=tappump") {
		t.Fatalf("app attribute missing: %s", out)
	}
}

func TestRuntime_ReconfigureChangesLevel(t *testing.T) {
	r, err := NewRuntime(config.LoggingConfig{Level: "error", Output: "discard"})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Close()

	restart, err := r.Reconfigure(config.LoggingConfig{Level: "debug", Output: "discard"})
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if restart {
		t.Fatalf("level change flagged as restart")
	}
	if !r.Logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("debug not enabled after Reconfigure")
	}

	if _, err := r.Reconfigure(config.LoggingConfig{Level: "nonsense"}); err == nil {
		t.Fatalf("Reconfigure accepted unknown level")
	}
}

func TestRuntime_ReconfigureFlagsFrozenFields(t *testing.T) {
	r, err := NewRuntime(config.LoggingConfig{Level: "info", Format: "json", Output: "discard"})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Close()

	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "text", Output: "discard"},
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "info", Format: "json", Output: "discard", AddSource: true},
		{Level: "info", Format: "json", Output: "discard",
			AdminBuffer: config.AdminLogBufferConfig{Enabled: true, Size: 10}},
	} {
		restart, err := r.Reconfigure(cfg)
		if err != nil {
			t.Fatalf("Reconfigure(%+v): %v", cfg, err)
		}
		if !restart {
			t.Fatalf("frozen-field change not flagged: %+v", cfg)
		}
	}

	// Normalization: defaults spelled out are not drift.
	restart, err := r.Reconfigure(config.LoggingConfig{Level: "warn", Format: "JSON", Output: "discard"})
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if restart {
		t.Fatalf("equivalent config flagged as restart")
	}
}

func TestNewRuntime_AdminBuffer(t *testing.T) {
	r, err := NewRuntime(config.LoggingConfig{
		Output:      "discard",
		AdminBuffer: config.AdminLogBufferConfig{Enabled: true, Size: 10},
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Close()

	r.Logger().Info("buffered line")
	lines := r.Store().Snapshot(0)
	if len(lines) != 1 || !strings.Contains(lines[0], "buffered line") {
		t.Fatalf("store lines=%#v", lines)
	}
}

func TestNewRuntime_RejectsBadConfig(t *testing.T) {
	if _, err := NewRuntime(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("NewRuntime accepted unknown level")
	}
	if _, err := NewRuntime(config.LoggingConfig{Format: "xml"}); err == nil {
		t.Fatalf("NewRuntime accepted unknown format")
	}
}
