package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReloadsOnFileChange(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "tappump.yaml")

	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	write(`
read_socket: "/tmp/r.sock"
write_socket: "/tmp/w.sock"
logging:
  level: "info"
`)

	p := NewFileConfigProvider(path)
	m := NewManager(p, ManagerOptions{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	changedCh := make(chan Update, 1)
	m.Subscribe(func(u Update) {
		select {
		case changedCh <- u:
		default:
		}
	})
	m.Start(ctx)

	write(`
read_socket: "/tmp/r.sock"
write_socket: "/tmp/w.sock"
logging:
  level: "debug"
`)

	select {
	case u := <-changedCh:
		if u.Config.Logging.Level != "debug" {
			t.Fatalf("level=%q want debug", u.Config.Logging.Level)
		}
		// A logging-only edit is fully hot.
		if len(u.RestartOnly) != 0 {
			t.Fatalf("RestartOnly=%v want empty", u.RestartOnly)
		}
	case <-ctx.Done():
		t.Fatalf("no reload observed")
	}

	if cur := m.Current(); cur == nil || cur.Logging.Level != "debug" {
		t.Fatalf("Current not swapped")
	}
}

func TestManager_FlagsRestartOnlyFields(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "tappump.yaml")
	body := `
read_socket: "/tmp/r.sock"
write_socket: "/tmp/w.sock"
mtu: 1400
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewManager(NewFileConfigProvider(path), ManagerOptions{})
	ctx := context.Background()
	if _, err := m.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	var got Update
	m.Subscribe(func(u Update) { got = u })

	next := `
read_socket: "/tmp/r2.sock"
write_socket: "/tmp/w.sock"
mtu: 1200
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.ReloadNow(ctx); err != nil {
		t.Fatalf("ReloadNow: %v", err)
	}

	want := map[string]bool{"read_socket": true, "mtu": true}
	if len(got.RestartOnly) != len(want) {
		t.Fatalf("RestartOnly=%v want read_socket+mtu", got.RestartOnly)
	}
	for _, f := range got.RestartOnly {
		if !want[f] {
			t.Fatalf("unexpected restart-only field %q in %v", f, got.RestartOnly)
		}
	}
	if got.Old == nil || got.Old.MTU != 1400 || got.Config.MTU != 1200 {
		t.Fatalf("update old/new mismatch: %+v", got)
	}
}

func TestManager_KeepsSnapshotOnInvalidReload(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "tappump.yaml")

	body := `
read_socket: "/tmp/r.sock"
write_socket: "/tmp/w.sock"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := NewFileConfigProvider(path)
	m := NewManager(p, ManagerOptions{})
	ctx := context.Background()

	if _, err := m.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	notified := false
	m.Subscribe(func(Update) { notified = true })

	// An MTU below the hard minimum must not replace the snapshot.
	if err := os.WriteFile(path, []byte(body+"mtu: 100\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.ReloadNow(ctx); err == nil {
		t.Fatalf("ReloadNow accepted invalid config")
	}
	if cur := m.Current(); cur == nil || cur.MTU != 1486 {
		t.Fatalf("snapshot replaced by invalid config: %+v", cur)
	}
	if notified {
		t.Fatalf("subscribers notified for a rejected reload")
	}
}
