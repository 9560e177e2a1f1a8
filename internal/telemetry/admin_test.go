package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeLogs struct {
	lines   []string
	dropped uint64
}

func (f fakeLogs) Snapshot(limit int) []string {
	if limit <= 0 || limit >= len(f.lines) {
		return append([]string{}, f.lines...)
	}
	return append([]string{}, f.lines[len(f.lines)-limit:]...)
}

func (f fakeLogs) Dropped() uint64 { return f.dropped }

func startAdmin(t *testing.T, opts AdminServerOptions) *httptest.Server {
	t.Helper()
	as := NewAdminServer(opts)
	ts := httptest.NewServer(as.srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestAdminServer_MetricsEndpoint(t *testing.T) {
	m := NewMetricsCollector()
	m.AddTapToSock(3, 1200)
	m.AddSockToTap(2, 900)
	m.IncOversizeDrop()
	m.AddChannelBytes("ctl", 64)

	ts := startAdmin(t, AdminServerOptions{Metrics: m})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}

	var snap MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.FramesTapToSock != 3 || snap.BytesTapToSock != 1200 {
		t.Fatalf("egress snapshot=%+v", snap)
	}
	if snap.FramesSockToTap != 2 || snap.BytesSockToTap != 900 {
		t.Fatalf("ingress snapshot=%+v", snap)
	}
	if snap.OversizeDrops != 1 {
		t.Fatalf("drops=%d want 1", snap.OversizeDrops)
	}
	if snap.ChannelBytes["ctl"] != 64 {
		t.Fatalf("channel bytes=%+v", snap.ChannelBytes)
	}
}

func TestAdminServer_LogsEndpoint(t *testing.T) {
	ts := startAdmin(t, AdminServerOptions{
		Metrics: NewMetricsCollector(),
		Logs:    fakeLogs{lines: []string{"a", "b", "c"}, dropped: 2},
	})

	resp, err := http.Get(ts.URL + "/logs?limit=2")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}

	var out logsReport
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 2 || out.Lines[0] != "b" || out.Lines[1] != "c" {
		t.Fatalf("lines=%#v want [b c]", out.Lines)
	}
	if out.Dropped != 2 {
		t.Fatalf("dropped=%d want=2", out.Dropped)
	}
}

func TestAdminServer_LogsEndpointDisabled(t *testing.T) {
	ts := startAdmin(t, AdminServerOptions{Metrics: NewMetricsCollector()})

	resp, err := http.Get(ts.URL + "/logs")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=404", resp.StatusCode)
	}
}

func TestAdminServer_HealthReportsPumpState(t *testing.T) {
	status := PumpStatus{
		Running:            true,
		EgressBusy:         true,
		EgressPendingBytes: 42,
	}
	listening := true

	ts := startAdmin(t, AdminServerOptions{
		Metrics:    NewMetricsCollector(),
		PumpStatus: func() PumpStatus { return status },
		Listening:  func() bool { return listening },
	})

	get := func() (int, healthReport) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		defer resp.Body.Close()
		var rep healthReport
		if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.StatusCode, rep
	}

	code, rep := get()
	if code != http.StatusOK || !rep.Healthy {
		t.Fatalf("code=%d rep=%+v want healthy 200", code, rep)
	}
	if rep.Pump == nil || !rep.Pump.EgressBusy || rep.Pump.EgressPendingBytes != 42 {
		t.Fatalf("pump detail=%+v", rep.Pump)
	}
	if rep.AcceptorListening == nil || !*rep.AcceptorListening {
		t.Fatalf("acceptor detail=%+v", rep.AcceptorListening)
	}

	// A pump that exited makes the probe fail even mid-frame.
	status.Running = false
	code, rep = get()
	if code != http.StatusServiceUnavailable || rep.Healthy {
		t.Fatalf("code=%d rep=%+v want unhealthy 503", code, rep)
	}

	status.Running = true
	listening = false
	code, rep = get()
	if code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d want 503 when acceptor is down", code)
	}
}

func TestAdminServer_HealthBareLiveness(t *testing.T) {
	ts := startAdmin(t, AdminServerOptions{Metrics: NewMetricsCollector()})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}
}

func TestAdminServer_ReloadEndpoint(t *testing.T) {
	calls := 0
	ts := startAdmin(t, AdminServerOptions{
		Metrics: NewMetricsCollector(),
		Reload: func(ctx context.Context) error {
			calls++
			if calls > 1 {
				return errors.New("boom")
			}
			return nil
		},
	})

	resp, err := http.Post(ts.URL+"/reload", "", nil)
	if err != nil {
		t.Fatalf("POST /reload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/reload", "", nil)
	if err != nil {
		t.Fatalf("POST /reload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/reload")
	if err != nil {
		t.Fatalf("GET /reload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=405", resp.StatusCode)
	}
}
