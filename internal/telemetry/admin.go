package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// PumpStatus is the live pump state surfaced by the health endpoint:
// whether the loop is running and how far each direction is through the
// frame it is currently moving. A busy direction with pending bytes is
// normal mid-frame state; Running false means the pump has exited.
type PumpStatus struct {
	Running             bool  `json:"running"`
	EgressBusy          bool  `json:"egress_busy"`
	EgressPendingBytes  int64 `json:"egress_pending_bytes"`
	IngressBusy         bool  `json:"ingress_busy"`
	IngressPendingBytes int64 `json:"ingress_pending_bytes"`
}

// LogSource is the slice of the logging runtime the admin server reads.
type LogSource interface {
	Snapshot(limit int) []string
	Dropped() uint64
}

type AdminServerOptions struct {
	Addr string

	Metrics *MetricsCollector
	Logs    LogSource

	// PumpStatus feeds /health. Nil degrades the endpoint to a bare
	// liveness probe.
	PumpStatus func() PumpStatus
	// Listening reports the tunnel acceptor state, when one runs.
	Listening func() bool

	Reload func(ctx context.Context) error
}

type AdminServer struct {
	opts AdminServerOptions
	srv  *http.Server
}

func NewAdminServer(opts AdminServerOptions) *AdminServer {
	as := &AdminServer{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", as.handleHealth)
	mux.HandleFunc("/metrics", as.handleMetrics)
	mux.HandleFunc("/logs", as.handleLogs)
	mux.HandleFunc("/reload", as.handleReload)

	as.srv = &http.Server{Addr: opts.Addr, Handler: mux}
	return as
}

type healthReport struct {
	Healthy           bool        `json:"healthy"`
	Pump              *PumpStatus `json:"pump,omitempty"`
	AcceptorListening *bool       `json:"acceptor_listening,omitempty"`
}

// handleHealth reports 200 only while the pump loop is alive (and the
// tunnel acceptor is listening, when one is configured); the body
// carries the per-direction detail so an operator can tell a stalled
// sink from an idle pump.
func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := healthReport{Healthy: true}
	if a.opts.PumpStatus != nil {
		st := a.opts.PumpStatus()
		rep.Pump = &st
		rep.Healthy = rep.Healthy && st.Running
	}
	if a.opts.Listening != nil {
		ok := a.opts.Listening()
		rep.AcceptorListening = &ok
		rep.Healthy = rep.Healthy && ok
	}

	code := http.StatusOK
	if !rep.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (a *AdminServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.opts.Metrics.Snapshot())
}

type logsReport struct {
	Lines   []string `json:"lines"`
	Dropped uint64   `json:"dropped"`
}

func (a *AdminServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.opts.Logs == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, logsReport{
		Lines:   a.opts.Logs.Snapshot(limit),
		Dropped: a.opts.Logs.Dropped(),
	})
}

func (a *AdminServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.opts.Reload == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.opts.Reload(ctx); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func clampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 200
	}
	if n > 5000 {
		return 5000
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *AdminServer) Start() error {
	return a.srv.ListenAndServe()
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
