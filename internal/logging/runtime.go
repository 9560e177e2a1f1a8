package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tappump/internal/config"
)

var levelByName = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func parseLevel(name string) (slog.Level, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return slog.LevelInfo, nil
	}
	lvl, ok := levelByName[key]
	if !ok {
		return 0, fmt.Errorf("logging: unknown level %q", name)
	}
	return lvl, nil
}

// frozen is the part of the logging config that is baked into the
// handler chain when the runtime is built: everything except the level,
// which slog exposes as the one knob mutable on a live handler. The
// struct is comparable so drift detection is a single != on normalized
// values.
type frozen struct {
	format     string
	output     string
	addSource  bool
	bufferOn   bool
	bufferSize int
}

func freeze(cfg config.LoggingConfig) frozen {
	f := frozen{
		format:     strings.ToLower(strings.TrimSpace(cfg.Format)),
		output:     strings.TrimSpace(cfg.Output),
		addSource:  cfg.AddSource,
		bufferOn:   cfg.AdminBuffer.Enabled,
		bufferSize: cfg.AdminBuffer.Size,
	}
	if f.format == "" {
		f.format = "json"
	}
	if f.output == "" {
		f.output = "stderr"
	}
	if !f.bufferOn {
		f.bufferSize = 0
	} else if f.bufferSize <= 0 {
		f.bufferSize = 1000
	}
	return f
}

// Runtime owns the process logger and its sink. The level can be
// retargeted on a live runtime through Reconfigure; a change to any
// frozen field only takes effect in a rebuilt runtime, which for this
// process means a restart.
type Runtime struct {
	logger *slog.Logger
	level  slog.LevelVar
	closer io.Closer
	store  *LineStore
	frozen frozen
}

func NewRuntime(cfg config.LoggingConfig) (*Runtime, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	r := &Runtime{frozen: freeze(cfg)}
	r.level.Set(lvl)

	w, closer, err := openSink(r.frozen.output)
	if err != nil {
		return nil, err
	}
	r.closer = closer

	if r.frozen.bufferOn {
		r.store = NewLineStore(r.frozen.bufferSize)
		w = io.MultiWriter(w, r.store)
	}

	hopts := &slog.HandlerOptions{Level: &r.level, AddSource: r.frozen.addSource}
	var h slog.Handler
	switch r.frozen.format {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	case "text":
		h = slog.NewTextHandler(w, hopts)
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	r.logger = slog.New(h).With(
		slog.String("app", "tappump"),
	)
	return r, nil
}

func (r *Runtime) Logger() *slog.Logger {
	if r == nil || r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

func (r *Runtime) Store() *LineStore { return r.store }

// Reconfigure applies the reloadable part of cfg — the level — to the
// live runtime and reports whether the frozen fields drifted from what
// this runtime was built with. A true result means the rest of cfg is
// not in effect and needs a restart.
func (r *Runtime) Reconfigure(cfg config.LoggingConfig) (restart bool, err error) {
	if r == nil {
		return false, nil
	}
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return false, err
	}
	r.level.Set(lvl)
	return freeze(cfg) != r.frozen, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func openSink(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "discard", "none", "null":
		return io.Discard, nil, nil
	}

	// Anything else is a file path.
	path := filepath.Clean(output)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return f, f, nil
}
