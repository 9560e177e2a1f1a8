package forward

import (
	"context"
	"log/slog"

	"tappump/internal/control"
)

// Start spawns a forwarder on its own goroutine under the supervisor and
// returns immediately. The worker observes the supervisor's shutdown
// flag and reports a fatal exit through the supervisor's Wait.
func Start(s *control.Supervisor, name string, args Args, logger *slog.Logger) (*Forwarder, error) {
	f, err := New(args, s.Flag(), logger)
	if err != nil {
		return nil, err
	}
	s.StartDetached(name, func(context.Context) error { return f.Run() })
	return f, nil
}

// RunInPlace runs a forwarder synchronously on the calling goroutine.
func RunInPlace(s *control.Supervisor, args Args, logger *slog.Logger) error {
	f, err := New(args, s.Flag(), logger)
	if err != nil {
		return err
	}
	return f.Run()
}
