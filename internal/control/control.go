package control

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Flag is a cooperative shutdown signal shared by every worker in the
// process. Workers poll it at loop top and between I/O retries; Set is
// never preemptive.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Set() { f.v.Store(true) }

func (f *Flag) Stopped() bool { return f.v.Load() }

// Supervisor owns a set of pump/forwarder workers and the shutdown flag
// they observe. Workers can run detached (their own goroutine) or in
// place on the caller's goroutine; either way the first fatal error is
// retained and returned by Wait.
type Supervisor struct {
	flag   Flag
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewSupervisor(ctx context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	return &Supervisor{g: g, ctx: ctx, cancel: cancel, logger: logger}
}

func (s *Supervisor) Flag() *Flag { return &s.flag }

func (s *Supervisor) Context() context.Context { return s.ctx }

// StartDetached runs fn on its own goroutine and returns immediately.
// A non-nil return from fn is logged and propagated to Wait.
func (s *Supervisor) StartDetached(name string, fn func(ctx context.Context) error) {
	s.g.Go(func() error {
		err := fn(s.ctx)
		if err != nil {
			s.logger.Error("worker exited", "worker", name, "err", err)
			return err
		}
		s.logger.Info("worker exited", "worker", name)
		return nil
	})
}

// RunInPlace runs fn synchronously on the calling goroutine.
func (s *Supervisor) RunInPlace(fn func(ctx context.Context) error) error {
	return fn(s.ctx)
}

// Stop sets the shutdown flag and cancels the supervisor context.
// Workers observe it at their next loop iteration or retry.
func (s *Supervisor) Stop() {
	s.flag.Set()
	s.cancel()
}

// Wait blocks until every detached worker has returned and reports the
// first fatal error, if any.
func (s *Supervisor) Wait() error {
	return s.g.Wait()
}
