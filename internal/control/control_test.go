package control

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFlag(t *testing.T) {
	var f Flag
	if f.Stopped() {
		t.Fatalf("fresh flag reports stopped")
	}
	f.Set()
	if !f.Stopped() {
		t.Fatalf("set flag not observed")
	}
}

func TestSupervisor_StopUnblocksWorkers(t *testing.T) {
	s := NewSupervisor(context.Background(), nil)

	started := make(chan struct{})
	s.StartDetached("worker", func(ctx context.Context) error {
		close(started)
		for !s.Flag().Stopped() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	<-started
	s.Stop()

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("workers did not observe stop")
	}
}

func TestSupervisor_PropagatesWorkerError(t *testing.T) {
	s := NewSupervisor(context.Background(), nil)

	boom := errors.New("boom")
	s.StartDetached("bad", func(ctx context.Context) error { return boom })

	if err := s.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait err=%v want boom", err)
	}
	// The shared context ends with the failed worker.
	select {
	case <-s.Context().Done():
	default:
		t.Fatalf("context not cancelled after worker failure")
	}
}

func TestSupervisor_RunInPlace(t *testing.T) {
	s := NewSupervisor(context.Background(), nil)
	ran := false
	err := s.RunInPlace(func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("RunInPlace ran=%v err=%v", ran, err)
	}
}
