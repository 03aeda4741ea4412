package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "trackbot/pkg/logx"
)

func TestGoRecoversPanicAndCancelsOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor not cancelled after panic")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || s.Err() == nil {
		t.Fatalf("Wait err = %v, want recorded panic", err)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Panics != 1 || snap[0].Running {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected first error to be published")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	if st := s.Snapshot()[0]; st.Restarts != 2 || st.LastErr == "" {
		t.Fatalf("stats = %+v", st)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3 (initial + 2 restarts)", runs.Load())
	}
	if s.Context().Err() == nil {
		t.Fatal("supervisor not cancelled after giving up")
	}
}

func TestStopEndsLoops(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
