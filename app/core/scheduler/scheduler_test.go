package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterValidation(t *testing.T) {
	s := New()
	if err := s.Register(JobSpec{}); err == nil {
		t.Fatal("expected validation error")
	}

	valid := JobSpec{
		Name:     "session-sweep",
		Interval: 10 * time.Millisecond,
		Run:      func(context.Context) error { return nil },
	}
	if err := s.Register(valid); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := s.Register(valid); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got: %v", err)
	}
}

func TestStartAndStop(t *testing.T) {
	s := New()
	var runs atomic.Int32

	err := s.Register(JobSpec{
		Name:       "session-sweep",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("expected job to run immediately when RunOnStart is true")
	}

	if err := s.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = s.Stop(200 * time.Millisecond) }()
	if err := s.Start(context.Background()); !errors.Is(err, ErrSchedulerStart) {
		t.Fatalf("expected ErrSchedulerStart, got: %v", err)
	}
}

func TestRegisterAfterStartFails(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = s.Stop(200 * time.Millisecond) }()

	err := s.Register(JobSpec{
		Name:     "late",
		Interval: time.Minute,
		Run:      func(context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected registration after start to fail")
	}
}

func TestSnapshotTracksRuns(t *testing.T) {
	s := New()
	var runs atomic.Int32

	err := s.Register(JobSpec{
		Name:       "session-sweep",
		Interval:   5 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			if runs.Add(1) == 2 {
				return errors.New("sweep failed")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = s.Stop(200 * time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	snapshot := s.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(snapshot))
	}
	if snapshot[0].Name != "session-sweep" {
		t.Fatalf("unexpected job name: %s", snapshot[0].Name)
	}
	if snapshot[0].Runs < 2 {
		t.Fatalf("expected at least 2 runs, got %d", snapshot[0].Runs)
	}
}

func TestJobTimeout(t *testing.T) {
	s := New()
	timedOut := make(chan bool, 1)

	err := s.Register(JobSpec{
		Name:       "slow",
		Interval:   time.Minute,
		Timeout:    20 * time.Millisecond,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			select {
			case timedOut <- errors.Is(ctx.Err(), context.DeadlineExceeded):
			default:
			}
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = s.Stop(time.Second) }()

	select {
	case ok := <-timedOut:
		if !ok {
			t.Fatal("expected deadline exceeded inside job")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never observed its timeout")
	}
}
