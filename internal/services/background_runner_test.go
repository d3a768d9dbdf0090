package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type ctxKey struct{}

func TestBackgroundRunnerDetachesFromCaller(t *testing.T) {
	runner := NewBackgroundRunner(time.Second, nil)

	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	var (
		gotValue any
		gotErr   error
	)
	release := make(chan struct{})
	runner.Go(parent, "detached", func(ctx context.Context) error {
		<-release
		gotValue = ctx.Value(ctxKey{})
		gotErr = ctx.Err()
		return nil
	})
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := runner.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if gotValue != "req-1" {
		t.Fatalf("expected request values to survive, got %v", gotValue)
	}
	if gotErr != nil {
		t.Fatalf("job context must outlive the caller, got %v", gotErr)
	}
}

func TestBackgroundRunnerLogsFailuresAndPanics(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	logger := func(_ context.Context, event string, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}
	runner := NewBackgroundRunner(0, logger)

	runner.Go(context.Background(), "fails", func(context.Context) error { return errors.New("nope") })
	runner.Go(context.Background(), "panics", func(context.Context) error { panic("kaboom") })

	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, event := range events {
		seen[event] = true
	}
	if !seen["background.failed"] || !seen["background.panic"] {
		t.Fatalf("expected failure and panic logs, got %v", events)
	}
}

func TestBackgroundRunnerWaitHonoursDeadline(t *testing.T) {
	runner := NewBackgroundRunner(0, nil)
	block := make(chan struct{})
	defer close(block)
	runner.Go(context.Background(), "slow", func(context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := runner.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBackgroundRunnerAppliesTimeout(t *testing.T) {
	runner := NewBackgroundRunner(5*time.Millisecond, nil)
	var expired atomic.Bool
	runner.Go(context.Background(), "bounded", func(ctx context.Context) error {
		<-ctx.Done()
		expired.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	if err := runner.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !expired.Load() {
		t.Fatal("expected job context to expire")
	}
}
