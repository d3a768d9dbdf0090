package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type sweepCountingService struct {
	FulfillmentService
	mu     sync.Mutex
	calls  int
	err    error
	stopAt int
	cancel context.CancelFunc
}

func (s *sweepCountingService) Sweep(context.Context) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls >= s.stopAt {
		s.cancel()
	}
	return SweepReport{}, s.err
}

func TestFulfillmentSweeperRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &sweepCountingService{stopAt: 3, cancel: cancel, err: errors.New("provider unavailable")}

	var (
		logMu  sync.Mutex
		events []string
	)
	logger := func(_ context.Context, event string, _ map[string]any) {
		logMu.Lock()
		events = append(events, event)
		logMu.Unlock()
	}
	sweeper, err := NewFulfillmentSweeper(svc, time.Millisecond, logger)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}

	svc.mu.Lock()
	calls := svc.calls
	svc.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 sweeps, got %d", calls)
	}
	logMu.Lock()
	defer logMu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected failures logged only while running, got %v", events)
	}
	for _, event := range events {
		if event != "fulfillment.sweep.failed" {
			t.Fatalf("unexpected event %s", event)
		}
	}
}

func TestNewFulfillmentSweeperValidation(t *testing.T) {
	if _, err := NewFulfillmentSweeper(nil, time.Second, nil); err == nil {
		t.Fatal("expected error without service")
	}
	if _, err := NewFulfillmentSweeper(&sweepCountingService{}, 0, nil); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}
