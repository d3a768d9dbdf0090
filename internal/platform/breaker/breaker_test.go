package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestExecuteReturnsValue(t *testing.T) {
	cb := New(Settings{Name: "test"})
	got, err := Execute(cb, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d %v", got, err)
	}
}

func TestExecuteTripsAfterFailures(t *testing.T) {
	var transitions []string
	cb := New(Settings{
		Name:        "gateway",
		MinRequests: 2,
		Timeout:     time.Minute,
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})
	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, err := Execute(cb, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	called := false
	_, err := Execute(cb, func() (string, error) {
		called = true
		return "ok", nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen once tripped, got %v", err)
	}
	if called {
		t.Fatalf("open breaker must not invoke fn")
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestExecuteIgnoresSuccessfulErrors(t *testing.T) {
	clientErr := errors.New("bad request")
	cb := New(Settings{
		Name:         "shipping",
		MinRequests:  1,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, clientErr) },
	})
	for i := 0; i < 5; i++ {
		if _, err := Execute(cb, func() (int, error) { return 0, clientErr }); !errors.Is(err, clientErr) {
			t.Fatalf("expected client error to pass through, got %v", err)
		}
	}
	if _, err := Execute(cb, func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("breaker should remain closed for client errors, got %v", err)
	}
}

func TestExecuteNilBreaker(t *testing.T) {
	got, err := Execute[string](nil, func() (string, error) { return "direct", nil })
	if err != nil || got != "direct" {
		t.Fatalf("expected direct call, got %q %v", got, err)
	}
}
