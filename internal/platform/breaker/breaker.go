package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("breaker: circuit open")

// Settings tunes a circuit breaker. Zero values fall back to defaults.
type Settings struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	MinRequests   uint32
	FailureRatio  float64
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to string)
}

// New constructs a gobreaker circuit breaker that trips once at least MinRequests calls were
// seen in the interval and the failure ratio reached FailureRatio.
func New(settings Settings) *gobreaker.CircuitBreaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 3
	}
	if settings.Interval <= 0 {
		settings.Interval = 30 * time.Second
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 5
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = 0.6
	}
	minRequests := settings.MinRequests
	ratio := settings.FailureRatio

	st := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: settings.IsSuccessful,
	}
	if notify := settings.OnStateChange; notify != nil {
		st.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			notify(name, from.String(), to.String())
		}
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	if cb == nil {
		return fn()
	}
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return *new(T), errors.Join(ErrOpen, err)
	}
	if err != nil {
		// fn's own error; the result may still carry useful data
		if typed, ok := res.(T); ok {
			return typed, err
		}
		return *new(T), err
	}
	typed, _ := res.(T)
	return typed, nil
}
