package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BackgroundRunner executes post-commit side effects detached from the request that
// triggered them. Wait blocks until in-flight work drains, for graceful shutdown.
type BackgroundRunner struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  Logger
}

// NewBackgroundRunner returns a runner bounding each job by timeout (no bound when zero).
func NewBackgroundRunner(timeout time.Duration, logger Logger) *BackgroundRunner {
	if logger == nil {
		logger = nopLogger
	}
	return &BackgroundRunner{timeout: timeout, logger: logger}
}

var _ AsyncRunner = (*BackgroundRunner)(nil)

// Go runs fn on a new goroutine with a context that keeps the caller's values but not its
// cancellation.
func (r *BackgroundRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runCtx := detached
		if r.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(detached, r.timeout)
			defer cancel()
		}
		defer func() {
			if rec := recover(); rec != nil {
				r.logger(runCtx, "background.panic", map[string]any{
					"job":   name,
					"panic": fmt.Sprint(rec),
				})
			}
		}()
		started := time.Now()
		if err := fn(runCtx); err != nil {
			r.logger(runCtx, "background.failed", map[string]any{
				"job":        name,
				"error":      err.Error(),
				"durationMs": time.Since(started).Milliseconds(),
			})
		}
	}()
}

// Wait blocks until all started jobs finish or ctx is done.
func (r *BackgroundRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inlineRunner runs work synchronously on the caller's goroutine.
type inlineRunner struct {
	logger Logger
}

func (r inlineRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil && r.logger != nil {
		r.logger(ctx, "background.failed", map[string]any{"job": name, "error": err.Error()})
	}
}
