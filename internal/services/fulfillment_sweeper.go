package services

import (
	"context"
	"errors"
	"time"
)

// FulfillmentSweeper runs Sweep on a fixed interval until its context ends.
type FulfillmentSweeper struct {
	service  FulfillmentService
	interval time.Duration
	logger   Logger
}

// NewFulfillmentSweeper returns a sweeper for service. The interval must be positive.
func NewFulfillmentSweeper(service FulfillmentService, interval time.Duration, logger Logger) (*FulfillmentSweeper, error) {
	if service == nil {
		return nil, errors.New("fulfillment sweeper: service is required")
	}
	if interval <= 0 {
		return nil, errors.New("fulfillment sweeper: interval must be positive")
	}
	if logger == nil {
		logger = nopLogger
	}
	return &FulfillmentSweeper{service: service, interval: interval, logger: logger}, nil
}

// Run blocks, sweeping once per interval. Passes never overlap.
func (w *FulfillmentSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := w.service.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger(ctx, "fulfillment.sweep.failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
