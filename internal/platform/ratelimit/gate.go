package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate admits one remote call at a time with a minimum spacing between calls.
// A single Gate is shared by every component that talks to the same remote service.
type Gate interface {
	Wait(ctx context.Context) error
}

// IntervalGate enforces a minimum interval between admitted calls
type IntervalGate struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewIntervalGate creates a gate admitting at most one call per interval.
// A non-positive interval disables limiting.
func NewIntervalGate(interval time.Duration) *IntervalGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalGate{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until the next call may proceed or ctx is done
func (g *IntervalGate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}
	return nil
}

// Interval returns the configured minimum spacing
func (g *IntervalGate) Interval() time.Duration {
	return g.interval
}

// Noop admits every call immediately
type Noop struct{}

// Wait only reports a cancelled context
func (Noop) Wait(ctx context.Context) error {
	return ctx.Err()
}
