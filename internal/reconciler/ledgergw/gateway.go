package ledgergw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/platform/ratelimit"
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
)

// Recorder receives per-call observations. *metrics.Metrics implements it.
type Recorder interface {
	RecordLedgerCall(operation, result string, duration time.Duration)
	RecordLedgerRetry(operation string)
	SetBreakerState(state int)
}

type noopRecorder struct{}

func (noopRecorder) RecordLedgerCall(string, string, time.Duration) {}
func (noopRecorder) RecordLedgerRetry(string)                       {}
func (noopRecorder) SetBreakerState(int)                            {}

// Policy is the call policy shared by every stage talking to the ledger: one rate
// gate, one retry configuration and one circuit breaker.
type Policy struct {
	Gate        ratelimit.Gate
	Retry       *resilience.RetryConfig
	Breaker     *resilience.CircuitBreaker
	CallTimeout time.Duration
	Recorder    Recorder
}

// NewPolicy builds the shared call policy from configuration. rec may be nil.
func NewPolicy(cfg *config.LedgerConfig, logger *slog.Logger, rec Recorder) *Policy {
	if rec == nil {
		rec = noopRecorder{}
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig("ledger")
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
	breakerCfg.Timeout = cfg.BreakerOpenTimeout
	breakerCfg.IsFailure = func(err error) bool {
		// business rejections come from a healthy ledger
		return !ledger.IsValidation(err)
	}
	breakerCfg.OnStateChange = func(_ string, _, to gobreaker.State) {
		rec.SetBreakerState(int(to))
	}

	return &Policy{
		Gate: ratelimit.NewIntervalGate(cfg.MinCallInterval),
		Retry: &resilience.RetryConfig{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialDelay:    cfg.RetryInitialDelay,
			MaxDelay:        cfg.RetryMaxDelay,
			BackoffFactor:   cfg.RetryBackoffFactor,
			RetryableErrors: ledger.IsTransient,
		},
		Breaker:     resilience.NewCircuitBreaker(breakerCfg, logger),
		CallTimeout: cfg.CallTimeout,
		Recorder:    rec,
	}
}

// Gateway implements ledger.Gateway over the raw ledger service. Reads are retried
// under the shared policy; creates are attempted once so callers can look up what
// a failed attempt may have left behind before trying again.
type Gateway struct {
	svc    ledger.Service
	policy *Policy
	logger *slog.Logger

	refMu sync.RWMutex
	refs  map[string]int64
}

var _ ledger.Gateway = (*Gateway)(nil)

func NewGateway(svc ledger.Service, policy *Policy, logger *slog.Logger) *Gateway {
	if policy.Recorder == nil {
		policy.Recorder = noopRecorder{}
	}
	return &Gateway{
		svc:    svc,
		policy: policy,
		logger: logger.With("component", "ledger_gateway"),
		refs:   make(map[string]int64),
	}
}

// RetryPolicy returns the shared retry configuration
func (g *Gateway) RetryPolicy() *resilience.RetryConfig {
	return g.policy.Retry
}

// call performs exactly one rate-limited, breaker-guarded, time-bounded attempt
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.policy.Gate.Wait(ctx); err != nil {
		return err
	}

	callCtx := ctx
	cancel := func() {}
	if g.policy.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.policy.CallTimeout)
	}
	defer cancel()

	start := time.Now()
	_, err := g.policy.Breaker.Execute(callCtx, func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	duration := time.Since(start)

	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		err = ledger.ErrCircuitOpen
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		err = &ledger.TransientError{Op: op, Err: fmt.Errorf("call timed out after %s", g.policy.CallTimeout)}
	}

	g.policy.Recorder.RecordLedgerCall(op, resultOf(err), duration)
	return err
}

// retried runs call under the shared retry policy
func (g *Gateway) retried(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := *g.policy.Retry
	policy.OnRetry = func(next int, err error, delay time.Duration) {
		g.policy.Recorder.RecordLedgerRetry(op)
		g.logger.Warn("Retrying ledger call", "operation", op, "attempt", next, "delay", delay, "error", err)
	}
	return resilience.Retry(ctx, &policy, func() error {
		return g.call(ctx, op, fn)
	})
}

func (g *Gateway) searchRead(ctx context.Context, model string, domain ledger.Domain, fields []string, opts ledger.SearchOptions) ([]ledger.Row, error) {
	var rows []ledger.Row
	err := g.retried(ctx, opName(model, "search_read"), func(ctx context.Context) error {
		var err error
		rows, err = g.svc.SearchRead(ctx, model, domain, fields, opts)
		return err
	})
	return rows, err
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case ledger.IsValidation(err):
		return "validation"
	case errors.Is(err, ledger.ErrCircuitOpen):
		return "circuit_open"
	case ledger.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
