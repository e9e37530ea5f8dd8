// Package retry wraps single remote calls with bounded exponential backoff.
//
// Every gateway in the worker routes its remote calls through one Executor so the
// throttling and transient-failure policy lives in exactly one place. Call sites only
// choose a retry budget: Default for ordinary calls, FanOut for calls issued in wide
// parallel batches where throttling is more likely.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
)

// Retry budgets (additional attempts after the first).
const (
	Default = 5
	FanOut  = 20
)

// Policy controls the delay between attempts: BaseDelay * 2^attempt, capped at MaxDelay.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy mirrors the pacing remote APIs tolerate under shared-account throttling.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 20 * time.Second}
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Error reports a call that did not succeed within its budget, or failed permanently.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor runs operations under a Policy.
type Executor struct {
	policy   Policy
	classify func(error) bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option customises an Executor.
type Option func(*Executor)

// WithClassifier replaces IsRetryable as the transient-failure predicate.
func WithClassifier(fn func(error) bool) Option {
	return func(e *Executor) {
		if fn != nil {
			e.classify = fn
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New constructs an Executor.
func New(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:   policy,
		classify: IsRetryable,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs fn, retrying transient failures up to maxRetries additional times.
// Non-retryable failures return after the first attempt.
func (e *Executor) Do(ctx context.Context, op string, maxRetries int, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !e.classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		e.metrics.Retried(op)
		e.logger.Debug("retrying remote call",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.policy.newBackOff(), uint64(maxRetries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		e.metrics.Exhausted(op)
		e.logger.Warn("remote call failed",
			zap.String("operation", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return &Error{Op: op, Attempts: attempts, Err: err}
	}
	return nil
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, e *Executor, op string, maxRetries int, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, maxRetries, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Permanent marks err as not worth retrying regardless of its type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Attempts extracts the attempt count from an error returned by Do, or 0.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}
