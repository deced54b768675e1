// Package retry re-runs operations that failed with a transient error,
// waiting an exponentially growing, jittered delay between attempts.
// The ledger uses it to re-run optimistic store transactions that lost a
// version check against a concurrent writer.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// MaxAttempts counts the first attempt too. Values below 1 mean 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the wait before jitter is applied.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failure. Values below 1 mean 1.
	Multiplier float64

	// Jitter spreads each delay by up to ±Jitter of its value, in [0, 1].
	Jitter float64
}

// DefaultPolicy: three attempts, 100ms doubling up to 5s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// ContentionPolicy is tuned for optimistic transactions: short doubling
// delays with wide jitter so that colliding writers spread out.
func ContentionPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   2,
		Jitter:       0.5,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
// spread in [-1, 1] picks the point inside the jitter window.
func (p Policy) Delay(attempt int, spread float64) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * min(p.Jitter, 1) * max(-1, min(spread, 1))
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under a Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
	spread  func() float64
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithRetryIf limits retries to errors fn accepts. By default every error
// except context cancellation is retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called after a failed attempt, before waiting delay.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier.
func New(policy Policy, opts ...Option) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{
		policy:  policy,
		retryIf: isTransient,
		spread:  func() float64 { return rand.Float64()*2 - 1 },
		sleep:   sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails with an error that is not retried,
// or runs out of attempts; the last error of op is returned as is.
// If ctx ends first, ctx.Err() is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil || attempt >= r.policy.MaxAttempts || !r.retryIf(err) {
			return err
		}

		delay := r.policy.Delay(attempt, r.spread())
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
