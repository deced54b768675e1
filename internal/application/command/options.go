// Package command contains write operations (CQRS - Commands) of the ledger.
// Every balance or stock mutation in the system goes through a handler here.
package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
	"github.com/turing-shop/turing-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Options configures the ledger command handlers.
type Options struct {
	// MaxAttempts bounds how many times a conflicting transaction is re-run
	// before the operation fails with shared.ErrContention.
	MaxAttempts int

	// RetryInitialDelay and RetryMaxDelay shape the jittered backoff between attempts.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// EnforceRewardGuard rejects a reward for an activity the student has
	// already completed, inside the same transaction as the credit.
	EnforceRewardGuard bool

	// ReconcileOnDeactivate writes an adjustment entry for every nonzero
	// balance that a group deactivation resets.
	ReconcileOnDeactivate bool

	// Logger for structured logging.
	Logger *logger.Logger

	// Publisher receives domain events after commit. Optional.
	Publisher shared.EventPublisher

	// Recorder observes outcomes for metrics. Optional.
	Recorder Recorder

	// NewID generates transaction IDs. Defaults to random UUIDs.
	NewID func() string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Recorder observes command outcomes.
type Recorder interface {
	// ObserveCommit is called once per committed operation.
	ObserveCommit(op string, attempts int, elapsed time.Duration)

	// ObserveConflict is called for every attempt lost to a concurrent writer.
	ObserveConflict(op string)

	// ObserveFailure is called once per failed operation.
	ObserveFailure(op string, err error)
}

// DefaultOptions returns default configuration.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:        5,
		RetryInitialDelay:  10 * time.Millisecond,
		RetryMaxDelay:      250 * time.Millisecond,
		EnforceRewardGuard: true,
	}
}

// withDefaults fills every unset field.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.RetryInitialDelay <= 0 {
		o.RetryInitialDelay = d.RetryInitialDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = d.RetryMaxDelay
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// runOptimistic re-runs attempt while it fails with a store conflict.
// Exhausting the attempts turns the conflict into shared.ErrContention.
func runOptimistic(ctx context.Context, opts Options, op string, attempt func(ctx context.Context) error) error {
	log := opts.Logger.With(logger.Operation(op))

	r := retry.New(
		retry.ContentionPolicy(opts.MaxAttempts, opts.RetryInitialDelay, opts.RetryMaxDelay),
		retry.WithRetryIf(shared.IsConflict),
		retry.WithOnRetry(func(n int, err error, delay time.Duration) {
			if opts.Recorder != nil {
				opts.Recorder.ObserveConflict(op)
			}
			log.Warn("optimistic transaction conflict, retrying",
				logger.Attempt(n),
				logger.Duration("delay", delay),
			)
		}),
	)

	err := r.Do(ctx, attempt)
	if err != nil && shared.IsConflict(err) {
		if opts.Recorder != nil {
			opts.Recorder.ObserveConflict(op)
		}
		log.Warn("optimistic transaction gave up", logger.Int("max_attempts", opts.MaxAttempts))
		return shared.ErrContention
	}
	return err
}

// observe reports the outcome of one operation to the recorder.
func observe(opts Options, op string, started time.Time, attempts int, err error) {
	if opts.Recorder == nil {
		return
	}
	if err != nil {
		opts.Recorder.ObserveFailure(op, err)
		return
	}
	opts.Recorder.ObserveCommit(op, attempts, time.Since(started))
}

// publish hands an event to the publisher; failures are logged, never returned,
// because the ledger write has already committed.
func publish(opts Options, event shared.Event) {
	if opts.Publisher == nil {
		return
	}
	if err := opts.Publisher.Publish(event); err != nil {
		opts.Logger.Error("failed to publish ledger event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
