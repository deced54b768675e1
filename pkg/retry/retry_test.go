package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// instant replaces the timer so tests never wait.
func instant(r *Retrier) {
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	r.spread = func() float64 { return 0 }
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2, Jitter: 0.5}

	assert.Equal(t, 10*time.Millisecond, p.Delay(1, 0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(2, 0))
	assert.Equal(t, 50*time.Millisecond, p.Delay(5, 0))
	assert.Equal(t, 15*time.Millisecond, p.Delay(1, 1))
	assert.Equal(t, 5*time.Millisecond, p.Delay(1, -1))
	assert.Equal(t, 15*time.Millisecond, p.Delay(1, 7), "spread is clamped")

	flat := Policy{InitialDelay: time.Second, Multiplier: 0}
	assert.Equal(t, time.Second, flat.Delay(4, 0))
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	r := New(ContentionPolicy(5, time.Millisecond, time.Second),
		WithOnRetry(func(_ int, err error, d time.Duration) {
			assert.ErrorIs(t, err, errBusy)
			delays = append(delays, d)
		}),
		instant,
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetrier_ReturnsLastErrorWhenExhausted(t *testing.T) {
	r := New(Policy{MaxAttempts: 3}, instant)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsOnRejectedError(t *testing.T) {
	permanent := errors.New("permanent")
	r := New(Policy{MaxAttempts: 5},
		WithRetryIf(func(err error) bool { return errors.Is(err, errBusy) }),
		instant,
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ContextEndsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Policy{MaxAttempts: 5, InitialDelay: time.Hour})

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errBusy
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetrier_DoesNotRetryCancellation(t *testing.T) {
	r := New(Policy{MaxAttempts: 5}, instant)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestNew_ClampsAttempts(t *testing.T) {
	r := New(Policy{MaxAttempts: 0}, instant)

	calls := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})
	assert.Equal(t, 1, calls)
}
