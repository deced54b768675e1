package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func newTestBreaker(clock *fakeClock, opts ...Option) *Breaker {
	opts = append([]Option{
		WithFailureThreshold(2),
		WithCoolDown(time.Second),
		withClock(clock.now),
	}, opts...)
	return New("cache", opts...)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, Counts{Requests: 2, Failures: 2, Rejected: 1}, b.Counts())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, ok))
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeClosesOrReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	b := newTestBreaker(clock, WithOnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	clock.advance(time.Second)
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	clock.advance(time.Second)
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed",
	}, transitions)
}

func TestBreaker_IsFailureFiltersErrors(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	miss := errors.New("miss")
	b := newTestBreaker(clock, WithIsFailure(func(err error) bool { return !errors.Is(err, miss) }))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return miss }), miss)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 5, b.Counts().Successes)
}

func TestBreaker_LimitsHalfOpenProbes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clock.advance(time.Second)

	err := b.Execute(ctx, func(ctx context.Context) error {
		// Вторая проба во время первой отклоняется.
		assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
