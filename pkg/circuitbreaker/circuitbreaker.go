// Package circuitbreaker stops calling an optional dependency after it keeps
// failing, and probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned instead of calling the dependency.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker settings.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold consecutive failures open the breaker. Default: 5
	FailureThreshold int

	// SuccessThreshold consecutive probe successes close it again. Default: 1
	SuccessThreshold int

	// CoolDown is the time spent open before probing. Default: 10s
	CoolDown time.Duration

	// MaxProbes bounds concurrent calls while half-open. Default: 1
	MaxProbes int

	// OnStateChange is called with the breaker lock held; it must not call back.
	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool

	now func() time.Time
}

// Option configures a breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the success threshold.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCoolDown sets how long the breaker stays open.
func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

// WithMaxProbes sets the number of half-open calls.
func WithMaxProbes(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxProbes = n
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(c *Config) { c.now = now }
}

// Counts are cumulative since creation.
type Counts struct {
	Requests  int
	Successes int
	Failures  int
	Rejected  int
}

// Breaker guards calls to one dependency.
type Breaker struct {
	config Config

	mu          sync.Mutex
	state       State
	counts      Counts
	consecutive int // failures while closed, successes while half-open
	openedAt    time.Time
	probes      int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	config := Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         10 * time.Second,
		MaxProbes:        1,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Breaker{config: config}
}

// Execute calls fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.config.now().Sub(b.openedAt) < b.config.CoolDown {
			b.counts.Rejected++
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.config.MaxProbes {
			b.counts.Rejected++
			return ErrOpen
		}
		b.probes++
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil
	if failed && b.config.IsFailure != nil {
		failed = b.config.IsFailure(err)
	}

	if b.state == StateHalfOpen {
		b.probes--
	}

	if !failed {
		b.counts.Successes++
		switch b.state {
		case StateClosed:
			b.consecutive = 0
		case StateHalfOpen:
			b.consecutive++
			if b.consecutive >= b.config.SuccessThreshold {
				b.setState(StateClosed)
			}
		}
		return
	}

	b.counts.Failures++
	switch b.state {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		// Одна неудачная проба снова размыкает цепь.
		b.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.consecutive = 0
	b.probes = 0
	if to == StateOpen {
		b.openedAt = b.config.now()
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a copy of the counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}
