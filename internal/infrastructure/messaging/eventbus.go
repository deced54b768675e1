// Package messaging carries ledger events from the command handlers to
// subscribers. The in-memory bus serves one instance; the Redis bus fans
// events out to every instance sharing the channel.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// Observer is told about every publish and every handler run.
// observability.LedgerMetrics implements it.
type Observer interface {
	ObservePublish(eventType string)
	ObserveDelivery(eventType string, elapsed time.Duration, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to a worker pool; Publish returns at once.
	// Otherwise handlers run on the publishing goroutine.
	AsyncMode bool

	// WorkerPoolSize is the number of workers in async mode. Default: 4
	WorkerPoolSize int

	// QueueSize bounds pending deliveries in async mode; Publish blocks
	// while the queue is full. Default: 256
	QueueSize int

	Logger   *slog.Logger
	Observer Observer
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus is an in-process shared.EventBus.
type InMemoryEventBus struct {
	log      *slog.Logger
	observer Observer

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	queue   chan delivery // nil in sync mode
	closing chan struct{}
	workers sync.WaitGroup
}

// NewInMemoryEventBus creates a bus and, in async mode, starts its workers.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &InMemoryEventBus{
		log:      cfg.Logger,
		observer: cfg.Observer,
		byType:   make(map[shared.EventType][]shared.EventHandler),
		closing:  make(chan struct{}),
	}

	if cfg.AsyncMode {
		if cfg.WorkerPoolSize <= 0 {
			cfg.WorkerPoolSize = 4
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 256
		}
		b.queue = make(chan delivery, cfg.QueueSize)
		b.workers.Add(cfg.WorkerPoolSize)
		for i := 0; i < cfg.WorkerPoolSize; i++ {
			go b.work()
		}
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the handlers subscribed at this moment.
// Handler errors are logged, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	own := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(own)+len(b.wildcard))
	handlers = append(handlers, own...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if b.observer != nil {
		b.observer.ObservePublish(string(event.EventType()))
	}

	for _, h := range handlers {
		d := delivery{event: event, handler: h}
		if b.queue == nil {
			b.deliver(d)
			continue
		}
		// Очередь не закрывается: после Close воркеры просто перестают её читать.
		select {
		case b.queue <- d:
		case <-b.closing:
			return ErrEventBusClosed
		}
	}
	return nil
}

func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for {
		select {
		case d := <-b.queue:
			b.deliver(d)
		case <-b.closing:
			for {
				select {
				case d := <-b.queue:
					b.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (b *InMemoryEventBus) deliver(d delivery) {
	started := time.Now()
	err := safeCall(d.handler, d.event)
	elapsed := time.Since(started)

	if b.observer != nil {
		b.observer.ObserveDelivery(string(d.event.EventType()), elapsed, err)
	}
	if err != nil {
		b.log.Error("event handler failed",
			"event_type", d.event.EventType(),
			"aggregate_id", d.event.AggregateID(),
			"duration", elapsed,
			"error", err,
		)
	}
}

// Close rejects new events and waits until the queued ones are handled.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.workers.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// safeCall turns a handler panic into ErrHandlerPanic.
func safeCall(handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return handler(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannelName is the Redis channel of ledger events.
const DefaultChannelName = "ledger:events"

// Message is one payload received from a pub/sub channel.
type Message struct {
	Channel string
	Payload string
	Err     error
}

// PubSubClient is the pub/sub subset of a Redis client.
// redis.PubSub implements it.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	Client PubSubClient

	// ChannelName defaults to DefaultChannelName.
	ChannelName string

	// InstanceID marks events published here so the subscriber can skip
	// them. Default: a random id.
	InstanceID string

	// PublishTimeout bounds one Redis publish. Default: 2s
	PublishTimeout time.Duration

	// LocalBusConfig configures the bus that runs the handlers.
	LocalBusConfig InMemoryEventBusConfig

	Logger *slog.Logger
}

// RedisEventBus runs handlers locally and mirrors every event to the other
// instances through a Redis channel. Subscribe and SubscribeAll come from
// the embedded local bus.
type RedisEventBus struct {
	*InMemoryEventBus

	client     PubSubClient
	channel    string
	instanceID string
	timeout    time.Duration
	log        *slog.Logger

	stop     context.CancelFunc
	listener sync.WaitGroup
}

// envelope is the wire form of an event on the channel.
type envelope struct {
	InstanceID  string           `json:"instance_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// NewRedisEventBus subscribes to the channel and starts relaying remote events.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis event bus: client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannelName
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "ledgerd-" + uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("redis event bus: %w", err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		channel:          cfg.ChannelName,
		instanceID:       cfg.InstanceID,
		timeout:          cfg.PublishTimeout,
		log:              cfg.Logger.With("instance_id", cfg.InstanceID),
		stop:             stop,
	}
	b.listener.Add(1)
	go b.listen(ctx, messages)
	return b, nil
}

// Publish runs local handlers and then mirrors the event to Redis.
// A Redis failure is logged; local delivery has already happened.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if err := b.InMemoryEventBus.Publish(event); err != nil {
		return err
	}

	data, err := json.Marshal(envelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, string(data)); err != nil {
		b.log.Warn("failed to mirror event to redis", "event_type", event.EventType(), "error", err)
	}
	return nil
}

func (b *RedisEventBus) listen(ctx context.Context, messages <-chan Message) {
	defer b.listener.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.relay(msg)
		}
	}
}

// relay hands a remote event to the local handlers.
func (b *RedisEventBus) relay(msg Message) {
	if msg.Err != nil {
		b.log.Error("redis subscription error", "error", msg.Err)
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Error("dropping malformed event", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	remote := &remoteEvent{env: env}
	if err := b.InMemoryEventBus.Publish(remote); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.log.Error("failed to deliver remote event", "event_type", env.EventType, "error", err)
	}
}

// Close stops relaying and then closes the local bus.
func (b *RedisEventBus) Close() error {
	b.stop()
	b.listener.Wait()
	return b.InMemoryEventBus.Close()
}

// remoteEvent is an event decoded from the channel.
type remoteEvent struct{ env envelope }

func (e *remoteEvent) EventType() shared.EventType { return e.env.EventType }
func (e *remoteEvent) AggregateID() string         { return e.env.AggregateID }
func (e *remoteEvent) OccurredAt() time.Time       { return e.env.OccurredAt }
func (e *remoteEvent) Payload() map[string]any     { return e.env.Payload }
