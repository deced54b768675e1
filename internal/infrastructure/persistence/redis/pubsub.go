package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/turing-shop/turing-ledger/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts a go-redis client to messaging.PubSubClient.
type PubSub struct {
	client redis.UniversalClient
	subs   []*redis.PubSub
}

// NewPubSub wraps the client of an existing cache.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client()}
}

var _ messaging.PubSubClient = (*PubSub)(nil)

// Publish sends message as is. Strings and byte slices are not re-encoded.
func (p *PubSub) Publish(ctx context.Context, channel string, message any) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe forwards messages of the channels until ctx is cancelled.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.Message, error) {
	sub := p.client.Subscribe(ctx, channels...)
	// Receive блокирует до подтверждения подписки.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	p.subs = append(p.subs, sub)

	out := make(chan messaging.Message)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the subscriptions. The shared client is closed by its Cache.
func (p *PubSub) Close() error {
	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
