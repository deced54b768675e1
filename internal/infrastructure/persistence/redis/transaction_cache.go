package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turing-shop/turing-ledger/internal/application/query"
	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION CACHE
// Read-through cache of ledger queries. Writes never go through here:
// the invalidator drops entries after a commit touches them.
// ══════════════════════════════════════════════════════════════════════════════

// TransactionCache implements query.TransactionCache on top of Cache.
type TransactionCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// TransactionCacheOption configures a TransactionCache.
type TransactionCacheOption func(*TransactionCache)

// WithBreaker routes reads and writes through b. While b is open reads are
// reported as misses wrapping circuitbreaker.ErrOpen and writes are skipped,
// so callers go to the store without waiting on Redis. Invalidations always
// reach Redis.
func WithBreaker(b *circuitbreaker.Breaker) TransactionCacheOption {
	return func(c *TransactionCache) { c.breaker = b }
}

// NewTransactionCache creates a transaction cache. ttl <= 0 uses TTLTransactionList.
func NewTransactionCache(cache *Cache, ttl time.Duration, opts ...TransactionCacheOption) *TransactionCache {
	if ttl <= 0 {
		ttl = TTLTransactionList
	}
	c := &TransactionCache{cache: cache, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCacheBreaker returns a breaker tuned for the query cache. Misses and
// cancelled requests do not count as failures.
func NewCacheBreaker(opts ...circuitbreaker.Option) *circuitbreaker.Breaker {
	opts = append([]circuitbreaker.Option{
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithCoolDown(5 * time.Second),
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, ErrCacheMiss) && !errors.Is(err, context.Canceled)
		}),
	}, opts...)
	return circuitbreaker.New("redis-cache", opts...)
}

var _ query.TransactionCache = (*TransactionCache)(nil)

// GetStudentTransactions returns query.ErrCacheMiss when nothing is cached.
func (c *TransactionCache) GetStudentTransactions(ctx context.Context, studentID, groupID string) ([]*ledger.Transaction, error) {
	return c.get(ctx, StudentTxKey(studentID, groupID))
}

// SetStudentTransactions caches a student query result.
func (c *TransactionCache) SetStudentTransactions(ctx context.Context, studentID, groupID string, txs []*ledger.Transaction) error {
	return c.set(ctx, StudentTxKey(studentID, groupID), txs)
}

// GetGroupTransactions returns query.ErrCacheMiss when nothing is cached.
func (c *TransactionCache) GetGroupTransactions(ctx context.Context, groupID string) ([]*ledger.Transaction, error) {
	return c.get(ctx, GroupTxKey(groupID))
}

// SetGroupTransactions caches a group query result.
func (c *TransactionCache) SetGroupTransactions(ctx context.Context, groupID string, txs []*ledger.Transaction) error {
	return c.set(ctx, GroupTxKey(groupID), txs)
}

// InvalidateStudent drops every cached list of the student.
func (c *TransactionCache) InvalidateStudent(ctx context.Context, studentID string) error {
	return c.cache.DeleteByPattern(ctx, StudentTxPattern(studentID))
}

// InvalidateGroup drops the cached list of the group.
func (c *TransactionCache) InvalidateGroup(ctx context.Context, groupID string) error {
	return c.cache.Delete(ctx, GroupTxKey(groupID))
}

func (c *TransactionCache) get(ctx context.Context, key string) ([]*ledger.Transaction, error) {
	var txs []*ledger.Transaction
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, key, &txs)
	})
	if errors.Is(err, ErrCacheMiss) {
		return nil, query.ErrCacheMiss
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %w", query.ErrCacheMiss, err)
	}
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *TransactionCache) set(ctx context.Context, key string, txs []*ledger.Transaction) error {
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key, nonNilList(txs), c.ttl)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil
	}
	return err
}

func (c *TransactionCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// nonNilList keeps an empty result cached as [] rather than null.
func nonNilList(txs []*ledger.Transaction) []*ledger.Transaction {
	if txs == nil {
		return []*ledger.Transaction{}
	}
	return txs
}
