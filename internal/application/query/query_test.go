package query

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/memory"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

var quietLogger = logger.New(logger.Options{Output: io.Discard})

// countingReader counts store reads.
type countingReader struct {
	inner ledger.TransactionReader
	mu    sync.Mutex
	calls int
}

func (r *countingReader) FindTransactions(ctx context.Context, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.inner.FindTransactions(ctx, f)
}

// mapCache is an in-process TransactionCache.
type mapCache struct {
	entries map[string][]*ledger.Transaction
	failGet error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]*ledger.Transaction)}
}

func (c *mapCache) get(key string) ([]*ledger.Transaction, error) {
	if c.failGet != nil {
		return nil, c.failGet
	}
	txs, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return txs, nil
}

func (c *mapCache) GetStudentTransactions(_ context.Context, studentID, groupID string) ([]*ledger.Transaction, error) {
	return c.get("s:" + studentID + ":" + groupID)
}

func (c *mapCache) SetStudentTransactions(_ context.Context, studentID, groupID string, txs []*ledger.Transaction) error {
	c.entries["s:"+studentID+":"+groupID] = txs
	return nil
}

func (c *mapCache) GetGroupTransactions(_ context.Context, groupID string) ([]*ledger.Transaction, error) {
	return c.get("g:" + groupID)
}

func (c *mapCache) SetGroupTransactions(_ context.Context, groupID string, txs []*ledger.Transaction) error {
	c.entries["g:"+groupID] = txs
	return nil
}

func seedLedger(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.CreateStudent(ctx, &ledger.Student{ID: "s1", GroupID: "g1", Balance: 15}))
	require.NoError(t, s.CreateStudent(ctx, &ledger.Student{ID: "s2", GroupID: "g1", Balance: 3}))

	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	entries := []*ledger.Transaction{
		{ID: "t1", Kind: ledger.KindReward, StudentID: "s1", GroupID: "g1", ActivityID: "a1", Amount: 25, Status: ledger.StatusCompleted, CreatedAt: now},
		{ID: "t2", Kind: ledger.KindPurchase, StudentID: "s1", GroupID: "g1", ProductID: "p1", Quantity: 1, Amount: -10, Status: ledger.StatusCompleted, CreatedAt: now.Add(time.Hour)},
		{ID: "t3", Kind: ledger.KindReward, StudentID: "s1", GroupID: "g0", ActivityID: "a0", Amount: 7, Status: ledger.StatusCompleted, CreatedAt: now.Add(-time.Hour)},
		{ID: "t4", Kind: ledger.KindReward, StudentID: "s2", GroupID: "g1", ActivityID: "a1", Amount: 3, Status: ledger.StatusCompleted, CreatedAt: now},
	}
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for _, e := range entries {
			if err := tx.InsertTransaction(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))
	return s
}

func ids(txs []*ledger.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestTransactionsHandler_ByStudent(t *testing.T) {
	s := seedLedger(t)
	h := NewTransactionsHandler(s, nil, quietLogger)
	ctx := context.Background()

	all, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, ids(all))

	inGroup, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1", GroupID: "g1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids(inGroup))

	unknown, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, unknown)

	_, err = h.ByStudent(ctx, StudentTransactionsQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestTransactionsHandler_ByGroup(t *testing.T) {
	s := seedLedger(t)
	h := NewTransactionsHandler(s, nil, quietLogger)

	txs, err := h.ByGroup(context.Background(), GroupTransactionsQuery{GroupID: "g1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t4"}, ids(txs))

	_, err = h.ByGroup(context.Background(), GroupTransactionsQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestTransactionsHandler_RepeatedReadsAreIdentical(t *testing.T) {
	s := seedLedger(t)
	h := NewTransactionsHandler(s, nil, quietLogger)
	ctx := context.Background()

	first, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1"})
		require.NoError(t, err)
		assert.ElementsMatch(t, first, again)
	}
}

func TestTransactionsHandler_ReadThroughCache(t *testing.T) {
	s := seedLedger(t)
	reader := &countingReader{inner: s}
	cache := newMapCache()
	h := NewTransactionsHandler(reader, cache, quietLogger)
	ctx := context.Background()

	first, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1", GroupID: "g1"})
	require.NoError(t, err)
	second, err := h.ByStudent(ctx, StudentTransactionsQuery{StudentID: "s1", GroupID: "g1"})
	require.NoError(t, err)

	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, ids(first), ids(second))

	_, err = h.ByGroup(ctx, GroupTransactionsQuery{GroupID: "g1"})
	require.NoError(t, err)
	_, err = h.ByGroup(ctx, GroupTransactionsQuery{GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestTransactionsHandler_CacheFailureFallsBackToStore(t *testing.T) {
	s := seedLedger(t)
	cache := newMapCache()
	cache.failGet = errors.New("connection refused")
	h := NewTransactionsHandler(s, cache, quietLogger)

	txs, err := h.ByGroup(context.Background(), GroupTransactionsQuery{GroupID: "g1"})
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestReconcileBalanceHandler(t *testing.T) {
	s := seedLedger(t)
	h := NewReconcileBalanceHandler(s, s, quietLogger)
	ctx := context.Background()

	// s1: 25 - 10 + 7 = 22 but 15 is stored.
	report, err := h.Handle(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(22), report.LedgerBalance)
	assert.Equal(t, int64(15), report.StoredBalance)
	assert.Equal(t, 3, report.TransactionCount)
	assert.False(t, report.Consistent)

	report, err = h.Handle(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	_, err = h.Handle(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)

	_, err = h.Handle(ctx, "")
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
