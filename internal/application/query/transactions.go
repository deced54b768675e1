// Package query contains read operations (CQRS - Queries) of the ledger.
package query

import (
	"context"
	"errors"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION QUERIES
// Read-only views of the ledger. Никаких побочных эффектов: повторный вызов
// без промежуточных записей возвращает тот же набор.
// ══════════════════════════════════════════════════════════════════════════════

// ErrCacheMiss is returned by a TransactionCache that has no entry for a key.
var ErrCacheMiss = errors.New("transaction cache miss")

// TransactionCache is an optional read-through cache of query results.
// Entries are dropped by the cache invalidator when a write touches them.
type TransactionCache interface {
	GetStudentTransactions(ctx context.Context, studentID, groupID string) ([]*ledger.Transaction, error)
	SetStudentTransactions(ctx context.Context, studentID, groupID string, txs []*ledger.Transaction) error
	GetGroupTransactions(ctx context.Context, groupID string) ([]*ledger.Transaction, error)
	SetGroupTransactions(ctx context.Context, groupID string, txs []*ledger.Transaction) error
}

// StudentTransactionsQuery selects a student's entries, optionally within one group.
type StudentTransactionsQuery struct {
	StudentID string

	// GroupID narrows the result to entries recorded under that group. Empty means all.
	GroupID string
}

// Validate validates the query.
func (q StudentTransactionsQuery) Validate() error {
	if q.StudentID == "" {
		return shared.NewDomainError("ledger", "QueryByStudent", shared.ErrInvalidID, "student_id is required")
	}
	return nil
}

// GroupTransactionsQuery selects every entry recorded under a group.
type GroupTransactionsQuery struct {
	GroupID string
}

// Validate validates the query.
func (q GroupTransactionsQuery) Validate() error {
	if q.GroupID == "" {
		return shared.NewDomainError("ledger", "QueryByGroup", shared.ErrInvalidID, "group_id is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TransactionsHandler answers ledger listing queries.
type TransactionsHandler struct {
	reader ledger.TransactionReader
	cache  TransactionCache
	logger *logger.Logger
}

// NewTransactionsHandler creates a new TransactionsHandler. cache may be nil.
func NewTransactionsHandler(reader ledger.TransactionReader, cache TransactionCache, log *logger.Logger) *TransactionsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &TransactionsHandler{
		reader: reader,
		cache:  cache,
		logger: log,
	}
}

// ByStudent returns the student's entries in no particular order.
// An unknown student yields an empty list.
func (h *TransactionsHandler) ByStudent(ctx context.Context, q StudentTransactionsQuery) ([]*ledger.Transaction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		txs, err := h.cache.GetStudentTransactions(ctx, q.StudentID, q.GroupID)
		if err == nil {
			return txs, nil
		}
		h.logCacheError("get", err)
	}

	txs, err := h.reader.FindTransactions(ctx, ledger.TransactionFilter{
		StudentID: q.StudentID,
		GroupID:   q.GroupID,
	})
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetStudentTransactions(ctx, q.StudentID, q.GroupID, txs); err != nil {
			h.logCacheError("set", err)
		}
	}
	return txs, nil
}

// ByGroup returns every entry recorded under the group in no particular order.
func (h *TransactionsHandler) ByGroup(ctx context.Context, q GroupTransactionsQuery) ([]*ledger.Transaction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		txs, err := h.cache.GetGroupTransactions(ctx, q.GroupID)
		if err == nil {
			return txs, nil
		}
		h.logCacheError("get", err)
	}

	txs, err := h.reader.FindTransactions(ctx, ledger.TransactionFilter{GroupID: q.GroupID})
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetGroupTransactions(ctx, q.GroupID, txs); err != nil {
			h.logCacheError("set", err)
		}
	}
	return txs, nil
}

// logCacheError ignores plain misses. The store stays authoritative either way.
func (h *TransactionsHandler) logCacheError(op string, err error) {
	if errors.Is(err, ErrCacheMiss) {
		return
	}
	h.logger.Warn("transaction cache unavailable",
		logger.Operation(op),
		logger.Err(err),
	)
}
