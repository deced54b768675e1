package query

import (
	"context"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE BALANCE QUERY
// Replays a student's ledger entries and compares the sum with the stored
// balance. Always reads the store directly, never the cache.
// ══════════════════════════════════════════════════════════════════════════════

// StudentReader is the part of the registry this query needs.
type StudentReader interface {
	Student(ctx context.Context, id string) (*ledger.Student, error)
}

// BalanceReport is the outcome of a replay.
type BalanceReport struct {
	StudentID        string         `json:"student_id"`
	StoredBalance    ledger.Turings `json:"stored_balance"`
	LedgerBalance    ledger.Turings `json:"ledger_balance"`
	TransactionCount int            `json:"transaction_count"`

	// Consistent is true when the ledger alone justifies the stored balance.
	// Students reset by a deactivation without reconciliation are expected
	// to report false.
	Consistent bool `json:"consistent"`
}

// ReconcileBalanceHandler answers balance replay queries.
type ReconcileBalanceHandler struct {
	students StudentReader
	reader   ledger.TransactionReader
	logger   *logger.Logger
}

// NewReconcileBalanceHandler creates a new ReconcileBalanceHandler.
func NewReconcileBalanceHandler(students StudentReader, reader ledger.TransactionReader, log *logger.Logger) *ReconcileBalanceHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ReconcileBalanceHandler{
		students: students,
		reader:   reader,
		logger:   log,
	}
}

// Handle replays the student's ledger.
func (h *ReconcileBalanceHandler) Handle(ctx context.Context, studentID string) (*BalanceReport, error) {
	if studentID == "" {
		return nil, shared.NewDomainError("ledger", "Reconcile", shared.ErrInvalidID, "student_id is required")
	}

	student, err := h.students.Student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	txs, err := h.reader.FindTransactions(ctx, ledger.TransactionFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}

	report := &BalanceReport{
		StudentID:        studentID,
		StoredBalance:    student.Balance,
		LedgerBalance:    ledger.SumAmounts(txs),
		TransactionCount: len(txs),
	}
	report.Consistent = report.StoredBalance == report.LedgerBalance

	if !report.Consistent {
		h.logger.Warn("ledger does not justify stored balance",
			logger.StudentID(studentID),
			logger.Balance(report.StoredBalance),
			logger.Int64("ledger_balance", report.LedgerBalance),
		)
	}
	return report, nil
}
