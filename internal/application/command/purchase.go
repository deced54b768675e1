package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASE COMMAND
// A student buys units of a shop product: stock and balance go down
// together and one purchase entry is appended to the ledger.
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseCommand contains the data of a shop purchase.
type PurchaseCommand struct {
	// ProductID is the product being bought.
	ProductID string

	// StudentID is the already-authorized buyer.
	StudentID string

	// Quantity is the number of units. Zero means 1.
	Quantity int

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c PurchaseCommand) Validate() error {
	if c.ProductID == "" {
		return shared.NewDomainError("ledger", "Purchase", shared.ErrInvalidID, "product_id is required")
	}
	if c.StudentID == "" {
		return shared.NewDomainError("ledger", "Purchase", shared.ErrInvalidID, "student_id is required")
	}
	if c.Quantity < 0 {
		return shared.ErrInvalidQuantity
	}
	return nil
}

// quantity applies the default of one unit.
func (c PurchaseCommand) quantity() int {
	if c.Quantity == 0 {
		return 1
	}
	return c.Quantity
}

// PurchaseResult contains the outcome of a committed purchase.
type PurchaseResult struct {
	TransactionID string
	StudentID     string
	GroupID       string
	ProductID     string
	Quantity      int
	Amount        ledger.Turings // negative
	NewBalance    ledger.Turings
	NewStock      int64
	Attempts      int
	CommittedAt   time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseHandler handles the PurchaseCommand.
type PurchaseHandler struct {
	store ledger.TxRunner
	opts  Options
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(store ledger.TxRunner, opts Options) *PurchaseHandler {
	return &PurchaseHandler{
		store: store,
		opts:  opts.withDefaults(),
	}
}

// Handle executes the purchase. Preconditions are checked against the latest
// snapshot inside one optimistic transaction, which is re-run on conflict.
func (h *PurchaseHandler) Handle(ctx context.Context, cmd PurchaseCommand) (*PurchaseResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	qty := cmd.quantity()
	log := h.opts.Logger.With(
		logger.StudentID(cmd.StudentID),
		logger.ProductID(cmd.ProductID),
		logger.String(logger.RequestIDKey, cmd.CorrelationID),
	)

	var result PurchaseResult
	attempts := 0
	started := time.Now()

	err := runOptimistic(ctx, h.opts, "Purchase", func(ctx context.Context) error {
		attempts++
		return h.store.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			product, err := tx.GetProduct(ctx, cmd.ProductID)
			if err != nil {
				return err
			}
			student, err := tx.GetStudent(ctx, cmd.StudentID)
			if err != nil {
				return err
			}
			if err := ensureGroupActive(ctx, tx, student); err != nil {
				return err
			}

			total, err := product.TotalPrice(qty)
			if err != nil {
				return err
			}
			if err := product.Reserve(qty); err != nil {
				return err
			}
			if err := student.Debit(total); err != nil {
				return err
			}

			now := h.opts.Now()
			entry := ledger.NewPurchase(h.opts.NewID(), student, product, qty, total, now)

			if err := tx.PutProduct(ctx, product); err != nil {
				return err
			}
			if err := tx.PutStudent(ctx, student); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}

			result = PurchaseResult{
				TransactionID: entry.ID,
				StudentID:     student.ID,
				GroupID:       student.GroupID,
				ProductID:     product.ID,
				Quantity:      qty,
				Amount:        entry.Amount,
				NewBalance:    student.Balance,
				NewStock:      product.Stock,
				CommittedAt:   entry.CreatedAt,
			}
			return nil
		})
	})
	observe(h.opts, "Purchase", started, attempts, err)
	if err != nil {
		logFailure(log, "purchase failed", err)
		return nil, err
	}
	result.Attempts = attempts

	log.Info("purchase committed",
		logger.TransactionID(result.TransactionID),
		logger.Amount(result.Amount),
		logger.Balance(result.NewBalance),
		logger.Int64("stock", result.NewStock),
		logger.Attempt(attempts),
	)

	event := shared.NewPurchaseCompletedEvent(
		result.TransactionID, result.StudentID, result.GroupID, result.ProductID,
		result.Quantity, result.Amount, result.NewBalance, result.NewStock,
	)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	publish(h.opts, event)

	return &result, nil
}

// ensureGroupActive refuses operations under a deactivated group.
// The group read joins the read set, so a concurrent deactivation forces a retry.
func ensureGroupActive(ctx context.Context, tx ledger.Tx, student *ledger.Student) error {
	if !student.HasGroup() {
		return nil
	}
	group, err := tx.GetGroup(ctx, student.GroupID)
	if err != nil {
		return err
	}
	if !group.Active {
		return shared.ErrGroupInactive
	}
	return nil
}

// logFailure logs business rejections at Info and everything else at Error.
func logFailure(log *logger.Logger, msg string, err error) {
	switch {
	case errors.Is(err, shared.ErrServiceUnavailable):
		log.Error(msg, logger.Err(err))
	case errors.Is(err, shared.ErrConcurrentModification):
		log.Warn(msg, logger.Err(err))
	default:
		log.Info(msg, logger.String("reason", fmt.Sprint(err)))
	}
}
