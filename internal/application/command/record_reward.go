package command

import (
	"context"
	"time"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REWARD COMMAND
// Credits a student for a completed activity and appends a reward entry.
// Вызывается после того, как преподаватель подтвердил выполнение задания.
// ══════════════════════════════════════════════════════════════════════════════

// RecordRewardCommand contains the data of an activity reward.
type RecordRewardCommand struct {
	// ActivityID is the completed activity.
	ActivityID string

	// StudentID is the student being rewarded.
	StudentID string

	// Reward is the amount credited. Zero is allowed.
	Reward ledger.Turings

	// Metadata is stored on the ledger entry as is.
	Metadata map[string]string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordRewardCommand) Validate() error {
	if c.ActivityID == "" {
		return shared.NewDomainError("ledger", "RecordReward", shared.ErrInvalidID, "activity_id is required")
	}
	if c.StudentID == "" {
		return shared.NewDomainError("ledger", "RecordReward", shared.ErrInvalidID, "student_id is required")
	}
	if c.Reward < 0 {
		return shared.ErrInvalidAmount
	}
	return nil
}

// RecordRewardResult contains the outcome of a committed reward.
type RecordRewardResult struct {
	TransactionID string
	StudentID     string
	GroupID       string
	ActivityID    string
	Amount        ledger.Turings
	NewBalance    ledger.Turings
	Attempts      int
	CommittedAt   time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordRewardHandler handles the RecordRewardCommand.
type RecordRewardHandler struct {
	store ledger.TxRunner
	opts  Options
}

// NewRecordRewardHandler creates a new RecordRewardHandler.
func NewRecordRewardHandler(store ledger.TxRunner, opts Options) *RecordRewardHandler {
	return &RecordRewardHandler{
		store: store,
		opts:  opts.withDefaults(),
	}
}

// Handle credits the reward. With the reward guard on, a second reward for
// the same activity fails with shared.ErrActivityAlreadyCompleted.
func (h *RecordRewardHandler) Handle(ctx context.Context, cmd RecordRewardCommand) (*RecordRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	log := h.opts.Logger.With(
		logger.StudentID(cmd.StudentID),
		logger.ActivityID(cmd.ActivityID),
		logger.String(logger.RequestIDKey, cmd.CorrelationID),
	)

	var result RecordRewardResult
	attempts := 0
	started := time.Now()

	err := runOptimistic(ctx, h.opts, "RecordReward", func(ctx context.Context) error {
		attempts++
		return h.store.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			student, err := tx.GetStudent(ctx, cmd.StudentID)
			if err != nil {
				return err
			}
			if err := ensureGroupActive(ctx, tx, student); err != nil {
				return err
			}
			if h.opts.EnforceRewardGuard && student.HasCompleted(cmd.ActivityID) {
				return shared.ErrActivityAlreadyCompleted
			}

			if err := student.Credit(cmd.Reward); err != nil {
				return err
			}
			student.MarkCompleted(cmd.ActivityID)

			entry := ledger.NewReward(h.opts.NewID(), student, cmd.ActivityID, cmd.Reward, cmd.Metadata, h.opts.Now())

			if err := tx.PutStudent(ctx, student); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}

			result = RecordRewardResult{
				TransactionID: entry.ID,
				StudentID:     student.ID,
				GroupID:       student.GroupID,
				ActivityID:    cmd.ActivityID,
				Amount:        entry.Amount,
				NewBalance:    student.Balance,
				CommittedAt:   entry.CreatedAt,
			}
			return nil
		})
	})
	observe(h.opts, "RecordReward", started, attempts, err)
	if err != nil {
		logFailure(log, "reward failed", err)
		return nil, err
	}
	result.Attempts = attempts

	log.Info("reward committed",
		logger.TransactionID(result.TransactionID),
		logger.Amount(result.Amount),
		logger.Balance(result.NewBalance),
		logger.Attempt(attempts),
	)

	event := shared.NewRewardRecordedEvent(
		result.TransactionID, result.StudentID, result.GroupID, result.ActivityID,
		result.Amount, result.NewBalance,
	)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	publish(h.opts, event)

	return &result, nil
}
