package command

import (
	"context"
	"time"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEACTIVATE GROUP COMMAND
// Terminal transition of a group. Every member that still belongs to the
// group loses membership and balance in the same transaction that flips
// the group to inactive.
// ══════════════════════════════════════════════════════════════════════════════

// DeactivateGroupCommand contains the group to deactivate.
type DeactivateGroupCommand struct {
	GroupID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c DeactivateGroupCommand) Validate() error {
	if c.GroupID == "" {
		return shared.NewDomainError("ledger", "DeactivateGroup", shared.ErrInvalidID, "group_id is required")
	}
	return nil
}

// DeactivateGroupResult contains the outcome of a deactivation.
type DeactivateGroupResult struct {
	GroupID       string
	DeactivatedAt time.Time

	// MembersReset lists the students whose membership and balance were cleared.
	MembersReset []string

	// AdjustmentIDs lists reconciliation entries, empty unless reconciliation is on.
	AdjustmentIDs []string
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// DeactivateGroupHandler handles the DeactivateGroupCommand.
type DeactivateGroupHandler struct {
	store ledger.TxRunner
	opts  Options
}

// NewDeactivateGroupHandler creates a new DeactivateGroupHandler.
func NewDeactivateGroupHandler(store ledger.TxRunner, opts Options) *DeactivateGroupHandler {
	return &DeactivateGroupHandler{
		store: store,
		opts:  opts.withDefaults(),
	}
}

// Handle runs the deactivation once. A concurrent writer on the group or any
// member makes it fail with shared.ErrContention; the caller may re-issue it,
// and a re-issue after success fails with shared.ErrAlreadyInactive.
func (h *DeactivateGroupHandler) Handle(ctx context.Context, cmd DeactivateGroupCommand) (*DeactivateGroupResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	log := h.opts.Logger.With(
		logger.GroupID(cmd.GroupID),
		logger.String(logger.RequestIDKey, cmd.CorrelationID),
	)

	var result DeactivateGroupResult
	started := time.Now()

	err := h.store.RunTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		result = DeactivateGroupResult{GroupID: cmd.GroupID}

		group, err := tx.GetGroup(ctx, cmd.GroupID)
		if err != nil {
			return err
		}
		now := h.opts.Now()
		if err := group.Deactivate(now); err != nil {
			return err
		}

		for _, memberID := range group.Roster {
			student, err := tx.GetStudent(ctx, memberID)
			if shared.IsNotFound(err) {
				log.Warn("roster member does not exist, skipping", logger.StudentID(memberID))
				continue
			}
			if err != nil {
				return err
			}
			// Students that moved to another group keep their state.
			if student.GroupID != group.ID {
				continue
			}

			if h.opts.ReconcileOnDeactivate && student.Balance != 0 {
				entry := ledger.NewAdjustment(h.opts.NewID(), student, group.ID, now)
				if err := tx.InsertTransaction(ctx, entry); err != nil {
					return err
				}
				result.AdjustmentIDs = append(result.AdjustmentIDs, entry.ID)
			}

			student.ResetForDeactivation()
			if err := tx.PutStudent(ctx, student); err != nil {
				return err
			}
			result.MembersReset = append(result.MembersReset, student.ID)
		}

		if err := tx.PutGroup(ctx, group); err != nil {
			return err
		}
		result.DeactivatedAt = *group.DeactivatedAt
		return nil
	})
	if shared.IsConflict(err) {
		if h.opts.Recorder != nil {
			h.opts.Recorder.ObserveConflict("DeactivateGroup")
		}
		err = shared.ErrContention
	}
	observe(h.opts, "DeactivateGroup", started, 1, err)
	if err != nil {
		logFailure(log, "group deactivation failed", err)
		return nil, err
	}

	log.Info("group deactivated",
		logger.Int("members_reset", len(result.MembersReset)),
		logger.Int("adjustments", len(result.AdjustmentIDs)),
	)

	event := shared.NewGroupDeactivatedEvent(
		result.GroupID, result.MembersReset, result.DeactivatedAt, h.opts.ReconcileOnDeactivate,
	)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	publish(h.opts, event)

	return &result, nil
}
