// Package eventhandler содержит обработчики доменных событий ledger.
// Обработчики реагируют на уже закоммиченные изменения и запускают
// побочные эффекты, например сброс кешей.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// CACHE INVALIDATION HANDLER
// Сбрасывает закешированные выборки транзакций, которые затронула запись.
//
// Работает по Payload(), а не по конкретному типу события: события,
// пришедшие через Redis от других инстансов, восстанавливаются без типа.
// ═══════════════════════════════════════════════════════════════════════════

// TransactionCacheInvalidator drops cached transaction lists.
type TransactionCacheInvalidator interface {
	InvalidateStudent(ctx context.Context, studentID string) error
	InvalidateGroup(ctx context.Context, groupID string) error
}

// InvalidateCacheHandler keeps the transaction cache consistent with the ledger.
type InvalidateCacheHandler struct {
	cache   TransactionCacheInvalidator
	logger  *slog.Logger
	timeout time.Duration
}

// NewInvalidateCacheHandler creates the handler. timeout bounds each event.
func NewInvalidateCacheHandler(cache TransactionCacheInvalidator, logger *slog.Logger, timeout time.Duration) *InvalidateCacheHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &InvalidateCacheHandler{
		cache:   cache,
		logger:  logger.With("handler", "invalidate_cache"),
		timeout: timeout,
	}
}

// Register subscribes the handler to every ledger event.
func (h *InvalidateCacheHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventPurchaseCompleted,
		shared.EventRewardRecorded,
		shared.EventGroupDeactivated,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *InvalidateCacheHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	payload := event.Payload()
	groupID, _ := payload["group_id"].(string)

	var students []string
	switch event.EventType() {
	case shared.EventPurchaseCompleted, shared.EventRewardRecorded:
		if id, _ := payload["student_id"].(string); id != "" {
			students = append(students, id)
		}
	case shared.EventGroupDeactivated:
		students = memberIDs(payload["member_ids"])
	default:
		h.logger.Warn("unexpected event", "event_type", event.EventType())
		return nil
	}

	var firstErr error
	for _, id := range students {
		if err := h.cache.InvalidateStudent(ctx, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalidate student %s: %w", id, err)
		}
	}
	if groupID != "" {
		if err := h.cache.InvalidateGroup(ctx, groupID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalidate group %s: %w", groupID, err)
		}
	}

	if firstErr != nil {
		h.logger.Error("cache invalidation failed", "event_type", event.EventType(), "error", firstErr)
		return firstErr
	}

	h.logger.Debug("cache invalidated",
		"event_type", event.EventType(),
		"students", len(students),
		"group_id", groupID,
	)
	return nil
}

// memberIDs accepts both []string (local events) and []interface{} (decoded JSON).
func memberIDs(v any) []string {
	switch ids := v.(type) {
	case []string:
		return ids
	case []interface{}:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
