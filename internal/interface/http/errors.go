package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorMapping ties a ledger error to a status and a stable code.
type errorMapping struct {
	target error
	status int
	code   string
}

// ledgerErrors is checked in order; specific errors come before their kinds.
var ledgerErrors = []errorMapping{
	{shared.ErrConcurrentModification, http.StatusConflict, "contention"},
	{shared.ErrServiceUnavailable, http.StatusServiceUnavailable, "store_unavailable"},

	{shared.ErrStudentNotFound, http.StatusNotFound, "student_not_found"},
	{shared.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{shared.ErrGroupNotFound, http.StatusNotFound, "group_not_found"},
	{shared.ErrActivityNotFound, http.StatusNotFound, "activity_not_found"},
	{shared.ErrNotFound, http.StatusNotFound, "not_found"},

	{shared.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, "insufficient_stock"},
	{shared.ErrLimitExceeded, http.StatusUnprocessableEntity, "limit_exceeded"},

	{shared.ErrGroupInactive, http.StatusConflict, "group_inactive"},
	{shared.ErrAlreadyInactive, http.StatusConflict, "already_inactive"},
	{shared.ErrActivityInactive, http.StatusConflict, "activity_inactive"},
	{shared.ErrActivityAlreadyCompleted, http.StatusConflict, "activity_already_completed"},

	{shared.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{shared.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{shared.ErrInvalidID, http.StatusBadRequest, "invalid_id"},

	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, 499, "canceled"},
}

// statusFor returns the HTTP status and code of err.
func statusFor(err error) (int, string) {
	for _, m := range ledgerErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	if shared.IsValidation(err) {
		return http.StatusBadRequest, "invalid_input"
	}
	return http.StatusInternalServerError, "internal_server_error"
}

// writeLedgerError writes err as a JSON error. Internal details of 5xx are logged, not returned.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed",
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String(logger.RequestIDKey, getRequestID(r.Context())),
		)
		message = "An unexpected error occurred"
	}
	if status == http.StatusServiceUnavailable {
		message = "Ledger store is unavailable, try again later"
	}

	writeJSONError(w, r, status, code, message)
}
