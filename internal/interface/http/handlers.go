package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turing-shop/turing-ledger/internal/application/command"
	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseRequest is the body of POST /api/v1/purchases.
type PurchaseRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	StudentID string `json:"student_id" validate:"required,max=128"`

	// Quantity defaults to 1.
	Quantity int `json:"quantity,omitempty"`
}

// PurchaseResponse describes a committed purchase.
type PurchaseResponse struct {
	TransactionID string    `json:"transaction_id"`
	StudentID     string    `json:"student_id"`
	GroupID       string    `json:"group_id,omitempty"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	Amount        int64     `json:"amount"`
	NewBalance    int64     `json:"new_balance"`
	NewStock      int64     `json:"new_stock"`
	Attempts      int       `json:"attempts"`
	CommittedAt   time.Time `json:"committed_at"`
}

// handlePurchase handles POST /api/v1/purchases
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Ledger.Purchase(r.Context(), command.PurchaseCommand{
		ProductID:     req.ProductID,
		StudentID:     req.StudentID,
		Quantity:      req.Quantity,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, PurchaseResponse{
		TransactionID: res.TransactionID,
		StudentID:     res.StudentID,
		GroupID:       res.GroupID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Amount:        res.Amount,
		NewBalance:    res.NewBalance,
		NewStock:      res.NewStock,
		Attempts:      res.Attempts,
		CommittedAt:   res.CommittedAt,
	})
}

// RewardRequest is the body of POST /api/v1/rewards.
type RewardRequest struct {
	ActivityID string `json:"activity_id" validate:"required,max=128"`
	StudentID  string `json:"student_id" validate:"required,max=128"`

	// Reward overrides the activity's configured reward when set.
	Reward *int64 `json:"reward,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty" validate:"max=32,dive,keys,max=64,endkeys,max=512"`
}

// RewardResponse describes a committed reward.
type RewardResponse struct {
	TransactionID string    `json:"transaction_id"`
	StudentID     string    `json:"student_id"`
	GroupID       string    `json:"group_id,omitempty"`
	ActivityID    string    `json:"activity_id"`
	Amount        int64     `json:"amount"`
	NewBalance    int64     `json:"new_balance"`
	Attempts      int       `json:"attempts"`
	CommittedAt   time.Time `json:"committed_at"`
}

// handleRecordReward handles POST /api/v1/rewards
func (s *Server) handleRecordReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if !s.decode(w, r, &req) {
		return
	}

	cmd := command.RecordRewardCommand{
		ActivityID:    req.ActivityID,
		StudentID:     req.StudentID,
		Metadata:      req.Metadata,
		CorrelationID: getRequestID(r.Context()),
	}

	if req.Reward != nil {
		cmd.Reward = *req.Reward
	} else {
		// Без явной суммы берём награду из определения активности.
		activity, err := s.deps.Ledger.Activity(r.Context(), req.ActivityID)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		if !activity.IsActive() {
			s.writeLedgerError(w, r, shared.ErrActivityInactive)
			return
		}
		cmd.Reward = activity.Reward
	}

	res, err := s.deps.Ledger.RecordReward(r.Context(), cmd)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, RewardResponse{
		TransactionID: res.TransactionID,
		StudentID:     res.StudentID,
		GroupID:       res.GroupID,
		ActivityID:    res.ActivityID,
		Amount:        res.Amount,
		NewBalance:    res.NewBalance,
		Attempts:      res.Attempts,
		CommittedAt:   res.CommittedAt,
	})
}

// DeactivateResponse describes a completed group deactivation.
type DeactivateResponse struct {
	GroupID       string    `json:"group_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
	MembersReset  []string  `json:"members_reset"`
	AdjustmentIDs []string  `json:"adjustment_ids,omitempty"`
}

// handleDeactivateGroup handles POST /api/v1/groups/{id}/deactivate
func (s *Server) handleDeactivateGroup(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Ledger.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	members := res.MembersReset
	if members == nil {
		members = []string{}
	}
	writeJSON(w, r, http.StatusOK, DeactivateResponse{
		GroupID:       res.GroupID,
		DeactivatedAt: res.DeactivatedAt,
		MembersReset:  members,
		AdjustmentIDs: res.AdjustmentIDs,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleStudentTransactions handles GET /api/v1/students/{id}/transactions?group=
func (s *Server) handleStudentTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.QueryByStudent(r.Context(), r.PathValue("id"), r.URL.Query().Get("group"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeTransactions(w, r, txs)
}

// handleGroupTransactions handles GET /api/v1/groups/{id}/transactions
func (s *Server) handleGroupTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.QueryByGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeTransactions(w, r, txs)
}

// handleReconciliation handles GET /api/v1/students/{id}/reconciliation
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ledger.Replay(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func writeTransactions(w http.ResponseWriter, r *http.Request, txs []*ledger.Transaction) {
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	writeJSONWithMeta(w, r, http.StatusOK, txs, &ResponseMeta{TotalCount: len(txs)})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING
// ══════════════════════════════════════════════════════════════════════════════

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names, not Go ones.
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// decode reads a JSON body into dst, validates it and writes a 4xx on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		case errors.Is(err, io.EOF):
			writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body is required")
		default:
			writeJSONError(w, r, http.StatusBadRequest, "invalid_body", fmt.Sprintf("Malformed JSON: %v", err))
		}
		return false
	}

	if err := requestValidate.Struct(dst); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", describeValidation(err))
		return false
	}
	return true
}

// describeValidation turns validator errors into one readable line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
