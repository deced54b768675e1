package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/circuitbreaker"
)

func TestLedgerMetrics_Counters(t *testing.T) {
	m := NewLedgerMetrics(nil)

	m.ObserveCommit("Purchase", 2, 15*time.Millisecond)
	m.ObserveCommit("Purchase", 1, 3*time.Millisecond)
	m.ObserveConflict("Purchase")
	m.ObserveFailure("Purchase", shared.ErrInsufficientStock)
	m.ObserveFailure("RecordReward", shared.ErrContention)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.committed.WithLabelValues("Purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("Purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("Purchase", "limit_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("RecordReward", "contention")))
}

func TestLedgerMetrics_EventBus(t *testing.T) {
	m := NewLedgerMetrics(nil)

	m.ObservePublish("ledger.reward_recorded")
	m.ObserveDelivery("ledger.reward_recorded", time.Millisecond, nil)
	m.ObserveDelivery("ledger.reward_recorded", time.Millisecond, errors.New("redis down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("ledger.reward_recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ledger.reward_recorded", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ledger.reward_recorded", "error")))
}

func TestLedgerMetrics_BreakerTransitions(t *testing.T) {
	m := NewLedgerMetrics(nil)

	m.ObserveBreakerTransition("redis-cache", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	m.ObserveBreakerTransition("redis-cache", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("redis-cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTrips.WithLabelValues("redis-cache")))
}

func TestLedgerMetrics_Handler(t *testing.T) {
	m := NewLedgerMetrics(nil)
	m.ObserveCommit("DeactivateGroup", 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `turing_ledger_operations_committed_total{operation="DeactivateGroup"} 1`)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{shared.ErrContention, "contention"},
		{shared.StoreFailure("Student", errors.New("eof")), "store_unavailable"},
		{shared.ErrProductNotFound, "not_found"},
		{shared.ErrInsufficientBalance, "limit_exceeded"},
		{shared.ErrGroupInactive, "invalid_state"},
		{shared.ErrAlreadyInactive, "invalid_state"},
		{shared.ErrActivityAlreadyCompleted, "already_exists"},
		{shared.ErrInvalidQuantity, "invalid_input"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}
